package history

import (
	"context"
	"database/sql"
	"fmt"

	"palaver/internal/db"
	"palaver/internal/transcript"
)

// Store persists transcripts in SQLite, one row per message. It has the same
// overwrite-on-save semantics as the JSONL file store.
type Store struct {
	db   *db.DB
	conn *sql.DB
}

func NewStore(database *db.DB) *Store {
	return &Store{db: database, conn: database.Conn()}
}

func (s *Store) Save(ctx context.Context, sessionID string, msgs []transcript.Message) error {
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (id) VALUES (?)
			ON CONFLICT(id) DO UPDATE SET updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')`,
			sessionID,
		); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, `INSERT INTO messages (session_id, seq, role, name, content) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, m := range msgs {
			if _, err := stmt.ExecContext(ctx, sessionID, i, string(m.Role), m.Name, m.Content); err != nil {
				return fmt.Errorf("message %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return persistErr("save", sessionID, err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, sessionID string) ([]transcript.Message, error) {
	var exists int
	err := s.conn.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, sessionID).Scan(&exists)
	if err != nil {
		return nil, persistErr("load", sessionID, err)
	}

	rows, err := s.conn.QueryContext(ctx, `
		SELECT role, name, content FROM messages
		WHERE session_id = ?
		ORDER BY seq`, sessionID)
	if err != nil {
		return nil, persistErr("load", sessionID, err)
	}
	defer rows.Close()

	var msgs []transcript.Message
	for rows.Next() {
		var m transcript.Message
		var role string
		if err := rows.Scan(&role, &m.Name, &m.Content); err != nil {
			return msgs, persistErr("load", sessionID, err)
		}
		m.Role = transcript.Role(role)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return msgs, persistErr("load", sessionID, err)
	}
	return msgs, nil
}

// List returns session ids in ascending order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT id FROM sessions ORDER BY id`)
	if err != nil {
		return nil, persistErr("list", "", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, persistErr("list", "", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list", "", err)
	}
	return ids, nil
}

func persistErr(op, sessionID string, err error) error {
	return &transcript.PersistenceError{Op: op, Path: "sqlite:" + sessionID, Err: err}
}
