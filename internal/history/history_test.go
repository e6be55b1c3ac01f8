package history

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"palaver/internal/db"
	"palaver/internal/transcript"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	d, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	require.NoError(t, d.Migrate(context.Background()))
	return NewStore(d)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	msgs := []transcript.Message{
		transcript.User("what's today's date"),
		transcript.Function("today", "2026-10-18T09:30:00Z"),
		transcript.Assistant("It is the 18th."),
	}

	require.NoError(t, s.Save(ctx, "2026-10-18_093000", msgs))
	got, err := s.Load(ctx, "2026-10-18_093000")
	require.NoError(t, err)
	assert.Equal(t, msgs, got)

	require.NoError(t, s.Save(ctx, "2026-10-18_093000", got[:1]))
	got, err = s.Load(ctx, "2026-10-18_093000")
	require.NoError(t, err)
	assert.Equal(t, msgs[:1], got)
}

func TestSaveEmptyTranscript(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "a", nil))
	got, err := s.Load(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLoadUnknownSession(t *testing.T) {
	s := newStore(t)
	_, err := s.Load(context.Background(), "missing")

	var pe *transcript.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}

func TestList(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	for _, id := range []string{"2026-10-18_120000", "2025-01-01_000000", "2026-01-01_000000"} {
		require.NoError(t, s.Save(ctx, id, []transcript.Message{transcript.User(id)}))
	}

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-01_000000", "2026-01-01_000000", "2026-10-18_120000"}, ids)
}
