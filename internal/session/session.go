package session

import (
	"context"
	"errors"
	"sync"

	"palaver/internal/transcript"
)

var (
	ErrTurnInProgress = errors.New("a turn is already in progress")
	ErrNotFound       = errors.New("session not found")
)

// Store persists transcripts by session id. Save overwrites.
type Store interface {
	Save(ctx context.Context, id string, msgs []transcript.Message) error
	Load(ctx context.Context, id string) ([]transcript.Message, error)
	List(ctx context.Context) ([]string, error)
}

// Persist controls when the manager checkpoints transcripts.
type Persist string

const (
	PersistTurn Persist = "turn"
	PersistEnd  Persist = "end"
	PersistOff  Persist = "off"
)

// Session is one chat context. At most one turn runs at a time.
type Session struct {
	ID string

	turn sync.Mutex

	mu         sync.Mutex
	model      string
	transcript *transcript.Transcript
	cancel     context.CancelFunc
}

func newSession(id, model string, t *transcript.Transcript) *Session {
	return &Session{ID: id, model: model, transcript: t}
}

// Model returns the catalogue key the session currently talks to.
func (s *Session) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

func (s *Session) Transcript() *transcript.Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript
}

func (s *Session) Messages() []transcript.Message {
	return s.Transcript().Messages()
}

// Cancel aborts the in-flight turn. It reports whether a turn was running.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel()
	return true
}

func (s *Session) setCancel(cancel context.CancelFunc) {
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
}
