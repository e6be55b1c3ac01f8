package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"palaver/internal/agent"
	"palaver/internal/transcript"
)

// RunnerFactory builds the turn runner for a catalogue key. It fails for
// unknown keys.
type RunnerFactory func(model string) (agent.Turner, error)

type Option func(*Manager)

// WithStore enables persistence. Without a store the manager keeps
// sessions in memory only.
func WithStore(store Store, persist Persist) Option {
	return func(m *Manager) {
		m.store = store
		m.persist = persist
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

type Manager struct {
	runners      RunnerFactory
	defaultModel string
	store        Store
	persist      Persist
	now          func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(runners RunnerFactory, defaultModel string, opts ...Option) *Manager {
	m := &Manager{
		runners:      runners,
		defaultModel: defaultModel,
		persist:      PersistOff,
		now:          time.Now,
		sessions:     make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.store == nil {
		m.persist = PersistOff
	}
	return m
}

func (m *Manager) DefaultModel() string { return m.defaultModel }

// New creates an empty session. An empty model selects the default. The id
// avoids both live sessions and transcripts already in the store.
func (m *Manager) New(ctx context.Context, model string) (*Session, error) {
	if model == "" {
		model = m.defaultModel
	}
	if _, err := m.runners(model); err != nil {
		return nil, err
	}

	stored := make(map[string]bool)
	if m.store != nil {
		ids, err := m.store.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing sessions: %w", err)
		}
		for _, id := range ids {
			stored[id] = true
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	base := transcript.NewID(m.now())
	id := base
	for n := 2; m.sessions[id] != nil || stored[id]; n++ {
		id = base + "-" + strconv.Itoa(n)
	}
	s := newSession(id, model, transcript.New())
	m.sessions[id] = s
	slog.Info("session created", "session_id", id, "model", model)
	return s, nil
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// Open returns the live session or reloads it from the store with the
// default model.
func (m *Manager) Open(ctx context.Context, id string) (*Session, error) {
	if s, err := m.Get(id); err == nil {
		return s, nil
	}
	if m.store == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	msgs, err := m.store.Load(ctx, id)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, sql.ErrNoRows) || errors.Is(err, transcript.ErrInvalidID) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s, nil
	}
	s := newSession(id, m.defaultModel, transcript.New(msgs...))
	m.sessions[id] = s
	slog.Info("session loaded", "session_id", id, "messages", len(msgs))
	return s, nil
}

// List returns stored and live session ids in chronological order.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	if m.store != nil {
		ids, err := m.store.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing sessions: %w", err)
		}
		for _, id := range ids {
			seen[id] = true
		}
	}
	m.mu.Lock()
	for id := range m.sessions {
		seen[id] = true
	}
	m.mu.Unlock()

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Send runs one turn on the session. Failures, including ErrNotFound and
// ErrTurnInProgress, are yielded as the final element of the sequence.
func (m *Manager) Send(ctx context.Context, id, text string) iter.Seq2[agent.PartialAnswer, error] {
	return func(yield func(agent.PartialAnswer, error) bool) {
		s, err := m.Get(id)
		if err != nil {
			yield(agent.PartialAnswer{}, err)
			return
		}
		if !s.turn.TryLock() {
			yield(agent.PartialAnswer{}, fmt.Errorf("session %s: %w", id, ErrTurnInProgress))
			return
		}
		defer s.turn.Unlock()

		runner, err := m.runners(s.Model())
		if err != nil {
			yield(agent.PartialAnswer{}, err)
			return
		}

		ctx, cancel := context.WithCancel(agent.ContextWithSessionID(ctx, s.ID))
		s.setCancel(cancel)
		defer func() {
			s.setCancel(nil)
			cancel()
		}()

		if m.persist == PersistTurn {
			defer m.checkpoint(context.WithoutCancel(ctx), s)
		}

		for answer, err := range runner.Run(ctx, s.Transcript(), text) {
			if !yield(answer, err) {
				return
			}
		}
	}
}

// SwitchModel points the session at another catalogue entry. Unless
// keepMemory is set the session starts over with an empty transcript.
func (m *Manager) SwitchModel(id, model string, keepMemory bool) (*Session, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if _, err := m.runners(model); err != nil {
		return nil, err
	}
	if !s.turn.TryLock() {
		return nil, fmt.Errorf("session %s: %w", id, ErrTurnInProgress)
	}
	defer s.turn.Unlock()

	s.mu.Lock()
	prev := s.model
	s.model = model
	if !keepMemory {
		s.transcript = transcript.New()
	}
	s.mu.Unlock()

	slog.Info("session model switched", "session_id", id, "from", prev, "to", model, "keep_memory", keepMemory)
	return s, nil
}

// Save writes the session transcript to the store.
func (m *Manager) Save(ctx context.Context, id string) error {
	if m.store == nil {
		return nil
	}
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	return m.store.Save(ctx, s.ID, s.Messages())
}

// Close saves every live session when persisting at end of session.
func (m *Manager) Close(ctx context.Context) error {
	if m.persist != PersistEnd {
		return nil
	}
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if s.Transcript().Len() == 0 {
			continue
		}
		if err := m.store.Save(ctx, s.ID, s.Messages()); err != nil {
			errs = append(errs, fmt.Errorf("saving session %s: %w", s.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) checkpoint(ctx context.Context, s *Session) {
	if err := m.store.Save(ctx, s.ID, s.Messages()); err != nil {
		slog.Warn("checkpoint failed", "session_id", s.ID, "error", err)
	}
}
