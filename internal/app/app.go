// Package app wires configuration into a running chat service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"palaver/internal/agent"
	"palaver/internal/config"
	"palaver/internal/db"
	"palaver/internal/history"
	"palaver/internal/llm"
	"palaver/internal/session"
	"palaver/internal/tools"
	"palaver/internal/trace"
	"palaver/internal/transcript"
)

type App struct {
	Config   *config.Config
	Registry *agent.Registry
	Sessions *session.Manager
	Store    session.Store

	mu        sync.Mutex
	providers map[string]llm.Provider
	newClient func(l *config.LLMConfig) llm.Provider
	closers   []func(context.Context) error
}

type Option func(*App)

// WithProviderFunc overrides how catalogue entries become providers.
func WithProviderFunc(fn func(l *config.LLMConfig) llm.Provider) Option {
	return func(a *App) { a.newClient = fn }
}

func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		Config:    cfg,
		Registry:  agent.NewRegistry(),
		providers: make(map[string]llm.Provider),
		newClient: func(l *config.LLMConfig) llm.Provider {
			return llm.NewOpenAI(l.BaseURL, l.Key())
		},
	}
	for _, opt := range opts {
		opt(a)
	}

	shutdown, err := trace.Init(ctx, trace.Config{
		Endpoint: cfg.Trace.Endpoint,
		URLPath:  cfg.Trace.URLPath,
		APIKey:   cfg.Trace.APIKey,
		Insecure: cfg.Trace.Insecure,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing tracing: %w", err)
	}
	a.closers = append(a.closers, shutdown)

	if err := tools.Register(a.Registry, tools.Options{BraveAPIKey: cfg.Services.Brave.APIKey}); err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("registering tools: %w", err)
	}

	store, err := a.openStore(ctx, cfg.Store)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.Store = store

	a.Sessions = session.NewManager(a.Runner, cfg.DefaultLLM,
		session.WithStore(store, session.Persist(cfg.Store.Persist)))
	return a, nil
}

func (a *App) openStore(ctx context.Context, cfg config.StoreConfig) (session.Store, error) {
	switch cfg.Backend {
	case "sqlite":
		database, err := db.Open(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return database.Close() })
		if err := database.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrating database: %w", err)
		}
		slog.Info("history store ready", "backend", "sqlite", "path", cfg.DBPath)
		return history.NewStore(database), nil
	default:
		fs := transcript.NewFileStore(cfg.Dir)
		if err := fs.Prepare(); err != nil {
			return nil, fmt.Errorf("preparing chat directory: %w", err)
		}
		slog.Info("history store ready", "backend", "jsonl", "dir", fs.Dir())
		return fs, nil
	}
}

// Runner builds the turn runner for a catalogue key. Tools are attached only
// to models that support function calling.
func (a *App) Runner(key string) (agent.Turner, error) {
	l, err := a.Config.LLM(key)
	if err != nil {
		return nil, err
	}
	prompt, err := a.Config.RenderSystemPrompt(key, time.Now())
	if err != nil {
		return nil, err
	}

	opts := []agent.RunnerOption{agent.WithSystemPrompt(prompt)}
	if l.Tools {
		opts = append(opts, agent.WithRegistry(a.Registry))
	}
	return agent.NewRunner(a.provider(key, l), l.Model, opts...), nil
}

func (a *App) provider(key string, l *config.LLMConfig) llm.Provider {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.providers[key]
	if !ok {
		p = a.newClient(l)
		a.providers[key] = p
	}
	return p
}

// Close flushes sessions, then releases the store and the tracer in reverse
// order of creation.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Sessions != nil {
		if err := a.Sessions.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
