package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"palaver/internal/config"
	"palaver/internal/session"

	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Server struct {
	sessions *session.Manager
	models   []config.ModelInfo
	mux      *http.ServeMux
	handler  http.Handler
}

func NewServer(sessions *session.Manager, models []config.ModelInfo, allowedOrigins []string) *Server {
	s := &Server{
		sessions: sessions,
		models:   models,
		mux:      http.NewServeMux(),
	}
	s.routes()

	opts := cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type"},
		ExposedHeaders: []string{"X-Run-ID"},
	}
	// cors treats an empty list as "allow all"; no configured origin means
	// no cross-origin access.
	if len(allowedOrigins) == 0 {
		opts.AllowOriginFunc = func(string) bool { return false }
	}
	c := cors.New(opts)
	s.handler = otelhttp.NewHandler(c.Handler(s.mux), "gateway",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.Pattern
		}),
	)
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /v1/chat", s.handleChat)
	s.mux.HandleFunc("GET /v1/sessions", s.handleListSessions)
	s.mux.HandleFunc("POST /v1/sessions", s.handleCreateSession)
	s.mux.HandleFunc("GET /v1/sessions/{id}", s.handleGetSession)
	s.mux.HandleFunc("PUT /v1/sessions/{id}/model", s.handleSwitchModel)
	s.mux.HandleFunc("DELETE /v1/sessions/{id}/run", s.handleCancelRun)
	s.mux.HandleFunc("GET /v1/models", s.handleListModels)
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
}

func (s *Server) Handler() http.Handler { return s.handler }

// ListenAndServe serves until ctx is cancelled, then drains in-flight
// requests for up to five seconds.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.handler}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down gateway")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
