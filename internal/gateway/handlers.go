package gateway

import (
	"errors"
	"log/slog"
	"net/http"

	"palaver/internal/agent"
	"palaver/internal/session"
	"palaver/internal/transcript"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type textEvent struct {
	Text string `json:"text"`
}

type errorEvent struct {
	Error string `json:"error"`
}

type doneEvent struct {
	SessionID string `json:"session_id"`
	RunID     string `json:"run_id"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	ctx := r.Context()
	var (
		sess *session.Session
		err  error
	)
	if req.SessionID == "" {
		sess, err = s.sessions.New(ctx, "")
	} else {
		sess, err = s.sessions.Open(ctx, req.SessionID)
	}
	if err != nil {
		writeSessionError(w, err)
		return
	}

	runID := uuid.NewString()
	ctx = agent.ContextWithRunID(ctx, runID)
	w.Header().Set("X-Run-ID", runID)
	log := slog.With("session_id", sess.ID, "run_id", runID)

	sse := NewSSEWriter(w)
	for answer, err := range s.sessions.Send(ctx, sess.ID, req.Message) {
		if err != nil {
			log.Warn("chat turn failed", "error", err)
			sse.Send("error", errorEvent{Error: err.Error()})
			break
		}
		event := "partial"
		if answer.Status {
			event = "status"
		}
		if err := sse.Send(event, textEvent{Text: answer.VisibleText}); err != nil {
			log.Debug("client went away", "error", err)
			return
		}
	}
	sse.Send("done", doneEvent{SessionID: sess.ID, RunID: runID})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	ids, err := s.sessions.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": ids})
}

type createSessionRequest struct {
	Model string `json:"model"`
}

type sessionResponse struct {
	ID       string               `json:"id"`
	Model    string               `json:"model"`
	Messages []transcript.Message `json:"messages"`
}

func newSessionResponse(s *session.Session) sessionResponse {
	msgs := s.Messages()
	if msgs == nil {
		msgs = []transcript.Message{}
	}
	return sessionResponse{ID: s.ID, Model: s.Model(), Messages: msgs}
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	sess, err := s.sessions.New(r.Context(), req.Model)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, newSessionResponse(sess))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Open(r.Context(), r.PathValue("id"))
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(sess))
}

type switchModelRequest struct {
	Model      string `json:"model"`
	KeepMemory bool   `json:"keep_memory"`
}

func (s *Server) handleSwitchModel(w http.ResponseWriter, r *http.Request) {
	var req switchModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Model == "" {
		writeError(w, http.StatusBadRequest, "model is required")
		return
	}
	id := r.PathValue("id")
	if _, err := s.sessions.Open(r.Context(), id); err != nil {
		writeSessionError(w, err)
		return
	}
	sess, err := s.sessions.SwitchModel(id, req.Model, req.KeepMemory)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(sess))
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": sess.Cancel()})
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"models": s.models})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("writing response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorEvent{Error: msg})
}

func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrTurnInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, new(*transcript.PersistenceError)):
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}
