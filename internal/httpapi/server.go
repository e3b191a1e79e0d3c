// Package httpapi is the HTTP transport for session streams: REST endpoints
// to open sessions, send messages, cancel, and poll, plus the long-lived SSE
// stream endpoint.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dingjianrui/code-agent/internal/auth"
	"github.com/dingjianrui/code-agent/internal/config"
	"github.com/dingjianrui/code-agent/internal/logger"
	"github.com/dingjianrui/code-agent/internal/metrics"
	"github.com/dingjianrui/code-agent/internal/session"
	"github.com/dingjianrui/code-agent/internal/validation"
)

// Server handles the HTTP API for session management and streaming
type Server struct {
	manager         *session.Manager
	maxMessageBytes int
}

// NewServer creates the API server over a session manager
func NewServer(manager *session.Manager, limits config.LimitsConfig) *Server {
	maxBytes := limits.MaxMessageBytes
	if maxBytes <= 0 {
		maxBytes = config.DefaultMaxMessageBytes
	}
	return &Server{manager: manager, maxMessageBytes: maxBytes}
}

// Handler builds the full route tree. store and limiter may be nil to
// disable authentication (local development).
func (s *Server) Handler(store *auth.Store, limiter *auth.RateLimiter) http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /v1/sessions", s.handleOpen)
	api.HandleFunc("POST /v1/sessions/{id}/messages", s.handleMessage)
	api.HandleFunc("POST /v1/sessions/{id}/cancel", s.handleCancel)
	api.HandleFunc("DELETE /v1/sessions/{id}", s.handleClose)
	api.HandleFunc("GET /v1/sessions/{id}/events", s.handlePoll)
	api.HandleFunc("GET /v1/stream", s.handleStream)

	var protected http.Handler = api
	if limiter != nil {
		protected = auth.RateLimitMiddleware(limiter)(protected)
	}
	if store != nil {
		protected = auth.Middleware(store)(protected)
	}

	mux := http.NewServeMux()
	mux.Handle("/v1/", protected)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return metrics.Middleware(mux)
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	c, err := s.manager.Open()
	if errors.Is(err, session.ErrTooManySessions) {
		writeJSONError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": c.ID()})
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	c, ok := s.session(w, r)
	if !ok {
		return
	}

	var body struct {
		Message string `json:"message"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, int64(s.maxMessageBytes)+1024)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validation.ValidateMessage(body.Message, s.maxMessageBytes); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch err := c.HandleMessage(body.Message); {
	case errors.Is(err, session.ErrBusy):
		writeJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrClosed):
		writeJSONError(w, http.StatusGone, err.Error())
	case err != nil:
		writeJSONError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusAccepted, map[string]any{
			"session_id": c.ID(),
			"phase":      c.Phase(),
		})
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	c, ok := s.session(w, r)
	if !ok {
		return
	}
	c.Cancel()
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": c.ID(),
		"phase":      c.Phase(),
	})
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	c, ok := s.session(w, r)
	if !ok {
		return
	}
	s.manager.Remove(c.ID())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	c, ok := s.session(w, r)
	if !ok {
		return
	}

	since, err := parseSince(r.URL.Query().Get("since"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := c.Events(since)
	if err != nil {
		// The requested window was purged from the ring
		writeJSONError(w, http.StatusGone, err.Error())
		return
	}

	lastSeq := since
	if len(events) > 0 {
		lastSeq = events[len(events)-1].Seq
	}
	if events == nil {
		events = []session.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": c.ID(),
		"phase":      c.Phase(),
		"events":     events,
		"last_seq":   lastSeq,
	})
}

// session resolves the {id} path segment to a live controller
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Controller, bool) {
	id := r.PathValue("id")
	if err := validation.ValidateSessionID(id); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	c, err := s.manager.Get(id)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	return c, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
