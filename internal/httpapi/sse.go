package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dingjianrui/code-agent/internal/logger"
	"github.com/dingjianrui/code-agent/internal/session"
	"github.com/dingjianrui/code-agent/internal/stream"
	"github.com/dingjianrui/code-agent/internal/validation"
)

// keepAliveInterval bounds how long the SSE connection stays silent
const keepAliveInterval = 15 * time.Second

// handleStream serves GET /v1/stream?session={id}: a long-lived SSE
// connection delivering the session's events in sequence order. The stream
// ends after a terminal frame (done or error) or when the session becomes
// terminal. A reconnect resumes from the Last-Event-ID header (or ?since=).
//
// Client disconnect while a generation is in flight cancels it; a sandbox
// call already submitted finishes server-side but produces no more frames.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session")
	if err := validation.ValidateSessionID(id); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	c, err := s.manager.Get(id)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}

	since, err := parseSince(r.Header.Get("Last-Event-ID"))
	if err == nil && since == 0 {
		since, err = parseSince(r.URL.Query().Get("since"))
	}
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := c.Events(since); err != nil {
		// Resume point already purged from the ring
		writeJSONError(w, http.StatusGone, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	enc := stream.NewEncoder(w)
	logger.Info("Stream opened for session %s (since seq %d)", c.ID(), since)

	for {
		events, err := s.waitWithKeepAlive(r.Context(), c, enc, since)
		switch {
		case errors.Is(err, session.ErrClosed):
			return
		case errors.Is(err, session.ErrEventsPurged):
			// Consumer fell behind the event window; end the stream so it
			// can re-poll, but leave the generation running
			logger.Info("Stream for session %s fell behind the event window", c.ID())
			return
		case err != nil:
			// Client went away; stop the in-flight generation
			logger.Info("Stream client disconnected from session %s", c.ID())
			c.Cancel()
			return
		}

		for _, ev := range events {
			if err := enc.WriteEvent(ev); err != nil {
				c.Cancel()
				return
			}
			since = ev.Seq
			if ev.Step.IsTerminal() {
				return
			}
		}
	}
}

// waitWithKeepAlive blocks for new events, emitting comment frames while
// the session is quiet so intermediaries keep the connection open
func (s *Server) waitWithKeepAlive(ctx context.Context, c *session.Controller, enc *stream.Encoder, since int) ([]session.Event, error) {
	for {
		waitCtx, cancel := context.WithTimeout(ctx, keepAliveInterval)
		events, err := c.WaitEvents(waitCtx, since)
		cancel()

		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			if err := enc.WriteComment("keep-alive"); err != nil {
				return nil, err
			}
			continue
		}
		return events, err
	}
}

func parseSince(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	since, err := strconv.Atoi(raw)
	if err != nil || since < 0 {
		return 0, fmt.Errorf("invalid since value %q", raw)
	}
	return since, nil
}
