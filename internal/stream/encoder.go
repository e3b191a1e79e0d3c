// Package stream implements the wire framing for session event streams:
// server-sent events with the event type as the SSE event name, the session
// sequence number as the SSE id, and the step payload as a single JSON data
// line. JSON escaping keeps multi-line text from breaking frame boundaries;
// the id lets clients detect gaps and resume with Last-Event-ID.
package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/dingjianrui/code-agent/internal/session"
)

// Encoder writes session events as SSE frames, flushing after each frame
// when the underlying writer supports it.
type Encoder struct {
	w       io.Writer
	flusher http.Flusher
}

// NewEncoder creates an encoder over w
func NewEncoder(w io.Writer) *Encoder {
	e := &Encoder{w: w}
	if f, ok := w.(http.Flusher); ok {
		e.flusher = f
	}
	return e
}

// WriteEvent emits one frame. Terminal events (done, error) are ordinary
// frames; their event name is the end-of-stream marker for clients.
func (e *Encoder) WriteEvent(ev session.Event) error {
	payload, err := json.Marshal(ev.Step)
	if err != nil {
		return fmt.Errorf("encode event %d: %w", ev.Seq, err)
	}

	if _, err := fmt.Fprintf(e.w, "event: %s\nid: %d\ndata: %s\n\n", ev.Step.Type, ev.Seq, payload); err != nil {
		return fmt.Errorf("write frame %d: %w", ev.Seq, err)
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}

// WriteComment emits an SSE comment line, used as a keep-alive
func (e *Encoder) WriteComment(text string) error {
	if _, err := fmt.Fprintf(e.w, ": %s\n\n", text); err != nil {
		return err
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}
