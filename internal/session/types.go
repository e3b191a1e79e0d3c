// Package session owns conversation lifecycles: it drives generation passes,
// serializes their step events into a single ordered, sequence-numbered
// stream per session, and enforces the one-generation-at-a-time rule.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/dingjianrui/code-agent/internal/agent"
)

// Phase of a session's state machine
type Phase string

const (
	// PhaseIdle - no active generation; accepts a new message
	PhaseIdle Phase = "idle"
	// PhaseGenerating - a generation pass is pulling model output
	PhaseGenerating Phase = "generating"
	// PhaseExecuting - the pass is waiting on a sandbox call
	PhaseExecuting Phase = "executing"
	// PhaseFailed - the last generation ended with an error event;
	// the session accepts a new message
	PhaseFailed Phase = "failed"
	// PhaseCancelled - cancelled by the client; terminal
	PhaseCancelled Phase = "cancelled"
	// PhaseClosed - closed by disconnect or sweep; terminal
	PhaseClosed Phase = "closed"
)

// Terminal reports whether no further messages or events are possible
func (p Phase) Terminal() bool {
	return p == PhaseCancelled || p == PhaseClosed
}

// Busy reports whether a generation pass is in flight
func (p Phase) Busy() bool {
	return p == PhaseGenerating || p == PhaseExecuting
}

var (
	// ErrBusy is returned when a message arrives while a generation is in flight
	ErrBusy = errors.New("session busy: a generation is already in progress")
	// ErrClosed is returned for operations on a cancelled or closed session
	ErrClosed = errors.New("session is closed")
	// ErrNotFound is returned by the manager for unknown session IDs
	ErrNotFound = errors.New("session not found")
	// ErrTooManySessions is returned when the active-session cap is reached
	ErrTooManySessions = errors.New("maximum active sessions reached")
	// ErrEventsPurged is returned when a requested resume position has been
	// evicted from the session's event window
	ErrEventsPurged = errors.New("events purged from buffer")
)

// Event is a step event stamped with its session sequence number.
// Sequence numbers are strictly increasing and gapless per session,
// starting at 1, continuing across generation passes.
type Event struct {
	Seq       int             `json:"seq"`
	Timestamp time.Time       `json:"timestamp"`
	Step      agent.StepEvent `json:"step"`
}

// StepSource produces the ordered event sequence for one generation pass.
// Satisfied by *agent.Generator.
type StepSource interface {
	Generate(ctx context.Context, history []agent.Turn) <-chan agent.StepEvent
}
