// Package agent implements the step-by-step generation loop.
//
// types.go - Shared types for agent step events
//
// A generation pass produces an ordered sequence of StepEvents: text deltas
// interleaved with execution requests and results, terminated by exactly one
// done or error event. The session layer assigns sequence numbers; events
// here carry only their payload.
package agent

import (
	"time"

	"github.com/dingjianrui/code-agent/internal/sandbox"
)

// Role of a conversation turn
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Turn is an immutable record of one logical exchange unit.
// Never mutated after being appended to a session's history.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// EventType identifies a step event variant
type EventType string

const (
	// EventTextDelta - an incremental fragment of model text
	EventTextDelta EventType = "delta"
	// EventExecRequest - the model asked for code to be executed
	EventExecRequest EventType = "exec_request"
	// EventExecResult - outcome of an execution request
	EventExecResult EventType = "exec_result"
	// EventDone - generation completed successfully; terminal
	EventDone EventType = "done"
	// EventFailed - generation ended with an unrecoverable failure; terminal
	EventFailed EventType = "error"
)

// StepEvent is one unit of agent progress within a generation pass
type StepEvent struct {
	Type EventType `json:"type"`

	// Delta fields
	Text string `json:"text,omitempty"`

	// Execution fields
	Code   string           `json:"code,omitempty"`
	Result *sandbox.Outcome `json:"result,omitempty"`

	// Terminal fields
	FinalText string `json:"final_text,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// IsTerminal returns true for done and error events
func (e StepEvent) IsTerminal() bool {
	return e.Type == EventDone || e.Type == EventFailed
}
