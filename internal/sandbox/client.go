// Package sandbox wraps remote code execution behind a single
// request/response contract.
//
// client.go - Client interface and execution outcome types
//
// A sandbox call always produces an Outcome describing what happened to the
// submitted code: it ran (successfully or not), it timed out, or the sandbox
// could not be reached. Transport problems and timeouts are surfaced as
// outcomes rather than Go errors so callers can fold them into the event
// stream; the error return is reserved for caller-side cancellation.
//
// Retry policy deliberately does not live here. The session layer decides
// which outcomes are worth retrying.
package sandbox

import (
	"context"
	"fmt"
	"time"
)

// OutcomeKind classifies the result of a sandbox execution
type OutcomeKind string

const (
	// OutcomeSuccess - code ran to completion
	OutcomeSuccess OutcomeKind = "success"
	// OutcomeRuntimeError - the submitted code itself failed; not a system fault
	OutcomeRuntimeError OutcomeKind = "runtime_error"
	// OutcomeTimedOut - execution exceeded the deadline; the remote side may
	// still complete with side effects
	OutcomeTimedOut OutcomeKind = "timed_out"
	// OutcomeTransportError - the sandbox service could not be reached
	OutcomeTransportError OutcomeKind = "transport_error"
)

// Outcome is the result of one sandbox execution
type Outcome struct {
	Kind OutcomeKind `json:"kind"`

	// Success fields
	Stdout string `json:"stdout,omitempty"`
	Stderr string `json:"stderr,omitempty"`
	Value  string `json:"value,omitempty"`

	// Failure fields
	Message   string `json:"message,omitempty"`
	Traceback string `json:"traceback,omitempty"`
}

// IsError returns true for any non-success outcome
func (o *Outcome) IsError() bool {
	return o.Kind != OutcomeSuccess
}

// Text renders the outcome as plain text suitable for folding back into the
// model's conversation context.
func (o *Outcome) Text() string {
	switch o.Kind {
	case OutcomeSuccess:
		text := o.Stdout
		if o.Stderr != "" {
			if text != "" {
				text += "\n"
			}
			text += o.Stderr
		}
		if text == "" && o.Value != "" {
			text = o.Value
		}
		return text
	case OutcomeRuntimeError:
		if o.Traceback != "" {
			return fmt.Sprintf("Error: %s\n%s", o.Message, o.Traceback)
		}
		return fmt.Sprintf("Error: %s", o.Message)
	case OutcomeTimedOut:
		return fmt.Sprintf("Error: execution timed out: %s", o.Message)
	case OutcomeTransportError:
		return fmt.Sprintf("Error: sandbox unreachable: %s", o.Message)
	}
	return o.Message
}

// Client executes code in a sandbox. Implementations must enforce the
// timeout locally even if the backend never responds, returning an
// OutcomeTimedOut rather than blocking indefinitely.
type Client interface {
	Execute(ctx context.Context, code string, timeout time.Duration) (*Outcome, error)
}
