// Package agent implements the step-by-step generation loop.
//
// generator.go - the generation loop (StepSource)
//
// A Generator turns a conversation history into a lazy, ordered, cancellable
// sequence of StepEvents. Each Generate call is one pass: the model streams
// text; when the completed model turn contains fenced code, the code is
// executed in the sandbox, its output folded back into the conversation, and
// the model is called again. A turn without code ends the pass.
//
// Events are delivered over an unbuffered channel, so production advances
// only as fast as the consumer drains it. Cancelling the context stops
// production at the next suspension point without a terminal event; in every
// other case the sequence ends with exactly one done or error event.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/dingjianrui/code-agent/internal/model"
	"github.com/dingjianrui/code-agent/internal/sandbox"
)

// DefaultSystemPrompt instructs the model to reply with either a code block
// to execute or plain text for the user.
const DefaultSystemPrompt = `You will be given a task to perform. You should output either
- a Python code snippet that provides the solution to the task, or a step towards the solution. Any output you want to extract from the code should be printed to the console. Code should be output in a fenced code block.
- text to be shown directly to the user, if you want to ask for more information or provide the final answer.
- use the same language as the user's input.`

// Generator drives the generation loop for one session.
// Safe for reuse across passes; each Generate call is independent.
type Generator struct {
	engine       model.Engine
	sandbox      sandbox.Client
	systemPrompt string
	execTimeout  time.Duration
	maxSteps     int
}

// Options configures a Generator
type Options struct {
	SystemPrompt string        // defaults to DefaultSystemPrompt
	ExecTimeout  time.Duration // per sandbox call
	MaxSteps     int           // bound on model turns per pass
}

// NewGenerator creates a generator over an engine and a sandbox client
func NewGenerator(engine model.Engine, sb sandbox.Client, opts Options) *Generator {
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = DefaultSystemPrompt
	}
	if opts.ExecTimeout <= 0 {
		opts.ExecTimeout = 60 * time.Second
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = 8
	}
	return &Generator{
		engine:       engine,
		sandbox:      sb,
		systemPrompt: opts.SystemPrompt,
		execTimeout:  opts.ExecTimeout,
		maxSteps:     opts.MaxSteps,
	}
}

// Generate runs one generation pass over the given history.
// The returned channel is closed when the pass ends; it is not restartable.
func (g *Generator) Generate(ctx context.Context, history []Turn) <-chan StepEvent {
	out := make(chan StepEvent)
	go g.run(ctx, history, out)
	return out
}

func (g *Generator) run(ctx context.Context, history []Turn, out chan<- StepEvent) {
	defer close(out)

	messages := g.buildMessages(history)

	for step := 0; step < g.maxSteps; step++ {
		text, err := g.engine.Stream(ctx, messages, func(delta string) error {
			return g.emit(ctx, out, StepEvent{Type: EventTextDelta, Text: delta})
		})
		if err != nil {
			if ctx.Err() != nil {
				return // cancelled: stop without a terminal event
			}
			g.emit(ctx, out, StepEvent{
				Type:   EventFailed,
				Reason: fmt.Sprintf("reasoning engine failed: %v", err),
			})
			return
		}

		messages = append(messages, model.Message{Role: model.RoleAssistant, Content: text})

		code := ExtractCodeBlocks(text)
		if code == "" {
			g.emit(ctx, out, StepEvent{Type: EventDone, FinalText: text})
			return
		}

		if err := g.emit(ctx, out, StepEvent{Type: EventExecRequest, Code: code}); err != nil {
			return
		}

		outcome, err := g.sandbox.Execute(ctx, code, g.execTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return // cancelled mid-execution: result is discarded
			}
			g.emit(ctx, out, StepEvent{
				Type:   EventFailed,
				Reason: fmt.Sprintf("sandbox call failed: %v", err),
			})
			return
		}

		if outcome.Kind == sandbox.OutcomeTransportError {
			// Retry already happened below us (session layer wraps the
			// client); a transport failure here is unrecoverable.
			g.emit(ctx, out, StepEvent{
				Type:   EventFailed,
				Reason: fmt.Sprintf("sandbox unreachable: %s", outcome.Message),
			})
			return
		}

		if err := g.emit(ctx, out, StepEvent{Type: EventExecResult, Result: outcome}); err != nil {
			return
		}

		// Fold the execution output back into the conversation so the model
		// sees it on the next turn. Runtime errors and timeouts are folded
		// too; the model may recover from them.
		messages = append(messages, model.Message{Role: model.RoleUser, Content: outcome.Text()})
	}

	g.emit(ctx, out, StepEvent{
		Type:   EventFailed,
		Reason: fmt.Sprintf("generation exceeded %d steps", g.maxSteps),
	})
}

// emit delivers an event unless the context has been cancelled
func (g *Generator) emit(ctx context.Context, out chan<- StepEvent, ev StepEvent) error {
	select {
	case out <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// buildMessages converts session history into the engine's message format
func (g *Generator) buildMessages(history []Turn) []model.Message {
	messages := make([]model.Message, 0, len(history)+1)
	messages = append(messages, model.Message{Role: model.RoleSystem, Content: g.systemPrompt})
	for _, turn := range history {
		role := model.RoleUser
		if turn.Role == RoleAssistant {
			role = model.RoleAssistant
		}
		messages = append(messages, model.Message{Role: role, Content: turn.Content})
	}
	return messages
}
