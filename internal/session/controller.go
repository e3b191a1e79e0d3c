package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/dingjianrui/code-agent/internal/agent"
	"github.com/dingjianrui/code-agent/internal/logger"
	"github.com/dingjianrui/code-agent/internal/metrics"
)

// Controller owns one conversation. It serializes the step events of each
// generation pass into the session's single ordered event sequence, assigns
// gapless sequence numbers, appends completed turns to history, and enforces
// one generation pass in flight at a time.
//
// All mutation happens under mu; the pump goroutine of the active pass is the
// only writer of events, so clients observe causal production order.
type Controller struct {
	id     string
	source StepSource
	buffer *Buffer
	notify chan struct{} // wakes streaming waiters; capacity 1

	mu           sync.Mutex
	phase        Phase
	history      []agent.Turn
	seq          int
	cancelGen    context.CancelFunc
	genDone      chan struct{} // identity of the active pump; nil when none
	createdAt    time.Time
	lastActivity time.Time
}

// NewController creates an idle session controller
func NewController(id string, source StepSource, bufferSize int) *Controller {
	now := time.Now()
	return &Controller{
		id:           id,
		source:       source,
		buffer:       NewBuffer(bufferSize),
		notify:       make(chan struct{}, 1),
		phase:        PhaseIdle,
		createdAt:    now,
		lastActivity: now,
	}
}

// ID returns the session ID
func (c *Controller) ID() string {
	return c.id
}

// Phase returns the current phase
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// LastSeq returns the highest sequence number emitted so far (0 if none)
func (c *Controller) LastSeq() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// LastActivity returns the time of the most recent message or event
func (c *Controller) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// CreatedAt returns the session creation time
func (c *Controller) CreatedAt() time.Time {
	return c.createdAt
}

// History returns a copy of the conversation history
func (c *Controller) History() []agent.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]agent.Turn, len(c.history))
	copy(out, c.history)
	return out
}

// HandleMessage appends a user turn and starts a generation pass.
// Returns ErrBusy while a pass is in flight and ErrClosed once the
// session is cancelled or closed.
func (c *Controller) HandleMessage(text string) error {
	c.mu.Lock()
	if c.phase.Terminal() {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.phase.Busy() {
		c.mu.Unlock()
		return ErrBusy
	}

	now := time.Now()
	c.history = append(c.history, agent.Turn{Role: agent.RoleUser, Content: text, Timestamp: now})
	c.lastActivity = now
	c.phase = PhaseGenerating

	ctx, cancel := context.WithCancel(context.Background())
	c.cancelGen = cancel
	done := make(chan struct{})
	c.genDone = done

	history := make([]agent.Turn, len(c.history))
	copy(history, c.history)
	c.mu.Unlock()

	go c.pump(ctx, cancel, c.source.Generate(ctx, history), done)
	return nil
}

// Cancel stops the in-flight generation pass, if any. The session becomes
// terminal. Cancelling an idle or already-terminal session is a no-op.
func (c *Controller) Cancel() {
	c.mu.Lock()
	if !c.phase.Busy() {
		c.mu.Unlock()
		return
	}
	logger.Info("Session %s cancelled while %s", c.id, c.phase)
	c.phase = PhaseCancelled
	cancel := c.cancelGen
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.signal()
}

// Close makes the session terminal, cancelling any in-flight pass.
// Used on client disconnect and idle sweep. Idempotent.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.phase.Terminal() {
		c.mu.Unlock()
		return
	}
	c.phase = PhaseClosed
	cancel := c.cancelGen
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.signal()
}

// Events returns buffered events with seq > sinceSeq
func (c *Controller) Events(sinceSeq int) ([]Event, error) {
	return c.buffer.After(sinceSeq)
}

// WaitEvents blocks until events with seq > sinceSeq are available, the
// session becomes terminal (ErrClosed), or ctx is done. Used by the
// streaming transport to deliver events as they are produced.
func (c *Controller) WaitEvents(ctx context.Context, sinceSeq int) ([]Event, error) {
	for {
		events, err := c.buffer.After(sinceSeq)
		if err != nil {
			return nil, err
		}
		if len(events) > 0 {
			return events, nil
		}
		if c.Phase().Terminal() {
			return nil, ErrClosed
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.notify:
		}
	}
}

// pump drains one generation pass into the session's event sequence
func (c *Controller) pump(ctx context.Context, cancel context.CancelFunc, events <-chan agent.StepEvent, done chan struct{}) {
	defer close(done)
	defer cancel()

	start := time.Now()
	outcome := ""
	var pending strings.Builder // assistant text accumulated for the current step

	for ev := range events {
		c.mu.Lock()
		if c.phase.Terminal() {
			// Cancelled between the source emitting and us recording;
			// the result is discarded and no frame reaches the client.
			c.mu.Unlock()
			continue
		}

		c.seq++
		stamped := Event{Seq: c.seq, Timestamp: time.Now(), Step: ev}
		c.lastActivity = stamped.Timestamp

		switch ev.Type {
		case agent.EventTextDelta:
			pending.WriteString(ev.Text)

		case agent.EventExecRequest:
			if c.phase == PhaseExecuting {
				// The source contract forbids overlapping executions;
				// treat a violation as a protocol failure.
				stamped.Step = agent.StepEvent{Type: agent.EventFailed, Reason: "protocol error: overlapping execution requests"}
				c.phase = PhaseFailed
				c.appendLocked(stamped)
				c.mu.Unlock()
				cancel()
				c.signal()
				continue
			}
			c.phase = PhaseExecuting
			c.history = append(c.history, agent.Turn{Role: agent.RoleAssistant, Content: pending.String(), Timestamp: stamped.Timestamp})
			pending.Reset()

		case agent.EventExecResult:
			c.phase = PhaseGenerating
			if ev.Result != nil {
				c.history = append(c.history, agent.Turn{Role: agent.RoleTool, Content: ev.Result.Text(), Timestamp: stamped.Timestamp})
			}

		case agent.EventDone:
			c.phase = PhaseIdle
			outcome = "done"
			c.history = append(c.history, agent.Turn{Role: agent.RoleAssistant, Content: ev.FinalText, Timestamp: stamped.Timestamp})
			pending.Reset()

		case agent.EventFailed:
			c.phase = PhaseFailed
			outcome = "failed"
			pending.Reset()
		}

		c.appendLocked(stamped)
		c.mu.Unlock()
		c.signal()
	}

	c.mu.Lock()
	if c.genDone == done {
		c.genDone = nil
		c.cancelGen = nil
		if c.phase.Busy() {
			// The source closed without a terminal event, breaking its
			// contract. Cancellation sets the phase before we get here, so
			// this is a source fault; surface it as a terminal frame rather
			// than leaving stream consumers waiting.
			c.phase = PhaseFailed
			c.seq++
			stamped := Event{
				Seq:       c.seq,
				Timestamp: time.Now(),
				Step:      agent.StepEvent{Type: agent.EventFailed, Reason: "generation ended without a result"},
			}
			c.lastActivity = stamped.Timestamp
			c.appendLocked(stamped)
			outcome = "failed"
		}
	}
	if outcome == "" {
		outcome = string(c.phase)
	}
	c.mu.Unlock()

	metrics.RecordGeneration(outcome, time.Since(start).Seconds())
	c.signal()
}

// appendLocked stores an event; caller holds mu
func (c *Controller) appendLocked(ev Event) {
	c.buffer.Append(ev)
	metrics.EventsEmitted.WithLabelValues(string(ev.Step.Type)).Inc()
}

// signal wakes at most one streaming waiter
func (c *Controller) signal() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}
