package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dingjianrui/code-agent/internal/model"
	"github.com/dingjianrui/code-agent/internal/sandbox"
)

// scriptedEngine replays canned responses, one per Stream call,
// streaming each response as word-sized deltas.
type scriptedEngine struct {
	mu        sync.Mutex
	responses []string
	calls     [][]model.Message
	err       error
}

func (e *scriptedEngine) Stream(ctx context.Context, messages []model.Message, onDelta func(string) error) (string, error) {
	e.mu.Lock()
	e.calls = append(e.calls, messages)
	if e.err != nil {
		err := e.err
		e.mu.Unlock()
		return "", err
	}
	if len(e.responses) == 0 {
		e.mu.Unlock()
		return "", errors.New("no scripted response left")
	}
	resp := e.responses[0]
	e.responses = e.responses[1:]
	e.mu.Unlock()

	var full strings.Builder
	for _, word := range strings.SplitAfter(resp, " ") {
		if err := ctx.Err(); err != nil {
			return full.String(), err
		}
		full.WriteString(word)
		if err := onDelta(word); err != nil {
			return full.String(), err
		}
	}
	return full.String(), nil
}

// scriptedSandbox replays canned outcomes, one per Execute call
type scriptedSandbox struct {
	mu       sync.Mutex
	outcomes []*sandbox.Outcome
	codes    []string
	block    chan struct{} // when set, Execute waits for it or ctx
	err      error         // when set, Execute fails outright
}

func (s *scriptedSandbox) Execute(ctx context.Context, code string, timeout time.Duration) (*sandbox.Outcome, error) {
	s.mu.Lock()
	s.codes = append(s.codes, code)
	block := s.block
	s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.outcomes) == 0 {
		return &sandbox.Outcome{Kind: sandbox.OutcomeTransportError, Message: "no scripted outcome"}, nil
	}
	out := s.outcomes[0]
	s.outcomes = s.outcomes[1:]
	return out, nil
}

func collect(t *testing.T, events <-chan StepEvent) []StepEvent {
	t.Helper()
	var result []StepEvent
	for ev := range events {
		result = append(result, ev)
	}
	return result
}

// eventTypes summarizes a pass, collapsing consecutive deltas into one entry
func eventTypes(events []StepEvent) []EventType {
	var types []EventType
	for _, ev := range events {
		if ev.Type == EventTextDelta && len(types) > 0 && types[len(types)-1] == EventTextDelta {
			continue
		}
		types = append(types, ev.Type)
	}
	return types
}

func TestGenerator_TextOnlyPass(t *testing.T) {
	engine := &scriptedEngine{responses: []string{"The answer is 4."}}
	sb := &scriptedSandbox{}
	gen := NewGenerator(engine, sb, Options{})

	events := collect(t, gen.Generate(context.Background(), []Turn{
		{Role: RoleUser, Content: "what is 2+2?"},
	}))

	types := eventTypes(events)
	want := []EventType{EventTextDelta, EventDone}
	if len(types) != len(want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event types = %v, want %v", types, want)
		}
	}

	last := events[len(events)-1]
	if last.FinalText != "The answer is 4." {
		t.Errorf("FinalText = %q, want full model output", last.FinalText)
	}
	if len(sb.codes) != 0 {
		t.Errorf("sandbox called %d times, want 0", len(sb.codes))
	}
}

func TestGenerator_ExecutionPass(t *testing.T) {
	engine := &scriptedEngine{responses: []string{
		"Let me compute\n```python\nprint(2+2)\n```",
		"The answer is 4",
	}}
	sb := &scriptedSandbox{outcomes: []*sandbox.Outcome{
		{Kind: sandbox.OutcomeSuccess, Stdout: "4"},
	}}
	gen := NewGenerator(engine, sb, Options{})

	events := collect(t, gen.Generate(context.Background(), []Turn{
		{Role: RoleUser, Content: "2+2"},
	}))

	types := eventTypes(events)
	want := []EventType{EventTextDelta, EventExecRequest, EventExecResult, EventTextDelta, EventDone}
	if len(types) != len(want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event types = %v, want %v", types, want)
		}
	}

	// The execution request carries the extracted code
	for _, ev := range events {
		if ev.Type == EventExecRequest && ev.Code != "print(2+2)" {
			t.Errorf("exec request code = %q, want print(2+2)", ev.Code)
		}
		if ev.Type == EventExecResult && ev.Result.Stdout != "4" {
			t.Errorf("exec result stdout = %q, want 4", ev.Result.Stdout)
		}
	}

	// The second model call sees the execution output folded in
	if len(engine.calls) != 2 {
		t.Fatalf("engine calls = %d, want 2", len(engine.calls))
	}
	second := engine.calls[1]
	lastMsg := second[len(second)-1]
	if lastMsg.Role != model.RoleUser || lastMsg.Content != "4" {
		t.Errorf("folded message = %+v, want user role with output 4", lastMsg)
	}
}

func TestGenerator_RuntimeErrorContinues(t *testing.T) {
	engine := &scriptedEngine{responses: []string{
		"```python\n1/0\n```",
		"That code failed, sorry.",
	}}
	sb := &scriptedSandbox{outcomes: []*sandbox.Outcome{
		{Kind: sandbox.OutcomeRuntimeError, Message: "division by zero"},
	}}
	gen := NewGenerator(engine, sb, Options{})

	events := collect(t, gen.Generate(context.Background(), []Turn{{Role: RoleUser, Content: "1/0"}}))

	last := events[len(events)-1]
	if last.Type != EventDone {
		t.Fatalf("terminal event = %v, want done (runtime errors are not fatal)", last.Type)
	}

	var sawErrorResult bool
	for _, ev := range events {
		if ev.Type == EventExecResult && ev.Result.IsError() {
			sawErrorResult = true
		}
	}
	if !sawErrorResult {
		t.Error("no exec_result carrying the runtime error was emitted")
	}
}

func TestGenerator_TimeoutContinues(t *testing.T) {
	engine := &scriptedEngine{responses: []string{
		"```python\nwhile True: pass\n```",
		"The computation timed out.",
	}}
	sb := &scriptedSandbox{outcomes: []*sandbox.Outcome{
		{Kind: sandbox.OutcomeTimedOut, Message: "no response within 60s"},
	}}
	gen := NewGenerator(engine, sb, Options{})

	events := collect(t, gen.Generate(context.Background(), []Turn{{Role: RoleUser, Content: "loop"}}))

	last := events[len(events)-1]
	if last.Type != EventDone {
		t.Fatalf("terminal event = %v, want done", last.Type)
	}
}

func TestGenerator_TransportErrorFails(t *testing.T) {
	engine := &scriptedEngine{responses: []string{"```python\nprint(1)\n```"}}
	sb := &scriptedSandbox{outcomes: []*sandbox.Outcome{
		{Kind: sandbox.OutcomeTransportError, Message: "connection refused"},
	}}
	gen := NewGenerator(engine, sb, Options{})

	events := collect(t, gen.Generate(context.Background(), []Turn{{Role: RoleUser, Content: "hi"}}))

	last := events[len(events)-1]
	if last.Type != EventFailed {
		t.Fatalf("terminal event = %v, want error", last.Type)
	}
	if !strings.Contains(last.Reason, "sandbox unreachable") {
		t.Errorf("Reason = %q, want sandbox unreachable", last.Reason)
	}
}

func TestGenerator_SandboxErrorFails(t *testing.T) {
	// An Execute error without cancellation must still end the pass with a
	// terminal event, or a streaming consumer would wait forever
	engine := &scriptedEngine{responses: []string{"```python\nprint(1)\n```"}}
	sb := &scriptedSandbox{err: errors.New("missing protocol scheme")}
	gen := NewGenerator(engine, sb, Options{})

	events := collect(t, gen.Generate(context.Background(), []Turn{{Role: RoleUser, Content: "hi"}}))

	last := events[len(events)-1]
	if last.Type != EventFailed {
		t.Fatalf("terminal event = %v, want error", last.Type)
	}
	if !strings.Contains(last.Reason, "sandbox call failed") {
		t.Errorf("Reason = %q, want sandbox call failed", last.Reason)
	}
}

func TestGenerator_EngineErrorFails(t *testing.T) {
	engine := &scriptedEngine{err: errors.New("upstream 500")}
	gen := NewGenerator(engine, &scriptedSandbox{}, Options{})

	events := collect(t, gen.Generate(context.Background(), []Turn{{Role: RoleUser, Content: "hi"}}))

	if len(events) != 1 || events[0].Type != EventFailed {
		t.Fatalf("events = %v, want a single error event", events)
	}
}

func TestGenerator_StepLimit(t *testing.T) {
	// Every turn produces code, so the pass can only end via the step cap
	engine := &scriptedEngine{responses: []string{
		"```python\nprint(1)\n```",
		"```python\nprint(2)\n```",
		"```python\nprint(3)\n```",
	}}
	sb := &scriptedSandbox{outcomes: []*sandbox.Outcome{
		{Kind: sandbox.OutcomeSuccess, Stdout: "1"},
		{Kind: sandbox.OutcomeSuccess, Stdout: "2"},
	}}
	gen := NewGenerator(engine, sb, Options{MaxSteps: 2})

	events := collect(t, gen.Generate(context.Background(), []Turn{{Role: RoleUser, Content: "go"}}))

	last := events[len(events)-1]
	if last.Type != EventFailed {
		t.Fatalf("terminal event = %v, want error", last.Type)
	}
	if !strings.Contains(last.Reason, "exceeded 2 steps") {
		t.Errorf("Reason = %q, want step limit message", last.Reason)
	}
}

func TestGenerator_CancelDuringExecution(t *testing.T) {
	engine := &scriptedEngine{responses: []string{"```python\nprint(1)\n```"}}
	sb := &scriptedSandbox{
		block:    make(chan struct{}),
		outcomes: []*sandbox.Outcome{{Kind: sandbox.OutcomeSuccess, Stdout: "1"}},
	}
	gen := NewGenerator(engine, sb, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := gen.Generate(ctx, []Turn{{Role: RoleUser, Content: "hi"}})

	// Drain until the exec request, then cancel while the sandbox blocks
	var got []StepEvent
	for ev := range events {
		got = append(got, ev)
		if ev.Type == EventExecRequest {
			cancel()
		}
	}

	last := got[len(got)-1]
	if last.Type != EventExecRequest {
		t.Errorf("last event = %v, want exec_request (no events after cancel)", last.Type)
	}
	for _, ev := range got {
		if ev.IsTerminal() {
			t.Errorf("terminal event %v emitted after cancellation", ev.Type)
		}
	}
}

func TestGenerator_HistoryIncluded(t *testing.T) {
	engine := &scriptedEngine{responses: []string{"Hello again."}}
	gen := NewGenerator(engine, &scriptedSandbox{}, Options{SystemPrompt: "be brief"})

	history := []Turn{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
		{Role: RoleUser, Content: "hi again"},
	}
	collect(t, gen.Generate(context.Background(), history))

	if len(engine.calls) != 1 {
		t.Fatalf("engine calls = %d, want 1", len(engine.calls))
	}
	msgs := engine.calls[0]
	if len(msgs) != 4 {
		t.Fatalf("message count = %d, want system + 3 history", len(msgs))
	}
	if msgs[0].Role != model.RoleSystem || msgs[0].Content != "be brief" {
		t.Errorf("first message = %+v, want system prompt", msgs[0])
	}
	if msgs[2].Role != model.RoleAssistant {
		t.Errorf("assistant turn mapped to %v, want assistant", msgs[2].Role)
	}
}
