package mcp

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dingjianrui/code-agent/internal/agent"
	"github.com/dingjianrui/code-agent/internal/session"
)

type scriptedSource struct {
	mu      sync.Mutex
	scripts [][]agent.StepEvent
	calls   int
}

func (f *scriptedSource) Generate(ctx context.Context, history []agent.Turn) <-chan agent.StepEvent {
	f.mu.Lock()
	var script []agent.StepEvent
	if f.calls < len(f.scripts) {
		script = f.scripts[f.calls]
	}
	f.calls++
	f.mu.Unlock()

	out := make(chan agent.StepEvent)
	go func() {
		defer close(out)
		for _, ev := range script {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func simpleScript() []agent.StepEvent {
	return []agent.StepEvent{
		{Type: agent.EventTextDelta, Text: "hello"},
		{Type: agent.EventDone, FinalText: "hello"},
	}
}

func newTestServer(t *testing.T, scripts ...[]agent.StepEvent) *Server {
	t.Helper()
	manager := session.NewManager(&scriptedSource{scripts: scripts}, 10, time.Minute, 100)
	t.Cleanup(manager.Close)
	return NewServer(manager)
}

func TestChatSend_OpensSession(t *testing.T) {
	s := newTestServer(t, simpleScript())

	_, out, err := s.handleChatSend(context.Background(), nil, ChatSendInput{Message: "hi"})
	if err != nil {
		t.Fatalf("chat_send: %v", err)
	}
	if out.SessionID == "" {
		t.Fatal("chat_send returned empty session_id")
	}

	if _, err := s.manager.Get(out.SessionID); err != nil {
		t.Errorf("session not registered: %v", err)
	}
}

func TestChatSend_RequiresMessage(t *testing.T) {
	s := newTestServer(t)

	if _, _, err := s.handleChatSend(context.Background(), nil, ChatSendInput{}); err == nil {
		t.Error("chat_send accepted an empty message")
	}
}

func TestChatEvents_WaitCollectsStream(t *testing.T) {
	s := newTestServer(t, simpleScript())

	_, sent, err := s.handleChatSend(context.Background(), nil, ChatSendInput{Message: "hi"})
	if err != nil {
		t.Fatalf("chat_send: %v", err)
	}

	var got []session.Event
	since := 0
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_, out, err := s.handleChatEvents(context.Background(), nil, ChatEventsInput{
			SessionID: sent.SessionID,
			Since:     since,
			Wait:      true,
		})
		if err != nil {
			t.Fatalf("chat_events: %v", err)
		}
		got = append(got, out.Events...)
		since = out.LastSeq
		if len(got) > 0 && got[len(got)-1].Step.IsTerminal() {
			break
		}
	}

	if len(got) != 2 {
		t.Fatalf("collected %d events, want 2", len(got))
	}
	if got[1].Step.Type != agent.EventDone {
		t.Errorf("last event = %v, want done", got[1].Step.Type)
	}
}

func TestChatEvents_UnknownSession(t *testing.T) {
	s := newTestServer(t)

	_, _, err := s.handleChatEvents(context.Background(), nil, ChatEventsInput{
		SessionID: "123e4567-e89b-12d3-a456-426614174000",
	})
	if err == nil {
		t.Error("chat_events accepted an unknown session")
	}
}

func TestChatEvents_RejectsBadID(t *testing.T) {
	s := newTestServer(t)

	_, _, err := s.handleChatEvents(context.Background(), nil, ChatEventsInput{SessionID: "nope"})
	if err == nil || !strings.Contains(err.Error(), "session") {
		t.Errorf("chat_events error = %v, want session ID validation failure", err)
	}
}

func TestChatEvents_RejectsNegativeSince(t *testing.T) {
	s := newTestServer(t, simpleScript())

	_, sent, err := s.handleChatSend(context.Background(), nil, ChatSendInput{Message: "hi"})
	if err != nil {
		t.Fatalf("chat_send: %v", err)
	}

	_, _, err = s.handleChatEvents(context.Background(), nil, ChatEventsInput{
		SessionID: sent.SessionID,
		Since:     -1,
	})
	if err == nil || !strings.Contains(err.Error(), "non-negative") {
		t.Errorf("chat_events error = %v, want rejection of negative since", err)
	}
}

func TestChatCancelAndClose(t *testing.T) {
	s := newTestServer(t, simpleScript())

	_, sent, err := s.handleChatSend(context.Background(), nil, ChatSendInput{Message: "hi"})
	if err != nil {
		t.Fatalf("chat_send: %v", err)
	}

	_, cancelled, err := s.handleChatCancel(context.Background(), nil, ChatCancelInput{SessionID: sent.SessionID})
	if err != nil {
		t.Fatalf("chat_cancel: %v", err)
	}
	if cancelled.SessionID != sent.SessionID {
		t.Errorf("chat_cancel session = %s, want %s", cancelled.SessionID, sent.SessionID)
	}

	_, _, err = s.handleChatClose(context.Background(), nil, ChatCancelInput{SessionID: sent.SessionID})
	if err != nil {
		t.Fatalf("chat_close: %v", err)
	}
	if _, err := s.manager.Get(sent.SessionID); err == nil {
		t.Error("session still present after chat_close")
	}
}
