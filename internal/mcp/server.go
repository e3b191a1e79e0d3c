// Package mcp exposes session operations as MCP tools over stdio, for
// clients that speak the Model Context Protocol instead of the HTTP API.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dingjianrui/code-agent/internal/logger"
	"github.com/dingjianrui/code-agent/internal/session"
	"github.com/dingjianrui/code-agent/internal/validation"
)

// eventWaitTimeout bounds a chat_events call with wait=true
const eventWaitTimeout = 30 * time.Second

// Server bridges the session manager to an MCP stdio server
type Server struct {
	manager *session.Manager
	impl    *mcp.Server
}

// NewServer creates the MCP server and registers the chat tools
func NewServer(manager *session.Manager) *Server {
	impl := mcp.NewServer(&mcp.Implementation{
		Name:    "code-agent",
		Version: "0.1.0",
	}, &mcp.ServerOptions{HasTools: true})

	s := &Server{manager: manager, impl: impl}
	s.registerTools()
	return s
}

// Run serves MCP over stdio until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	logger.Info("MCP server listening on stdio")
	return s.impl.Run(ctx, &mcp.StdioTransport{})
}

// ChatSendInput are the arguments for chat_send
type ChatSendInput struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

// ChatSendOutput reports where the message landed
type ChatSendOutput struct {
	SessionID string        `json:"session_id"`
	Phase     session.Phase `json:"phase"`
}

// ChatEventsInput are the arguments for chat_events
type ChatEventsInput struct {
	SessionID string `json:"session_id"`
	Since     int    `json:"since,omitempty"`
	Wait      bool   `json:"wait,omitempty"`
}

// ChatEventsOutput carries buffered events and the resume position
type ChatEventsOutput struct {
	SessionID string          `json:"session_id"`
	Phase     session.Phase   `json:"phase"`
	Events    []session.Event `json:"events"`
	LastSeq   int             `json:"last_seq"`
}

// ChatCancelInput are the arguments for chat_cancel and chat_close
type ChatCancelInput struct {
	SessionID string `json:"session_id"`
}

// ChatCancelOutput reports the resulting phase
type ChatCancelOutput struct {
	SessionID string        `json:"session_id"`
	Phase     session.Phase `json:"phase"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.impl, &mcp.Tool{
		Name: "chat_send",
		Description: "Send a message to the agent. Opens a new session when session_id " +
			"is omitted. Returns immediately; follow progress with chat_events.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"session_id": {Type: "string", Description: "Existing session to continue; omit to open a new one"},
				"message":    {Type: "string", Description: "The user message"},
			},
			Required: []string{"message"},
		},
	}, s.handleChatSend)

	mcp.AddTool(s.impl, &mcp.Tool{
		Name: "chat_events",
		Description: "Fetch a session's stream events after a sequence number. " +
			"Set wait=true to block until new events arrive or the stream ends.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"session_id": {Type: "string", Description: "Session to read"},
				"since":      {Type: "integer", Description: "Return events with seq greater than this (0 for all)"},
				"wait":       {Type: "boolean", Description: "Block until new events are available"},
			},
			Required: []string{"session_id"},
		},
	}, s.handleChatEvents)

	mcp.AddTool(s.impl, &mcp.Tool{
		Name:        "chat_cancel",
		Description: "Cancel a session's in-flight generation. A no-op when nothing is running.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"session_id": {Type: "string", Description: "Session to cancel"},
			},
			Required: []string{"session_id"},
		},
	}, s.handleChatCancel)

	mcp.AddTool(s.impl, &mcp.Tool{
		Name:        "chat_close",
		Description: "Close a session and discard its state.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"session_id": {Type: "string", Description: "Session to close"},
			},
			Required: []string{"session_id"},
		},
	}, s.handleChatClose)
}

func (s *Server) handleChatSend(ctx context.Context, req *mcp.CallToolRequest, input ChatSendInput) (*mcp.CallToolResult, ChatSendOutput, error) {
	if input.Message == "" {
		return nil, ChatSendOutput{}, errors.New("message is required")
	}

	var c *session.Controller
	var err error
	if input.SessionID == "" {
		c, err = s.manager.Open()
		if err != nil {
			return nil, ChatSendOutput{}, err
		}
	} else {
		c, err = s.lookup(input.SessionID)
		if err != nil {
			return nil, ChatSendOutput{}, err
		}
	}

	if err := c.HandleMessage(input.Message); err != nil {
		return nil, ChatSendOutput{}, fmt.Errorf("session %s: %w", c.ID(), err)
	}
	return nil, ChatSendOutput{SessionID: c.ID(), Phase: c.Phase()}, nil
}

func (s *Server) handleChatEvents(ctx context.Context, req *mcp.CallToolRequest, input ChatEventsInput) (*mcp.CallToolResult, ChatEventsOutput, error) {
	if input.Since < 0 {
		return nil, ChatEventsOutput{}, fmt.Errorf("since must be non-negative, got %d", input.Since)
	}
	c, err := s.lookup(input.SessionID)
	if err != nil {
		return nil, ChatEventsOutput{}, err
	}

	var events []session.Event
	if input.Wait {
		waitCtx, cancel := context.WithTimeout(ctx, eventWaitTimeout)
		defer cancel()
		events, err = c.WaitEvents(waitCtx, input.Since)
		if err != nil && !errors.Is(err, session.ErrClosed) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, ChatEventsOutput{}, err
		}
	} else {
		events, err = c.Events(input.Since)
		if err != nil {
			return nil, ChatEventsOutput{}, err
		}
	}

	lastSeq := input.Since
	if len(events) > 0 {
		lastSeq = events[len(events)-1].Seq
	}
	if events == nil {
		events = []session.Event{}
	}
	return nil, ChatEventsOutput{
		SessionID: c.ID(),
		Phase:     c.Phase(),
		Events:    events,
		LastSeq:   lastSeq,
	}, nil
}

func (s *Server) handleChatCancel(ctx context.Context, req *mcp.CallToolRequest, input ChatCancelInput) (*mcp.CallToolResult, ChatCancelOutput, error) {
	c, err := s.lookup(input.SessionID)
	if err != nil {
		return nil, ChatCancelOutput{}, err
	}
	c.Cancel()
	return nil, ChatCancelOutput{SessionID: c.ID(), Phase: c.Phase()}, nil
}

func (s *Server) handleChatClose(ctx context.Context, req *mcp.CallToolRequest, input ChatCancelInput) (*mcp.CallToolResult, ChatCancelOutput, error) {
	c, err := s.lookup(input.SessionID)
	if err != nil {
		return nil, ChatCancelOutput{}, err
	}
	s.manager.Remove(c.ID())
	return nil, ChatCancelOutput{SessionID: c.ID(), Phase: session.PhaseClosed}, nil
}

func (s *Server) lookup(id string) (*session.Controller, error) {
	if err := validation.ValidateSessionID(id); err != nil {
		return nil, err
	}
	return s.manager.Get(id)
}
