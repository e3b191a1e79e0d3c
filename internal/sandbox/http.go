package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dingjianrui/code-agent/internal/metrics"
)

// HTTPClient executes code via a remote sandbox service.
// Authentication uses a bearer key injected at construction.
type HTTPClient struct {
	baseURL string
	authKey string
	client  *http.Client
}

// Ensure HTTPClient implements Client
var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a sandbox client for the given service URL
func NewHTTPClient(baseURL, authKey string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		authKey: authKey,
		// No client-level timeout: the per-call deadline comes from the
		// context in Execute.
		client: &http.Client{},
	}
}

// runRequest is the wire request to the sandbox service
type runRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

// runResponse is the wire response from the sandbox service
type runResponse struct {
	RunResult *struct {
		Stdout      string `json:"stdout"`
		Stderr      string `json:"stderr"`
		ReturnValue string `json:"return_value"`
	} `json:"run_result"`
	Error *struct {
		Kind      string `json:"kind"`
		Message   string `json:"message"`
		Traceback string `json:"traceback"`
	} `json:"error"`
}

// Execute submits code to the sandbox and waits for the result.
// The timeout is enforced locally: if the service does not respond in time
// the call returns an OutcomeTimedOut. The error return is non-nil only when
// the caller's context is cancelled.
func (c *HTTPClient) Execute(ctx context.Context, code string, timeout time.Duration) (*Outcome, error) {
	start := time.Now()
	outcome, err := c.execute(ctx, code, timeout)
	if outcome != nil {
		metrics.RecordSandboxCall(string(outcome.Kind), time.Since(start).Seconds())
	}
	return outcome, err
}

func (c *HTTPClient) execute(ctx context.Context, code string, timeout time.Duration) (*Outcome, error) {
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	body, err := json.Marshal(runRequest{Code: code, Language: "python"})
	if err != nil {
		return &Outcome{
			Kind:    OutcomeTransportError,
			Message: fmt.Sprintf("failed to encode sandbox request: %v", err),
		}, nil
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+"/run_code", bytes.NewReader(body))
	if err != nil {
		// A malformed base URL surfaces here, not at construction
		return &Outcome{
			Kind:    OutcomeTransportError,
			Message: fmt.Sprintf("failed to build sandbox request: %v", err),
		}, nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.authKey)

	resp, err := c.client.Do(req)
	if err != nil {
		// Caller cancellation is an error; everything else is an outcome.
		if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded {
			return &Outcome{
				Kind:    OutcomeTimedOut,
				Message: fmt.Sprintf("no response within %v", timeout),
			}, nil
		}
		return &Outcome{
			Kind:    OutcomeTransportError,
			Message: err.Error(),
		}, nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &Outcome{
			Kind:    OutcomeTransportError,
			Message: fmt.Sprintf("sandbox returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data))),
		}, nil
	}

	var result runResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return &Outcome{
			Kind:    OutcomeTransportError,
			Message: fmt.Sprintf("failed to decode sandbox response: %v", err),
		}, nil
	}

	if result.Error != nil {
		return &Outcome{
			Kind:      OutcomeRuntimeError,
			Message:   result.Error.Message,
			Traceback: result.Error.Traceback,
		}, nil
	}

	if result.RunResult == nil {
		return &Outcome{
			Kind:    OutcomeTransportError,
			Message: "sandbox response missing run_result",
		}, nil
	}

	return &Outcome{
		Kind:   OutcomeSuccess,
		Stdout: result.RunResult.Stdout,
		Stderr: result.RunResult.Stderr,
		Value:  result.RunResult.ReturnValue,
	}, nil
}
