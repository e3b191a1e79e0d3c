package session

import (
	"context"
	"time"

	"github.com/dingjianrui/code-agent/internal/logger"
	"github.com/dingjianrui/code-agent/internal/sandbox"
)

const defaultRetryBackoff = 2 * time.Second

// RetryClient wraps a sandbox client with the session layer's retry policy:
// a transport error is retried once after a backoff. Timeouts are never
// retried, the remote effect may already have happened. Runtime errors are
// results, not faults, and pass through untouched.
type RetryClient struct {
	inner   sandbox.Client
	backoff time.Duration
}

// NewRetryClient wraps inner with the default backoff
func NewRetryClient(inner sandbox.Client) *RetryClient {
	return &RetryClient{inner: inner, backoff: defaultRetryBackoff}
}

// Execute runs code through the wrapped client, retrying once on transport
// failure. Returns a non-nil error only when ctx is cancelled.
func (r *RetryClient) Execute(ctx context.Context, code string, timeout time.Duration) (*sandbox.Outcome, error) {
	outcome, err := r.inner.Execute(ctx, code, timeout)
	if err != nil {
		return nil, err
	}
	if outcome.Kind != sandbox.OutcomeTransportError {
		return outcome, nil
	}

	logger.Error("Sandbox transport error, retrying in %v: %s", r.backoff, outcome.Message)
	select {
	case <-time.After(r.backoff):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return r.inner.Execute(ctx, code, timeout)
}
