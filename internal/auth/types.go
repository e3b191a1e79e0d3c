// Package auth provides bearer-token authentication for the HTTP surface:
// a sqlite-backed token store, request middleware, and per-token rate
// limiting.
package auth

import (
	"context"
	"strings"
	"time"
)

// Token is an API token record. The secret itself is the token ID; only
// its prefix is ever logged.
type Token struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Scope      string     `json:"scope"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// Scopes. chat grants full session access; chat:ro can read event streams
// but not send messages or cancel.
const (
	ScopeChat   = "chat"
	ScopeChatRO = "chat:ro"
)

// IsReadOnlyScope reports whether scope forbids mutating operations
func IsReadOnlyScope(scope string) bool {
	return strings.HasSuffix(scope, ":ro")
}

// Context holds the authenticated token for a request
type Context struct {
	Token *Token
}

// CanWrite reports whether the request may send messages or cancel sessions
func (c *Context) CanWrite() bool {
	return c.Token != nil && !IsReadOnlyScope(c.Token.Scope)
}

type contextKey struct{}

// WithContext attaches an auth Context to ctx
func WithContext(ctx context.Context, ac *Context) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

// FromContext returns the request's auth Context, or nil
func FromContext(ctx context.Context) *Context {
	ac, _ := ctx.Value(contextKey{}).(*Context)
	return ac
}
