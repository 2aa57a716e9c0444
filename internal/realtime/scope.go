package realtime

import (
	"context"
	"time"
)

// Scope is the connection-level metadata visible to resolvers of every
// subscription started on that connection.
type Scope struct {
	ConnectionID string
	UserID       string // empty for anonymous connections
	Role         string
	RemoteAddr   string
	ConnectedAt  time.Time
}

type scopeKey struct{}

// WithScope attaches scope to ctx
func WithScope(ctx context.Context, scope Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, scope)
}

// ScopeFromContext returns the connection scope on ctx
func ScopeFromContext(ctx context.Context) (Scope, bool) {
	scope, ok := ctx.Value(scopeKey{}).(Scope)
	return scope, ok
}
