// Package ctxutil provides shared context key accessors.
//
// The server's auth middleware stores operator claims here and both the
// HTTP handlers and the MCP tools read them back, so neither package has
// to import the other.
package ctxutil

import (
	"context"

	"github.com/ashita-ai/hakari/internal/auth"
)

type contextKey string

const keyClaims contextKey = "claims"

// WithClaims returns a new context carrying the given claims.
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, keyClaims, claims)
}

// ClaimsFromContext extracts the JWT claims from the context.
func ClaimsFromContext(ctx context.Context) *auth.Claims {
	if v, ok := ctx.Value(keyClaims).(*auth.Claims); ok {
		return v
	}
	return nil
}

// OperatorName returns the authenticated operator's name, or fallback when
// the request is anonymous.
func OperatorName(ctx context.Context, fallback string) string {
	if c := ClaimsFromContext(ctx); c != nil && c.Operator != "" {
		return c.Operator
	}
	return fallback
}
