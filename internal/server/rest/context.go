package rest

import (
	"context"

	"github.com/dmitrijs2005/leadcrm/internal/server/auth"
)

type ctxKey string

const claimsKey ctxKey = "claims"

// WithClaims returns a copy of ctx carrying verified access token claims.
func WithClaims(ctx context.Context, c *auth.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

// ClaimsFromContext returns the claims attached by RequireAuth.
func ClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*auth.Claims)
	return c, ok && c != nil
}
