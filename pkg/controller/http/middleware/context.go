package middleware

import (
	"context"

	"github.com/m-mizutani/kitsune/pkg/domain/model/auth"
)

type contextKey string

const (
	principalContextKey contextKey = "principal"
)

// ContextWithPrincipal adds the authenticated caller to the context
func ContextWithPrincipal(ctx context.Context, principal *auth.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, principal)
}

// PrincipalFromContext extracts the authenticated caller from the context
func PrincipalFromContext(ctx context.Context) (*auth.Principal, bool) {
	principal, ok := ctx.Value(principalContextKey).(*auth.Principal)
	return principal, ok
}

// RequirePrincipalFromContext extracts the caller and panics if not found.
// Only call it behind the auth middleware.
func RequirePrincipalFromContext(ctx context.Context) *auth.Principal {
	principal, ok := PrincipalFromContext(ctx)
	if !ok {
		panic("principal not found in context")
	}
	return principal
}
