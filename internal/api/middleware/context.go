package middleware

import (
	"context"
	"net/http"
)

type contextKey string

const principalKey contextKey = "principal"

// SetPrincipal stores the authenticated user id in ctx.
func SetPrincipal(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, principalKey, userID)
}

// GetPrincipal returns the authenticated user id of r, if any.
func GetPrincipal(r *http.Request) (string, bool) {
	id, ok := r.Context().Value(principalKey).(string)
	return id, ok && id != ""
}
