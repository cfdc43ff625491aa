package shared

import (
	"context"
	"net/http"
	"strings"
)

// Identity carries the authenticated caller attached to every mutating call.
// Authentication itself happens upstream (gateway or auth service); the core
// only consumes the opaque id and role.
type Identity struct {
	ID   string
	Role string
}

type identityContextKey struct{}

// Header names populated by the authenticating proxy.
const (
	HeaderUserID   = "X-User-Id"
	HeaderUserRole = "X-User-Role"
)

// ContextWithIdentity stores the identity in the context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext retrieves the caller identity, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	return id, ok && id.ID != ""
}

// IdentityMiddleware extracts the caller identity from request headers.
func IdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := Identity{
			ID:   strings.TrimSpace(r.Header.Get(HeaderUserID)),
			Role: strings.TrimSpace(r.Header.Get(HeaderUserRole)),
		}
		if id.ID != "" {
			r = r.WithContext(ContextWithIdentity(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}
