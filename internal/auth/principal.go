// Package auth carries the already-verified principal through request
// contexts. Identity verification itself happens upstream (the fronting
// proxy); this package only consumes its result.
package auth

import (
	"context"
	"net/http"
)

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Principal is a verified caller identity.
type Principal struct {
	UserID string
	Role   Role
}

func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

type contextKey string

const contextKeyPrincipal contextKey = "principal"

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKeyPrincipal, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(contextKeyPrincipal).(Principal)
	return p, ok
}

// Headers the trusted reverse proxy sets after verifying the session. The
// proxy strips them from external requests.
const (
	headerUser = "X-Auth-User"
	headerRole = "X-Auth-Role"
)

// ExtractPrincipal reads the proxy-verified identity headers into the request
// context. Requests without them proceed unauthenticated; enforcement is the
// job of RequirePrincipal/RequireAdmin.
func ExtractPrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := r.Header.Get(headerUser)
		if user != "" {
			p := Principal{UserID: user, Role: Role(r.Header.Get(headerRole))}
			r = r.WithContext(WithPrincipal(r.Context(), p))
		}
		next.ServeHTTP(w, r)
	})
}

// RequirePrincipal rejects requests without a verified principal.
func RequirePrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := PrincipalFromContext(r.Context()); !ok {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin rejects principals without the admin role.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		if !ok {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		if !p.IsAdmin() {
			http.Error(w, "admin role required", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
