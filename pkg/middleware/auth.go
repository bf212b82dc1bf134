package middleware

import (
	"net/http"

	"github.com/civitashq/civitas/pkg/auth"
	"github.com/civitashq/civitas/pkg/contextkeys"
	"github.com/civitashq/civitas/pkg/httputil"
)

// AuthMiddleware resolves the session token and stores the session on the
// request context. Handlers still perform their own permission and scope
// checks; the middleware exists so downstream concerns (rate limiting,
// logging, audit) can key on the caller identity.
type AuthMiddleware struct {
	guard    *auth.Guard
	optional bool
}

// NewAuthMiddleware creates the session middleware. With optional set,
// unauthenticated requests pass through without a session on the context;
// otherwise they are rejected with 401.
func NewAuthMiddleware(guard *auth.Guard, optional bool) *AuthMiddleware {
	return &AuthMiddleware{guard: guard, optional: optional}
}

// Handler wraps next with session resolution.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.TokenFromRequest(r)
		if token == "" && m.optional {
			next.ServeHTTP(w, r)
			return
		}

		sess, err := m.guard.RequireAuth(r.Context(), token)
		if err != nil {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteAppError(w, r, err)
			return
		}

		ctx := contextkeys.WithSession(r.Context(), sess)
		ctx = contextkeys.WithUserID(ctx, sess.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SessionFromContext returns the session placed by AuthMiddleware, or nil.
func SessionFromContext(r *http.Request) *auth.Session {
	if sess, ok := contextkeys.Session(r.Context()).(*auth.Session); ok {
		return sess
	}
	return nil
}
