// Package contextkeys provides centralized context key definitions.
//
// All context keys used across the application are defined here to prevent
// typos and make key usage discoverable.
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// SessionKey contains *auth.Session for the authenticated caller.
	// Set by: middleware.AuthMiddleware
	// Required by: all protected endpoints
	SessionKey Key = "session"

	// UserIDKey contains the authenticated user ID string.
	// Set by: middleware.AuthMiddleware
	// Used by: logger, audit trail
	UserIDKey Key = "user_id"

	// RequestIDKey contains the request ID string (UUID).
	// Set by: httputil.RequestIDMiddleware
	RequestIDKey Key = "request_id"
)

// WithSession adds the authenticated session to the context
func WithSession(ctx context.Context, session interface{}) context.Context {
	return context.WithValue(ctx, SessionKey, session)
}

// Session retrieves the raw session value from the context
func Session(ctx context.Context) interface{} {
	return ctx.Value(SessionKey)
}

// WithUserID adds the authenticated user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// UserID retrieves the authenticated user ID, or "" when unauthenticated
func UserID(ctx context.Context) string {
	if v, ok := ctx.Value(UserIDKey).(string); ok {
		return v
	}
	return ""
}
