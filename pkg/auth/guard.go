package auth

import (
	"context"
	"time"

	"github.com/civitashq/civitas/pkg/apperr"
	"github.com/civitashq/civitas/pkg/observability"
	"github.com/civitashq/civitas/pkg/scope"
)

// SessionSource resolves bearer token hashes to sessions.
type SessionSource interface {
	LookupSession(ctx context.Context, tokenHash string) (*Session, error)
	TouchSession(ctx context.Context, sessionID string) error
}

// ScopeResolver expands a territorial assignment into the effective
// territory id set.
type ScopeResolver interface {
	EffectiveTerritoryIDs(ctx context.Context, primary *string, extra []string, expand bool) ([]string, error)
}

// Guard performs per-request authentication, permission checks and scope
// filter construction. Authority is always derived from the live user row
// fetched with the session, never from anything the client presents.
type Guard struct {
	sessions SessionSource
	tokens   *TokenGenerator
	resolver ScopeResolver
}

// NewGuard creates an access guard.
func NewGuard(sessions SessionSource, resolver ScopeResolver) *Guard {
	return &Guard{
		sessions: sessions,
		tokens:   NewTokenGenerator(),
		resolver: resolver,
	}
}

// RequireAuth resolves a bearer token to a valid session. Returns
// apperr.AuthError when the token is malformed, unknown, revoked, expired or
// the owning user is not ACTIVE.
func (g *Guard) RequireAuth(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, apperr.NewAuthError("missing session token")
	}
	if err := g.tokens.ValidateTokenFormat(token); err != nil {
		return nil, apperr.NewAuthError("malformed session token")
	}

	sess, err := g.sessions.LookupSession(ctx, g.tokens.HashToken(token))
	if err != nil {
		return nil, err
	}

	now := time.Now()
	switch {
	case sess.RevokedAt != nil:
		return nil, apperr.NewAuthError("session revoked")
	case !sess.ExpiresAt.After(now):
		return nil, apperr.NewAuthError("session expired")
	case sess.User == nil || sess.User.Status != StatusActive:
		return nil, apperr.NewAuthError("user is not active")
	}

	if err := g.sessions.TouchSession(ctx, sess.ID); err != nil {
		observability.FromContext(ctx).WithError(err).Warn("failed to touch session")
	}
	return sess, nil
}

// Permit checks that the session's role grants the permission. Unknown roles
// always fail.
func (g *Guard) Permit(sess *Session, perm Permission) error {
	role := sess.User.Role
	if role == RoleSuperAdminNacional {
		return nil
	}
	if !HasPermission(role, perm) {
		return apperr.NewPermissionError(string(role), string(perm))
	}
	return nil
}

// RequirePermission resolves the session and asserts the permission in one
// call. Returns the session on success.
func (g *Guard) RequirePermission(ctx context.Context, token string, perm Permission) (*Session, error) {
	sess, err := g.RequireAuth(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := g.Permit(sess, perm); err != nil {
		return nil, err
	}
	return sess, nil
}

// ScopeForSession builds the scope filter constraining what the session may
// read or write. SuperAdminNacional gets the unrestricted filter; every
// other role gets its effective territory set, expanded to the descendant
// subtree for hierarchical roles.
func (g *Guard) ScopeForSession(ctx context.Context, sess *Session, opts scope.Options) (scope.Filter, error) {
	user := sess.User
	if user.Role == RoleSuperAdminNacional {
		return scope.Unrestricted(), nil
	}

	territoryIDs, err := g.resolver.EffectiveTerritoryIDs(ctx,
		user.TerritoryID, user.TerritoryScope, HierarchicalRoles[user.Role])
	if err != nil {
		return scope.Filter{}, err
	}

	branchID := ""
	if user.BranchID != nil {
		branchID = *user.BranchID
	}
	return scope.BuildFilter(territoryIDs, branchID, opts), nil
}
