package audit

import (
	"context"
	"time"
)

// Entry is one audit event.
type Entry struct {
	ID        int64                  `json:"id,omitempty"`
	Action    string                 `json:"action"`
	Entity    string                 `json:"entity"`
	EntityID  string                 `json:"entity_id,omitempty"`
	ActorID   string                 `json:"actor_id,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Common action names.
const (
	ActionLogin         = "login"
	ActionLogout        = "logout"
	ActionUserRevoked   = "user.revoked"
	ActionUserEnabled   = "user.enabled"
	ActionInviteCreated = "invitation.created"
	ActionInviteUsed    = "invitation.consumed"
	ActionInviteRevoked = "invitation.revoked"
	ActionCreate        = "create"
	ActionUpdate        = "update"
	ActionDelete        = "delete"
	ActionTransition    = "transition"
	ActionSyncPush      = "sync.push"
)

// Logger records audit entries.
type Logger interface {
	Record(ctx context.Context, entry Entry)
}

// NopLogger discards all entries. Used in tests and tooling.
type NopLogger struct{}

// Record implements Logger.
func (NopLogger) Record(ctx context.Context, entry Entry) {}
