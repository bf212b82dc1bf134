package auth

import "time"

// Role is one of the fixed organizational roles. The set is closed; there is
// no runtime mutation path.
type Role string

const (
	RoleSuperAdminNacional   Role = "SuperAdminNacional"
	RoleAdminProvincial      Role = "AdminProvincial"
	RoleCoordinadorSeccional Role = "CoordinadorSeccional"
	RoleReferenteLocal       Role = "ReferenteLocal"
	RoleMilitante            Role = "Militante"
)

// Permission names an operation class, e.g. "tasks:write".
type Permission string

const (
	PermUsersRead        Permission = "users:read"
	PermUsersWrite       Permission = "users:write"
	PermUsersDelete      Permission = "users:delete"
	PermUsersInvite      Permission = "users:invite"
	PermTasksRead        Permission = "tasks:read"
	PermTasksWrite       Permission = "tasks:write"
	PermReportsRead      Permission = "reports:read"
	PermReportsWrite     Permission = "reports:write"
	PermAlertsRead       Permission = "alerts:read"
	PermAlertsWrite      Permission = "alerts:write"
	PermPostsRead        Permission = "posts:read"
	PermPostsWrite       Permission = "posts:write"
	PermResourcesRead    Permission = "resources:read"
	PermResourcesWrite   Permission = "resources:write"
	PermResourcesApprove Permission = "resources:approve"
	PermProjectsRead     Permission = "projects:read"
	PermProjectsWrite    Permission = "projects:write"
	PermAuditRead        Permission = "audit:read"
	PermSyncUse          Permission = "sync:use"
)

// UserStatus is the lifecycle state of a user account.
type UserStatus string

const (
	StatusPending   UserStatus = "PENDING"
	StatusActive    UserStatus = "ACTIVE"
	StatusRevoked   UserStatus = "REVOKED"
	StatusSuspended UserStatus = "SUSPENDED"
)

// User is an identity with a role and a territorial assignment. A user with
// any status other than ACTIVE must have zero valid sessions.
type User struct {
	ID             string     `json:"id"`
	Email          string     `json:"email"`
	Name           string     `json:"name"`
	PasswordHash   string     `json:"-"`
	Role           Role       `json:"role"`
	TerritoryID    *string    `json:"territory_id,omitempty"`
	BranchID       *string    `json:"branch_id,omitempty"`
	TerritoryScope []string   `json:"territory_scope,omitempty"`
	Status         UserStatus `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Session is a server-side session record backing an opaque bearer token.
// Only the SHA-256 hash of the token is persisted. The token carries no
// authority snapshot; role, territory and branch are always read from the
// joined user row so privilege changes take effect on the next request.
type Session struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	TokenHash  string     `json:"-"`
	ExpiresAt  time.Time  `json:"expires_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	LastActive time.Time  `json:"last_active"`
	CreatedAt  time.Time  `json:"created_at"`

	// User is the owning user row, populated on lookup.
	User *User `json:"-"`
}

// Valid reports whether the session is usable at the given instant.
func (s *Session) Valid(now time.Time) bool {
	if s.RevokedAt != nil {
		return false
	}
	if !s.ExpiresAt.After(now) {
		return false
	}
	return s.User != nil && s.User.Status == StatusActive
}
