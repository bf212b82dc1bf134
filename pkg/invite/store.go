package invite

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/civitashq/civitas/pkg/apperr"
)

// TokenPrefix distinguishes invitation tokens from session tokens.
const TokenPrefix = "cvi_"

// Invitation is one pending, used, revoked or expired invite.
type Invitation struct {
	ID             string     `json:"id"`
	Email          string     `json:"email"`
	TokenHash      string     `json:"-"`
	Role           string     `json:"role"`
	BranchID       *string    `json:"branch_id,omitempty"`
	TerritoryID    *string    `json:"territory_id,omitempty"`
	TerritoryScope []string   `json:"territory_scope,omitempty"`
	ExpiresAt      time.Time  `json:"expires_at"`
	UsedAt         *time.Time `json:"used_at,omitempty"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
	CreatedBy      string     `json:"created_by"`
	CreatedAt      time.Time  `json:"created_at"`
}

// GenerateToken creates an invitation token and its storage hash.
func GenerateToken() (token, tokenHash string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	token = TokenPrefix + base64.RawURLEncoding.EncodeToString(raw)
	return token, HashToken(token), nil
}

// HashToken computes the SHA-256 hex hash used for lookup.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Store persists invitations.
type Store struct {
	db *sql.DB
}

// NewStore creates the invitation store and ensures its table exists.
func NewStore(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	s := &Store{db: db}
	if err := s.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure invitations table: %w", err)
	}
	return s, nil
}

func (s *Store) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS invitations (
		id UUID PRIMARY KEY,
		email VARCHAR(255) NOT NULL,
		token_hash VARCHAR(64) NOT NULL UNIQUE,
		role VARCHAR(50) NOT NULL,
		branch_id UUID,
		territory_id UUID,
		territory_scope TEXT[] NOT NULL DEFAULT '{}',
		expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
		used_at TIMESTAMP WITH TIME ZONE,
		revoked_at TIMESTAMP WITH TIME ZONE,
		created_by UUID NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_invitations_email ON invitations(email);
	CREATE INDEX IF NOT EXISTS idx_invitations_expires_at ON invitations(expires_at);
	`

	_, err := s.db.Exec(query)
	return err
}

// Create inserts an invitation.
func (s *Store) Create(ctx context.Context, inv *Invitation) error {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}

	query := `
		INSERT INTO invitations (id, email, token_hash, role, branch_id, territory_id, territory_scope, expires_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`
	err := s.db.QueryRowContext(ctx, query,
		inv.ID, inv.Email, inv.TokenHash, inv.Role, inv.BranchID, inv.TerritoryID,
		pq.Array(inv.TerritoryScope), inv.ExpiresAt, inv.CreatedBy,
	).Scan(&inv.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert invitation: %w", err)
	}
	return nil
}

const invitationColumns = `id, email, token_hash, role, branch_id, territory_id, territory_scope, expires_at, used_at, revoked_at, created_by, created_at`

func scanInvitation(row *sql.Row) (*Invitation, error) {
	var inv Invitation
	var scope pq.StringArray
	err := row.Scan(&inv.ID, &inv.Email, &inv.TokenHash, &inv.Role, &inv.BranchID,
		&inv.TerritoryID, &scope, &inv.ExpiresAt, &inv.UsedAt, &inv.RevokedAt,
		&inv.CreatedBy, &inv.CreatedAt)
	if err != nil {
		return nil, err
	}
	inv.TerritoryScope = scope
	return &inv, nil
}

// GetByTokenHash fetches an invitation by token hash, any state.
func (s *Store) GetByTokenHash(ctx context.Context, tokenHash string) (*Invitation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+invitationColumns+` FROM invitations WHERE token_hash = $1`, tokenHash)
	inv, err := scanInvitation(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NewNotFoundError("invitation", "")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch invitation: %w", err)
	}
	return inv, nil
}

// GetByID fetches an invitation by id.
func (s *Store) GetByID(ctx context.Context, id string) (*Invitation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+invitationColumns+` FROM invitations WHERE id = $1`, id)
	inv, err := scanInvitation(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NewNotFoundError("invitation", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch invitation: %w", err)
	}
	return inv, nil
}

// Consume marks the invitation used and creates or activates the invited
// user, all in one transaction. The conditional update is the single-use
// guard: two concurrent consumers race on the row and exactly one wins.
func (s *Store) Consume(ctx context.Context, tokenHash, name, passwordHash string) (userID string, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var inv Invitation
	var scope pq.StringArray
	err = tx.QueryRowContext(ctx, `
		UPDATE invitations SET used_at = NOW()
		WHERE token_hash = $1 AND used_at IS NULL AND revoked_at IS NULL AND expires_at > NOW()
		RETURNING email, role, branch_id, territory_id, territory_scope
	`, tokenHash).Scan(&inv.Email, &inv.Role, &inv.BranchID, &inv.TerritoryID, &scope)
	if err == sql.ErrNoRows {
		return "", s.consumeFailureReason(ctx, tokenHash)
	}
	if err != nil {
		return "", fmt.Errorf("failed to consume invitation: %w", err)
	}

	userID = uuid.NewString()
	err = tx.QueryRowContext(ctx, `
		INSERT INTO users (id, email, name, password_hash, role, territory_id, branch_id, territory_scope, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'ACTIVE')
		ON CONFLICT (email) DO UPDATE
		SET name = EXCLUDED.name, password_hash = EXCLUDED.password_hash,
		    role = EXCLUDED.role, territory_id = EXCLUDED.territory_id,
		    branch_id = EXCLUDED.branch_id, territory_scope = EXCLUDED.territory_scope,
		    status = 'ACTIVE', updated_at = NOW()
		RETURNING id
	`, userID, inv.Email, name, passwordHash, inv.Role, inv.TerritoryID, inv.BranchID, pq.Array([]string(scope))).Scan(&userID)
	if err != nil {
		return "", fmt.Errorf("failed to activate invited user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit invitation consumption: %w", err)
	}
	return userID, nil
}

// consumeFailureReason distinguishes why the single-use guard rejected.
func (s *Store) consumeFailureReason(ctx context.Context, tokenHash string) error {
	inv, err := s.GetByTokenHash(ctx, tokenHash)
	if err != nil {
		return apperr.NewAuthError("invalid invitation token")
	}
	switch {
	case inv.UsedAt != nil:
		return apperr.NewAuthError("invitation already used")
	case inv.RevokedAt != nil:
		return apperr.NewAuthError("invitation revoked")
	case !inv.ExpiresAt.After(time.Now()):
		return apperr.NewAuthError("invitation expired")
	default:
		return apperr.NewAuthError("invalid invitation token")
	}
}

// Revoke marks a pending invitation revoked. A used invitation cannot be
// revoked; the terminal markers are mutually exclusive.
func (s *Store) Revoke(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE invitations SET revoked_at = NOW()
		WHERE id = $1 AND used_at IS NULL AND revoked_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("failed to revoke invitation: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	inv, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if inv.UsedAt != nil {
		return apperr.NewWorkflowError("invitation", "USED", "REVOKED")
	}
	return apperr.NewWorkflowError("invitation", "REVOKED", "REVOKED")
}

// PurgeExpired deletes invitations past expiry that were never used. Run by
// the janitor.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM invitations WHERE expires_at < NOW() AND used_at IS NULL`)
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired invitations: %w", err)
	}
	return res.RowsAffected()
}
