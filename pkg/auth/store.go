package auth

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/civitashq/civitas/pkg/apperr"
)

// Store persists users and sessions in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a user/session store and ensures its tables exist.
func NewStore(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	s := &Store{db: db}
	if err := s.ensureTables(); err != nil {
		return nil, fmt.Errorf("failed to ensure auth tables: %w", err)
	}
	return s, nil
}

func (s *Store) ensureTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		email VARCHAR(255) NOT NULL UNIQUE,
		name VARCHAR(255) NOT NULL,
		password_hash TEXT NOT NULL,
		role VARCHAR(50) NOT NULL,
		territory_id UUID,
		branch_id UUID,
		territory_scope TEXT[] NOT NULL DEFAULT '{}',
		status VARCHAR(20) NOT NULL DEFAULT 'PENDING',
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		token_hash VARCHAR(64) NOT NULL UNIQUE,
		expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
		revoked_at TIMESTAMP WITH TIME ZONE,
		last_active TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);
	CREATE INDEX IF NOT EXISTS idx_users_status ON users(status);
	`

	_, err := s.db.Exec(query)
	return err
}

// CreateUser inserts a new user record.
func (s *Store) CreateUser(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.Status == "" {
		user.Status = StatusPending
	}

	query := `
		INSERT INTO users (id, email, name, password_hash, role, territory_id, branch_id, territory_scope, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query,
		user.ID, user.Email, user.Name, user.PasswordHash, user.Role,
		user.TerritoryID, user.BranchID, pq.Array(user.TerritoryScope), user.Status,
	).Scan(&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

const userColumns = `id, email, name, password_hash, role, territory_id, branch_id, territory_scope, status, created_at, updated_at`

func scanUser(row *sql.Row) (*User, error) {
	var u User
	var scope pq.StringArray
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Role,
		&u.TerritoryID, &u.BranchID, &scope, &u.Status, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.TerritoryScope = scope
	return &u, nil
}

// GetUserByID fetches a user by id.
func (s *Store) GetUserByID(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NewNotFoundError("user", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user: %w", err)
	}
	return user, nil
}

// GetUserByEmail fetches a user by email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NewNotFoundError("user", email)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user: %w", err)
	}
	return user, nil
}

// ActivateUser flips a user to ACTIVE and stamps the new credentials. Used
// when an invitation is consumed.
func (s *Store) ActivateUser(ctx context.Context, userID, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET status = $1, password_hash = $2, updated_at = NOW() WHERE id = $3`,
		StatusActive, passwordHash, userID)
	if err != nil {
		return fmt.Errorf("failed to activate user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NewNotFoundError("user", userID)
	}
	return nil
}

// RevokeUser marks the user REVOKED and deletes all their sessions in a
// single transaction, so a revoked user can never hold a valid session.
func (s *Store) RevokeUser(ctx context.Context, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE users SET status = $1, updated_at = NOW() WHERE id = $2`,
		StatusRevoked, userID)
	if err != nil {
		return fmt.Errorf("failed to revoke user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NewNotFoundError("user", userID)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to purge sessions: %w", err)
	}

	return tx.Commit()
}

// EnableUser restores a revoked or suspended user to ACTIVE. Existing
// sessions are gone; the user logs in again.
func (s *Store) EnableUser(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET status = $1, updated_at = NOW() WHERE id = $2`,
		StatusActive, userID)
	if err != nil {
		return fmt.Errorf("failed to enable user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NewNotFoundError("user", userID)
	}
	return nil
}

// CreateSession inserts a session row for the given token hash.
func (s *Store) CreateSession(ctx context.Context, userID, tokenHash string, ttl time.Duration) (*Session, error) {
	session := &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: tokenHash,
		ExpiresAt: time.Now().Add(ttl),
	}

	query := `
		INSERT INTO sessions (id, user_id, token_hash, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING last_active, created_at
	`
	err := s.db.QueryRowContext(ctx, query,
		session.ID, session.UserID, session.TokenHash, session.ExpiresAt,
	).Scan(&session.LastActive, &session.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert session: %w", err)
	}
	return session, nil
}

// LookupSession fetches the session for a token hash together with the
// owning user row. Validity is not checked here; the guard decides.
func (s *Store) LookupSession(ctx context.Context, tokenHash string) (*Session, error) {
	query := `
		SELECT s.id, s.user_id, s.expires_at, s.revoked_at, s.last_active, s.created_at,
		       u.id, u.email, u.name, u.password_hash, u.role, u.territory_id, u.branch_id, u.territory_scope, u.status, u.created_at, u.updated_at
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.token_hash = $1
	`

	var sess Session
	var user User
	var scope pq.StringArray
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(
		&sess.ID, &sess.UserID, &sess.ExpiresAt, &sess.RevokedAt, &sess.LastActive, &sess.CreatedAt,
		&user.ID, &user.Email, &user.Name, &user.PasswordHash, &user.Role,
		&user.TerritoryID, &user.BranchID, &scope, &user.Status, &user.CreatedAt, &user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperr.NewAuthError("unknown session token")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}

	user.TerritoryScope = scope
	sess.TokenHash = tokenHash
	sess.User = &user
	return &sess, nil
}

// RevokeSession marks a single session revoked.
func (s *Store) RevokeSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET revoked_at = NOW() WHERE id = $1 AND revoked_at IS NULL`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

// TouchSession updates the last_active stamp. Best effort.
func (s *Store) TouchSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_active = NOW() WHERE id = $1`, sessionID)
	return err
}

// PurgeExpiredSessions deletes sessions past their expiry. Run by the
// janitor.
func (s *Store) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired sessions: %w", err)
	}
	return res.RowsAffected()
}
