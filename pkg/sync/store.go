package sync

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresSyncStore persists idempotency records and conflicts.
type PostgresSyncStore struct {
	db *sql.DB
}

// NewPostgresSyncStore creates the store and ensures its tables exist.
func NewPostgresSyncStore(db *sql.DB) (*PostgresSyncStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	s := &PostgresSyncStore{db: db}
	if err := s.ensureTables(); err != nil {
		return nil, fmt.Errorf("failed to ensure sync tables: %w", err)
	}
	return s, nil
}

func (s *PostgresSyncStore) ensureTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS idempotency_records (
		key VARCHAR(255) NOT NULL,
		user_id UUID NOT NULL,
		response_status INTEGER NOT NULL,
		response_body JSONB,
		response_error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		PRIMARY KEY (key, user_id)
	);

	CREATE TABLE IF NOT EXISTS sync_conflicts (
		id BIGSERIAL PRIMARY KEY,
		entity_type VARCHAR(50) NOT NULL,
		entity_id VARCHAR(255) NOT NULL,
		user_id UUID NOT NULL,
		data JSONB NOT NULL,
		reason TEXT NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_idempotency_created_at ON idempotency_records(created_at);
	CREATE INDEX IF NOT EXISTS idx_sync_conflicts_user_id ON sync_conflicts(user_id);
	CREATE INDEX IF NOT EXISTS idx_sync_conflicts_entity ON sync_conflicts(entity_type, entity_id);
	`

	_, err := s.db.Exec(query)
	return err
}

// GetRecord looks up the recorded outcome for (key, user). Returns nil when
// the action has not been applied yet.
func (s *PostgresSyncStore) GetRecord(ctx context.Context, key, userID string) (*IdempotencyRecord, error) {
	query := `
		SELECT key, user_id, response_status, response_body, response_error, created_at
		FROM idempotency_records WHERE key = $1 AND user_id = $2
	`
	var rec IdempotencyRecord
	err := s.db.QueryRowContext(ctx, query, key, userID).Scan(
		&rec.Key, &rec.UserID, &rec.ResponseStatus, &rec.ResponseBody, &rec.ResponseError, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up idempotency record: %w", err)
	}
	return &rec, nil
}

// SaveRecord persists an action outcome. A concurrent retry racing the first
// execution loses to the unique constraint and keeps the first outcome.
func (s *PostgresSyncStore) SaveRecord(ctx context.Context, rec *IdempotencyRecord) error {
	query := `
		INSERT INTO idempotency_records (key, user_id, response_status, response_body, response_error)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key, user_id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query, rec.Key, rec.UserID, rec.ResponseStatus, rec.ResponseBody, rec.ResponseError)
	if err != nil {
		return fmt.Errorf("failed to save idempotency record: %w", err)
	}
	return nil
}

// PurgeRecordsOlderThan ages out idempotency records. Run by the janitor;
// clients do not retry batches older than this window.
func (s *PostgresSyncStore) PurgeRecordsOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM idempotency_records WHERE created_at < $1`, time.Now().Add(-age))
	if err != nil {
		return 0, fmt.Errorf("failed to purge idempotency records: %w", err)
	}
	return res.RowsAffected()
}

// SaveConflict persists a conflict record.
func (s *PostgresSyncStore) SaveConflict(ctx context.Context, c *Conflict) error {
	query := `
		INSERT INTO sync_conflicts (entity_type, entity_id, user_id, data, reason)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	err := s.db.QueryRowContext(ctx, query,
		c.EntityType, c.EntityID, c.UserID, c.Data, c.Reason,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save conflict: %w", err)
	}
	return nil
}

// ListConflictsForUser returns a user's conflicts, newest first.
func (s *PostgresSyncStore) ListConflictsForUser(ctx context.Context, userID string, limit int) ([]Conflict, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `
		SELECT id, entity_type, entity_id, user_id, data, reason, created_at
		FROM sync_conflicts WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []Conflict
	for rows.Next() {
		var c Conflict
		if err := rows.Scan(&c.ID, &c.EntityType, &c.EntityID, &c.UserID, &c.Data, &c.Reason, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conflict: %w", err)
		}
		conflicts = append(conflicts, c)
	}
	return conflicts, rows.Err()
}
