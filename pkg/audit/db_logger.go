package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DBLogger writes audit entries to PostgreSQL synchronously. Wrap it in an
// AsyncLogger for the request path.
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a database audit logger and ensures its table exists.
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	l := &DBLogger{db: db}
	if err := l.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_logs table: %w", err)
	}
	return l, nil
}

func (l *DBLogger) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_logs (
		id BIGSERIAL PRIMARY KEY,
		action VARCHAR(100) NOT NULL,
		entity VARCHAR(100) NOT NULL,
		entity_id VARCHAR(255),
		actor_id VARCHAR(255),
		request_id VARCHAR(100),
		metadata JSONB,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_audit_logs_created_at ON audit_logs(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_action ON audit_logs(action);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_actor_id ON audit_logs(actor_id);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_entity ON audit_logs(entity, entity_id);
	`

	_, err := l.db.Exec(query)
	return err
}

// Insert writes one entry. Exposed for the async drainer; Record callers go
// through the Logger interface.
func (l *DBLogger) Insert(ctx context.Context, entry Entry) error {
	var metadataJSON []byte
	var err error
	if entry.Metadata != nil {
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO audit_logs (action, entity, entity_id, actor_id, request_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = l.db.ExecContext(ctx, query,
		entry.Action, entry.Entity, entry.EntityID, entry.ActorID,
		entry.RequestID, metadataJSON, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// SearchFilter narrows audit queries. Zero fields are ignored.
type SearchFilter struct {
	Action  string
	Entity  string
	ActorID string
	Since   time.Time
	Limit   int
}

// Search returns entries matching the filter, newest first.
func (l *DBLogger) Search(ctx context.Context, filter SearchFilter) ([]Entry, error) {
	var conds []string
	var args []interface{}

	if filter.Action != "" {
		args = append(args, filter.Action)
		conds = append(conds, fmt.Sprintf("action = $%d", len(args)))
	}
	if filter.Entity != "" {
		args = append(args, filter.Entity)
		conds = append(conds, fmt.Sprintf("entity = $%d", len(args)))
	}
	if filter.ActorID != "" {
		args = append(args, filter.ActorID)
		conds = append(conds, fmt.Sprintf("actor_id = $%d", len(args)))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		conds = append(conds, fmt.Sprintf("created_at >= $%d", len(args)))
	}

	query := `SELECT id, action, entity, entity_id, actor_id, request_id, metadata, created_at FROM audit_logs`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit logs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var entityID, actorID, requestID sql.NullString
		var metadataJSON []byte
		if err := rows.Scan(&e.ID, &e.Action, &e.Entity, &entityID, &actorID, &requestID, &metadataJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		e.EntityID = entityID.String
		e.ActorID = actorID.String
		e.RequestID = requestID.String
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
