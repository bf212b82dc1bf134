package scope

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresTerritoryStore loads the territorial forest from PostgreSQL.
type PostgresTerritoryStore struct {
	db *sql.DB
}

// NewPostgresTerritoryStore creates the store and ensures its table exists.
func NewPostgresTerritoryStore(db *sql.DB) (*PostgresTerritoryStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	s := &PostgresTerritoryStore{db: db}
	if err := s.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure territories table: %w", err)
	}
	return s, nil
}

func (s *PostgresTerritoryStore) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS territories (
		id UUID PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		type VARCHAR(50) NOT NULL,
		parent_id UUID REFERENCES territories(id)
	);

	CREATE INDEX IF NOT EXISTS idx_territories_parent_id ON territories(parent_id);
	`

	_, err := s.db.Exec(query)
	return err
}

// ListAll returns every territory row. The full set is small enough to load
// at once; the resolver caches closures on top of this.
func (s *PostgresTerritoryStore) ListAll(ctx context.Context) ([]Territory, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, type, parent_id FROM territories`)
	if err != nil {
		return nil, fmt.Errorf("failed to list territories: %w", err)
	}
	defer rows.Close()

	var territories []Territory
	for rows.Next() {
		var t Territory
		if err := rows.Scan(&t.ID, &t.Name, &t.Type, &t.ParentID); err != nil {
			return nil, fmt.Errorf("failed to scan territory: %w", err)
		}
		territories = append(territories, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate territories: %w", err)
	}
	return territories, nil
}

// Create inserts a territory node.
func (s *PostgresTerritoryStore) Create(ctx context.Context, t *Territory) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO territories (id, name, type, parent_id) VALUES ($1, $2, $3, $4)`,
		t.ID, t.Name, t.Type, t.ParentID)
	if err != nil {
		return fmt.Errorf("failed to insert territory: %w", err)
	}
	return nil
}
