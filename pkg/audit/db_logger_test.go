package audit

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock
}

func TestNewDBLogger(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_logs").WillReturnResult(sqlmock.NewResult(0, 0))

		logger, err := NewDBLogger(db)
		require.NoError(t, err)
		assert.NotNil(t, logger)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nil database", func(t *testing.T) {
		logger, err := NewDBLogger(nil)
		assert.Error(t, err)
		assert.Nil(t, logger)
	})

	t.Run("table creation error", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_logs").WillReturnError(errors.New("boom"))

		logger, err := NewDBLogger(db)
		assert.Error(t, err)
		assert.Nil(t, logger)
	})
}

func TestDBLogger_Insert(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()

	mock.ExpectExec("INSERT INTO audit_logs").
		WillReturnResult(sqlmock.NewResult(1, 1))

	logger := &DBLogger{db: db}
	err := logger.Insert(context.Background(), Entry{
		Action:   ActionUserRevoked,
		Entity:   "user",
		EntityID: "user-1",
		ActorID:  "admin-1",
		Metadata: map[string]interface{}{"reason": "left the organization"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBLogger_Search(t *testing.T) {
	t.Run("filters compose incrementally", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		now := time.Now()
		rows := sqlmock.NewRows([]string{
			"id", "action", "entity", "entity_id", "actor_id", "request_id", "metadata", "created_at",
		}).AddRow(int64(1), ActionLogin, "session", "sess-1", "user-1", "req-1", []byte(`{"ip":"10.0.0.1"}`), now)

		mock.ExpectQuery("SELECT (.+) FROM audit_logs WHERE action = \\$1 AND actor_id = \\$2").
			WithArgs(ActionLogin, "user-1", 50).
			WillReturnRows(rows)

		logger := &DBLogger{db: db}
		entries, err := logger.Search(context.Background(), SearchFilter{
			Action:  ActionLogin,
			ActorID: "user-1",
			Limit:   50,
		})
		require.NoError(t, err)
		require.Len(t, entries, 1)

		assert.Equal(t, ActionLogin, entries[0].Action)
		assert.Equal(t, "10.0.0.1", entries[0].Metadata["ip"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no filters uses default limit", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		rows := sqlmock.NewRows([]string{
			"id", "action", "entity", "entity_id", "actor_id", "request_id", "metadata", "created_at",
		})
		mock.ExpectQuery("SELECT (.+) FROM audit_logs ORDER BY created_at DESC LIMIT \\$1").
			WithArgs(100).
			WillReturnRows(rows)

		logger := &DBLogger{db: db}
		entries, err := logger.Search(context.Background(), SearchFilter{})
		require.NoError(t, err)
		assert.Empty(t, entries)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
