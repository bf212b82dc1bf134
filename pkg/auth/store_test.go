package auth

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civitashq/civitas/pkg/apperr"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock
}

func TestNewStore(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS users").WillReturnResult(sqlmock.NewResult(0, 0))

		store, err := NewStore(db)
		require.NoError(t, err)
		assert.NotNil(t, store)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nil database", func(t *testing.T) {
		store, err := NewStore(nil)
		assert.Error(t, err)
		assert.Nil(t, store)
	})
}

func TestStore_CreateUser(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery("INSERT INTO users").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	store := &Store{db: db}
	user := &User{
		Email:        "ana@example.org",
		Name:         "Ana",
		PasswordHash: "hash",
		Role:         RoleMilitante,
	}
	err := store.CreateUser(context.Background(), user)
	require.NoError(t, err)

	assert.NotEmpty(t, user.ID, "id is assigned")
	assert.Equal(t, StatusPending, user.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func userRows(id string, status UserStatus) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "email", "name", "password_hash", "role",
		"territory_id", "branch_id", "territory_scope", "status", "created_at", "updated_at",
	}).AddRow(id, "ana@example.org", "Ana", "hash", "Militante",
		nil, nil, pq.StringArray{}, status, now, now)
}

func TestStore_GetUserByID(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectQuery("SELECT (.+) FROM users WHERE id").
			WithArgs("user-1").
			WillReturnRows(userRows("user-1", StatusActive))

		store := &Store{db: db}
		user, err := store.GetUserByID(context.Background(), "user-1")
		require.NoError(t, err)
		assert.Equal(t, "user-1", user.ID)
		assert.Equal(t, RoleMilitante, user.Role)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectQuery("SELECT (.+) FROM users WHERE id").
			WithArgs("ghost").
			WillReturnError(sql.ErrNoRows)

		store := &Store{db: db}
		_, err := store.GetUserByID(context.Background(), "ghost")

		var nf *apperr.NotFoundError
		assert.ErrorAs(t, err, &nf)
	})
}

func TestStore_RevokeUser(t *testing.T) {
	t.Run("flips status and purges sessions atomically", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE users SET status").
			WithArgs(StatusRevoked, "user-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("DELETE FROM sessions WHERE user_id").
			WithArgs("user-1").
			WillReturnResult(sqlmock.NewResult(0, 3))
		mock.ExpectCommit()

		store := &Store{db: db}
		err := store.RevokeUser(context.Background(), "user-1")
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown user rolls back", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE users SET status").
			WithArgs(StatusRevoked, "ghost").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		store := &Store{db: db}
		err := store.RevokeUser(context.Background(), "ghost")

		var nf *apperr.NotFoundError
		assert.ErrorAs(t, err, &nf)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("session purge failure aborts the transaction", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE users SET status").
			WithArgs(StatusRevoked, "user-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("DELETE FROM sessions WHERE user_id").
			WithArgs("user-1").
			WillReturnError(errors.New("boom"))
		mock.ExpectRollback()

		store := &Store{db: db}
		err := store.RevokeUser(context.Background(), "user-1")
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_CreateSession(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery("INSERT INTO sessions").
		WillReturnRows(sqlmock.NewRows([]string{"last_active", "created_at"}).AddRow(now, now))

	store := &Store{db: db}
	sess, err := store.CreateSession(context.Background(), "user-1", "hash123", time.Hour)
	require.NoError(t, err)

	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, "user-1", sess.UserID)
	assert.True(t, sess.ExpiresAt.After(now))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_LookupSession(t *testing.T) {
	t.Run("joins the owning user", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		now := time.Now()
		rows := sqlmock.NewRows([]string{
			"id", "user_id", "expires_at", "revoked_at", "last_active", "created_at",
			"id", "email", "name", "password_hash", "role",
			"territory_id", "branch_id", "territory_scope", "status", "created_at", "updated_at",
		}).AddRow(
			"sess-1", "user-1", now.Add(time.Hour), nil, now, now,
			"user-1", "ana@example.org", "Ana", "hash", "AdminProvincial",
			"prov1", nil, pq.StringArray{"sec3"}, "ACTIVE", now, now,
		)
		mock.ExpectQuery("SELECT (.+) FROM sessions s").
			WithArgs("hash123").
			WillReturnRows(rows)

		store := &Store{db: db}
		sess, err := store.LookupSession(context.Background(), "hash123")
		require.NoError(t, err)

		require.NotNil(t, sess.User)
		assert.Equal(t, RoleAdminProvincial, sess.User.Role)
		assert.Equal(t, []string{"sec3"}, sess.User.TerritoryScope)
		assert.True(t, sess.Valid(now))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown hash is an auth error", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectQuery("SELECT (.+) FROM sessions s").
			WithArgs("nope").
			WillReturnError(sql.ErrNoRows)

		store := &Store{db: db}
		_, err := store.LookupSession(context.Background(), "nope")

		var authErr *apperr.AuthError
		assert.ErrorAs(t, err, &authErr)
	})
}

func TestStore_PurgeExpiredSessions(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()

	mock.ExpectExec("DELETE FROM sessions WHERE expires_at").
		WillReturnResult(sqlmock.NewResult(0, 7))

	store := &Store{db: db}
	n, err := store.PurgeExpiredSessions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
