package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civitashq/civitas/pkg/auth"
)

const testToken = auth.TokenPrefix + "YWJjZGVmZ2hpamtsbW5vcA"

type nopResolver struct{}

func (nopResolver) EffectiveTerritoryIDs(ctx context.Context, primary *string, extra []string, expand bool) ([]string, error) {
	return nil, nil
}

func setupGuard(t *testing.T) (sqlmock.Sqlmock, *auth.Guard) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS users").WillReturnResult(sqlmock.NewResult(0, 0))
	store, err := auth.NewStore(db)
	require.NoError(t, err)
	return mock, auth.NewGuard(store, nopResolver{})
}

func expectValidSession(mock sqlmock.Sqlmock) {
	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "user_id", "expires_at", "revoked_at", "last_active", "created_at",
		"id", "email", "name", "password_hash", "role",
		"territory_id", "branch_id", "territory_scope", "status", "created_at", "updated_at",
	}).AddRow(
		"sess-1", "user-1", now.Add(time.Hour), nil, now, now,
		"user-1", "ana@example.org", "Ana", "hash", "Militante",
		nil, nil, pq.StringArray{}, "ACTIVE", now, now,
	)
	mock.ExpectQuery("SELECT (.+) FROM sessions s").WillReturnRows(rows)
	mock.ExpectExec("UPDATE sessions SET last_active").WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestAuthMiddleware(t *testing.T) {
	t.Run("valid token puts the session on the context", func(t *testing.T) {
		mock, guard := setupGuard(t)
		expectValidSession(mock)

		var captured *auth.Session
		handler := NewAuthMiddleware(guard, false).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			captured = SessionFromContext(r)
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest("GET", "/tasks", nil)
		req.Header.Set("Authorization", "Bearer "+testToken)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, captured)
		assert.Equal(t, "user-1", captured.UserID)
	})

	t.Run("missing token is a 401 when required", func(t *testing.T) {
		_, guard := setupGuard(t)

		handler := NewAuthMiddleware(guard, false).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler must not run")
		}))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/tasks", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("missing token passes through when optional", func(t *testing.T) {
		_, guard := setupGuard(t)

		handler := NewAuthMiddleware(guard, true).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Nil(t, SessionFromContext(r))
			w.WriteHeader(http.StatusOK)
		}))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/tasks", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
