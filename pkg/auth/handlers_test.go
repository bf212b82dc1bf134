package auth

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/mux"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/civitashq/civitas/pkg/audit"
)

func setupHandlers(t *testing.T) (*Handlers, sqlmock.Sqlmock, *mux.Router, *sql.DB) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	store := &Store{db: db}
	guard := NewGuard(store, &fakeResolver{})
	h := NewHandlers(store, guard, audit.NopLogger{})

	router := mux.NewRouter()
	h.RegisterRoutes(router)
	return h, mock, router, db
}

func loginUserRow(t *testing.T, status UserStatus, password string) *sqlmock.Rows {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "email", "name", "password_hash", "role",
		"territory_id", "branch_id", "territory_scope", "status", "created_at", "updated_at",
	}).AddRow("user-1", "ana@example.org", "Ana", string(hash), "Militante",
		nil, nil, pq.StringArray{}, status, now, now)
}

func TestLogin(t *testing.T) {
	t.Run("success sets cookie and returns token", func(t *testing.T) {
		_, mock, router, db := setupHandlers(t)
		defer db.Close()

		now := time.Now()
		mock.ExpectQuery("SELECT (.+) FROM users WHERE email").
			WithArgs("ana@example.org").
			WillReturnRows(loginUserRow(t, StatusActive, "secreta123"))
		mock.ExpectQuery("INSERT INTO sessions").
			WillReturnRows(sqlmock.NewRows([]string{"last_active", "created_at"}).AddRow(now, now))

		body, _ := json.Marshal(map[string]string{"email": "ana@example.org", "password": "secreta123"})
		req := httptest.NewRequest("POST", "/auth/login", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp struct {
			Token string `json:"token"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Contains(t, resp.Token, TokenPrefix)

		cookies := rec.Result().Cookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, SessionCookieName, cookies[0].Name)
		assert.True(t, cookies[0].HttpOnly)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("wrong password is unauthorized", func(t *testing.T) {
		_, mock, router, db := setupHandlers(t)
		defer db.Close()

		mock.ExpectQuery("SELECT (.+) FROM users WHERE email").
			WithArgs("ana@example.org").
			WillReturnRows(loginUserRow(t, StatusActive, "secreta123"))

		body, _ := json.Marshal(map[string]string{"email": "ana@example.org", "password": "wrong"})
		req := httptest.NewRequest("POST", "/auth/login", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("unknown email is unauthorized, not not-found", func(t *testing.T) {
		_, mock, router, db := setupHandlers(t)
		defer db.Close()

		mock.ExpectQuery("SELECT (.+) FROM users WHERE email").
			WithArgs("ghost@example.org").
			WillReturnError(sql.ErrNoRows)

		body, _ := json.Marshal(map[string]string{"email": "ghost@example.org", "password": "x"})
		req := httptest.NewRequest("POST", "/auth/login", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("pending user cannot log in", func(t *testing.T) {
		_, mock, router, db := setupHandlers(t)
		defer db.Close()

		mock.ExpectQuery("SELECT (.+) FROM users WHERE email").
			WithArgs("ana@example.org").
			WillReturnRows(loginUserRow(t, StatusPending, "secreta123"))

		body, _ := json.Marshal(map[string]string{"email": "ana@example.org", "password": "secreta123"})
		req := httptest.NewRequest("POST", "/auth/login", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("missing fields are bad request", func(t *testing.T) {
		_, _, router, db := setupHandlers(t)
		defer db.Close()

		body, _ := json.Marshal(map[string]string{"email": "ana@example.org"})
		req := httptest.NewRequest("POST", "/auth/login", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func sessionJoinRows(role Role, status UserStatus) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "user_id", "expires_at", "revoked_at", "last_active", "created_at",
		"id", "email", "name", "password_hash", "role",
		"territory_id", "branch_id", "territory_scope", "status", "created_at", "updated_at",
	}).AddRow(
		"sess-1", "admin-1", now.Add(time.Hour), nil, now, now,
		"admin-1", "root@example.org", "Root", "hash", role,
		nil, nil, pq.StringArray{}, status, now, now,
	)
}

func TestRevokeUserEndpoint(t *testing.T) {
	token := TokenPrefix + "YWJjZGVmZ2hpamtsbW5vcA"

	t.Run("super admin revokes a user", func(t *testing.T) {
		_, mock, router, db := setupHandlers(t)
		defer db.Close()

		mock.ExpectQuery("SELECT (.+) FROM sessions s").
			WillReturnRows(sessionJoinRows(RoleSuperAdminNacional, StatusActive))
		mock.ExpectExec("UPDATE sessions SET last_active").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE users SET status").
			WithArgs(StatusRevoked, "user-9").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("DELETE FROM sessions WHERE user_id").
			WithArgs("user-9").
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectCommit()

		req := httptest.NewRequest("POST", "/users/user-9/revoke", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("role without users:delete is forbidden", func(t *testing.T) {
		_, mock, router, db := setupHandlers(t)
		defer db.Close()

		mock.ExpectQuery("SELECT (.+) FROM sessions s").
			WillReturnRows(sessionJoinRows(RoleAdminProvincial, StatusActive))
		mock.ExpectExec("UPDATE sessions SET last_active").
			WillReturnResult(sqlmock.NewResult(0, 1))

		req := httptest.NewRequest("POST", "/users/user-9/revoke", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("no token is unauthorized", func(t *testing.T) {
		_, _, router, db := setupHandlers(t)
		defer db.Close()

		req := httptest.NewRequest("POST", "/users/user-9/revoke", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("self revocation is rejected", func(t *testing.T) {
		_, mock, router, db := setupHandlers(t)
		defer db.Close()

		mock.ExpectQuery("SELECT (.+) FROM sessions s").
			WillReturnRows(sessionJoinRows(RoleSuperAdminNacional, StatusActive))
		mock.ExpectExec("UPDATE sessions SET last_active").
			WillReturnResult(sqlmock.NewResult(0, 1))

		req := httptest.NewRequest("POST", "/users/admin-1/revoke", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestTokenFromRequest(t *testing.T) {
	t.Run("bearer header wins", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer cvt_abc")
		req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "cvt_cookie"})
		assert.Equal(t, "cvt_abc", TokenFromRequest(req))
	})

	t.Run("cookie fallback", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "cvt_cookie"})
		assert.Equal(t, "cvt_cookie", TokenFromRequest(req))
	})

	t.Run("nothing present", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		assert.Equal(t, "", TokenFromRequest(req))
	})
}

func TestSetSessionTTL(t *testing.T) {
	h := NewHandlers(&Store{}, nil, audit.NopLogger{})
	assert.Equal(t, DefaultSessionTTL, h.sessionTTL)

	h.SetSessionTTL(time.Hour)
	assert.Equal(t, time.Hour, h.sessionTTL)

	h.SetSessionTTL(0)
	assert.Equal(t, time.Hour, h.sessionTTL)
}
