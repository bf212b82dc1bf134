package invite

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/mux"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civitashq/civitas/pkg/audit"
	"github.com/civitashq/civitas/pkg/auth"
	"github.com/civitashq/civitas/pkg/notify"
)

const testToken = auth.TokenPrefix + "YWJjZGVmZ2hpamtsbW5vcA"

// recordingSender captures messages; delivery happens on a background
// goroutine, so access is synchronized and tests poll via messages().
type recordingSender struct {
	mu   sync.Mutex
	sent []notify.Message
}

func (s *recordingSender) Send(ctx context.Context, msg notify.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return nil
}

func (s *recordingSender) messages() []notify.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notify.Message(nil), s.sent...)
}

type staticResolver struct{}

func (staticResolver) EffectiveTerritoryIDs(ctx context.Context, primary *string, extra []string, expand bool) ([]string, error) {
	return nil, nil
}

func setupInviteHandlers(t *testing.T) (sqlmock.Sqlmock, *mux.Router, *recordingSender, *sql.DB) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS users").WillReturnResult(sqlmock.NewResult(0, 0))
	authStore, err := auth.NewStore(db)
	require.NoError(t, err)

	guard := auth.NewGuard(authStore, staticResolver{})
	sender := &recordingSender{}

	h := NewHandlers(&Store{db: db}, guard, sender, audit.NopLogger{}, "https://app.civitas.example")
	router := mux.NewRouter()
	h.RegisterRoutes(router)
	return mock, router, sender, db
}

func expectSessionLookup(mock sqlmock.Sqlmock, role auth.Role) {
	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "user_id", "expires_at", "revoked_at", "last_active", "created_at",
		"id", "email", "name", "password_hash", "role",
		"territory_id", "branch_id", "territory_scope", "status", "created_at", "updated_at",
	}).AddRow(
		"sess-1", "admin-1", now.Add(time.Hour), nil, now, now,
		"admin-1", "admin@example.org", "Admin", "hash", role,
		"prov1", nil, pq.StringArray{}, "ACTIVE", now, now,
	)
	mock.ExpectQuery("SELECT (.+) FROM sessions s").WillReturnRows(rows)
	mock.ExpectExec("UPDATE sessions SET last_active").WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestCreateInvitation(t *testing.T) {
	t.Run("returns the token once and sends the link", func(t *testing.T) {
		mock, router, sender, db := setupInviteHandlers(t)
		defer db.Close()

		expectSessionLookup(mock, auth.RoleAdminProvincial)
		mock.ExpectQuery("INSERT INTO invitations").
			WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))

		body, _ := json.Marshal(map[string]interface{}{
			"email": "ana@example.org", "role": "ReferenteLocal", "territoryId": "sec1",
		})
		req := httptest.NewRequest("POST", "/invitations", bytes.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+testToken)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var resp struct {
			Token string `json:"token"`
			URL   string `json:"url"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Contains(t, resp.Token, TokenPrefix)
		assert.Contains(t, resp.URL, resp.Token)

		require.Eventually(t, func() bool {
			return len(sender.messages()) == 1
		}, time.Second, 10*time.Millisecond)
		sent := sender.messages()
		assert.Equal(t, "ana@example.org", sent[0].To)
		assert.Contains(t, sent[0].Body, resp.Token)
	})

	t.Run("militante cannot invite", func(t *testing.T) {
		mock, router, _, db := setupInviteHandlers(t)
		defer db.Close()

		expectSessionLookup(mock, auth.RoleMilitante)

		body, _ := json.Marshal(map[string]interface{}{"email": "x@example.org", "role": "Militante"})
		req := httptest.NewRequest("POST", "/invitations", bytes.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+testToken)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("unknown role is a 400", func(t *testing.T) {
		mock, router, _, db := setupInviteHandlers(t)
		defer db.Close()

		expectSessionLookup(mock, auth.RoleAdminProvincial)

		body, _ := json.Marshal(map[string]interface{}{"email": "x@example.org", "role": "Emperor"})
		req := httptest.NewRequest("POST", "/invitations", bytes.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+testToken)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestValidateInvitation(t *testing.T) {
	t.Run("pending invitation shows masked metadata", func(t *testing.T) {
		mock, router, _, db := setupInviteHandlers(t)
		defer db.Close()

		mock.ExpectQuery("SELECT (.+) FROM invitations WHERE token_hash").
			WillReturnRows(invitationRows().
				AddRow("inv-1", "ana.perez@example.org", "hash", "ReferenteLocal", nil, nil,
					pq.StringArray{}, time.Now().Add(time.Hour), nil, nil, "admin-1", time.Now()))

		req := httptest.NewRequest("GET", "/invitations/"+testToken, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "a********@example.org", resp["email"])
		assert.Equal(t, "ReferenteLocal", resp["role"])
	})

	t.Run("revoked invitation is a 401", func(t *testing.T) {
		mock, router, _, db := setupInviteHandlers(t)
		defer db.Close()

		revoked := time.Now().Add(-time.Hour)
		mock.ExpectQuery("SELECT (.+) FROM invitations WHERE token_hash").
			WillReturnRows(invitationRows().
				AddRow("inv-1", "ana@example.org", "hash", "ReferenteLocal", nil, nil,
					pq.StringArray{}, time.Now().Add(time.Hour), nil, revoked, "admin-1", revoked))

		req := httptest.NewRequest("GET", "/invitations/"+testToken, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestAcceptInvitation(t *testing.T) {
	t.Run("activates the invited user", func(t *testing.T) {
		mock, router, _, db := setupInviteHandlers(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery("UPDATE invitations SET used_at").
			WillReturnRows(sqlmock.NewRows([]string{"email", "role", "branch_id", "territory_id", "territory_scope"}).
				AddRow("ana@example.org", "ReferenteLocal", nil, "sec1", pq.StringArray{}))
		mock.ExpectQuery("INSERT INTO users").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("user-1"))
		mock.ExpectCommit()

		body, _ := json.Marshal(map[string]string{"name": "Ana", "password": "correcthorse"})
		req := httptest.NewRequest("POST", "/invitations/"+testToken+"/accept", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var resp map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "user-1", resp["user_id"])
	})

	t.Run("short password is a 400", func(t *testing.T) {
		_, router, _, db := setupInviteHandlers(t)
		defer db.Close()

		body, _ := json.Marshal(map[string]string{"name": "Ana", "password": "short"})
		req := httptest.NewRequest("POST", "/invitations/"+testToken+"/accept", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRevokeInvitation_UsedIs422(t *testing.T) {
	mock, router, _, db := setupInviteHandlers(t)
	defer db.Close()

	expectSessionLookup(mock, auth.RoleAdminProvincial)

	used := time.Now().Add(-time.Hour)
	mock.ExpectExec("UPDATE invitations SET revoked_at").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM invitations WHERE id").
		WillReturnRows(invitationRows().
			AddRow("inv-1", "ana@example.org", "hash", "ReferenteLocal", nil, nil,
				pq.StringArray{}, time.Now().Add(time.Hour), used, nil, "admin-1", used))

	req := httptest.NewRequest("POST", "/invitations/inv-1/revoke", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
}

func TestSetTTL(t *testing.T) {
	h := NewHandlers(&Store{}, nil, nil, audit.NopLogger{}, "https://app.civitas.example")
	assert.Equal(t, DefaultInvitationTTL, h.ttl)

	h.SetTTL(24 * time.Hour)
	assert.Equal(t, 24*time.Hour, h.ttl)

	h.SetTTL(0)
	assert.Equal(t, 24*time.Hour, h.ttl)
}

func TestMaskEmail(t *testing.T) {
	assert.Equal(t, "a********@example.org", maskEmail("ana.perez@example.org"))
	assert.Equal(t, "x@example.org", maskEmail("x@example.org"))
	assert.Equal(t, "not-an-email", maskEmail("not-an-email"))
}
