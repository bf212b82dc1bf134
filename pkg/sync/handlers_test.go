package sync

import (
	"bytes"
	"context"
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

	"github.com/civitashq/civitas/pkg/audit"
	"github.com/civitashq/civitas/pkg/auth"
	"github.com/civitashq/civitas/pkg/domain"
)

const testToken = auth.TokenPrefix + "YWJjZGVmZ2hpamtsbW5vcA"

type staticResolver struct{ ids []string }

func (s staticResolver) EffectiveTerritoryIDs(ctx context.Context, primary *string, extra []string, expand bool) ([]string, error) {
	return s.ids, nil
}

func setupSyncHandlers(t *testing.T) (sqlmock.Sqlmock, *mux.Router, *fakeEntityStore, *sql.DB) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS users").WillReturnResult(sqlmock.NewResult(0, 0))
	authStore, err := auth.NewStore(db)
	require.NoError(t, err)

	guard := auth.NewGuard(authStore, staticResolver{ids: []string{"sec1"}})
	entities := newFakeEntityStore()
	engine := NewEngine(entities, newFakeRecordKeeper(), audit.NopLogger{})
	syncStore := &PostgresSyncStore{}

	h := NewHandlers(engine, guard, syncStore)
	router := mux.NewRouter()
	h.RegisterRoutes(router)
	return mock, router, entities, db
}

func expectSessionLookup(mock sqlmock.Sqlmock, role auth.Role) {
	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "user_id", "expires_at", "revoked_at", "last_active", "created_at",
		"id", "email", "name", "password_hash", "role",
		"territory_id", "branch_id", "territory_scope", "status", "created_at", "updated_at",
	}).AddRow(
		"sess-1", "user-1", now.Add(time.Hour), nil, now, now,
		"user-1", "ana@example.org", "Ana", "hash", role,
		"sec1", nil, pq.StringArray{}, "ACTIVE", now, now,
	)
	mock.ExpectQuery("SELECT (.+) FROM sessions s").WillReturnRows(rows)
	mock.ExpectExec("UPDATE sessions SET last_active").WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestBootstrapEndpoint(t *testing.T) {
	mock, router, entities, db := setupSyncHandlers(t)
	defer db.Close()

	entities.tasks["mine"] = &domain.Task{ID: "mine", TerritoryID: strPtr("sec1"), UpdatedAt: time.Now()}
	expectSessionLookup(mock, auth.RoleReferenteLocal)

	req := httptest.NewRequest("GET", "/sync/bootstrap", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var snapshot Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	assert.Len(t, snapshot.Tasks, 1)
	assert.False(t, snapshot.Timestamp.IsZero())
}

func TestBootstrapEndpoint_Unauthenticated(t *testing.T) {
	_, router, _, db := setupSyncHandlers(t)
	defer db.Close()

	req := httptest.NewRequest("GET", "/sync/bootstrap", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPullEndpoint(t *testing.T) {
	t.Run("missing since is a 400", func(t *testing.T) {
		mock, router, _, db := setupSyncHandlers(t)
		defer db.Close()

		expectSessionLookup(mock, auth.RoleReferenteLocal)

		req := httptest.NewRequest("GET", "/sync/pull", nil)
		req.Header.Set("Authorization", "Bearer "+testToken)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed since is a 400", func(t *testing.T) {
		mock, router, _, db := setupSyncHandlers(t)
		defer db.Close()

		expectSessionLookup(mock, auth.RoleReferenteLocal)

		req := httptest.NewRequest("GET", "/sync/pull?since=yesterday", nil)
		req.Header.Set("Authorization", "Bearer "+testToken)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("valid since returns deltas", func(t *testing.T) {
		mock, router, _, db := setupSyncHandlers(t)
		defer db.Close()

		expectSessionLookup(mock, auth.RoleReferenteLocal)

		since := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
		req := httptest.NewRequest("GET", "/sync/pull?since="+since, nil)
		req.Header.Set("Authorization", "Bearer "+testToken)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	})
}

func TestPushEndpoint(t *testing.T) {
	t.Run("applies a batch", func(t *testing.T) {
		mock, router, entities, db := setupSyncHandlers(t)
		defer db.Close()

		expectSessionLookup(mock, auth.RoleReferenteLocal)

		body, _ := json.Marshal(PushRequest{Actions: []Action{
			{Type: ActionCreateTask, Payload: json.RawMessage(`{"title":"Recorrida","territoryId":"sec1"}`), IdempotencyKey: "k1"},
		}})
		req := httptest.NewRequest("POST", "/sync/push", bytes.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+testToken)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp PushResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Results, 1)
		assert.Equal(t, http.StatusCreated, resp.Results[0].Status)
		assert.Len(t, entities.created, 1)
	})

	t.Run("empty batch is a 400", func(t *testing.T) {
		mock, router, _, db := setupSyncHandlers(t)
		defer db.Close()

		expectSessionLookup(mock, auth.RoleReferenteLocal)

		body, _ := json.Marshal(PushRequest{})
		req := httptest.NewRequest("POST", "/sync/push", bytes.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+testToken)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
