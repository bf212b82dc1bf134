package sync

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/civitashq/civitas/pkg/apperr"
	"github.com/civitashq/civitas/pkg/auth"
	"github.com/civitashq/civitas/pkg/httputil"
	"github.com/civitashq/civitas/pkg/scope"
)

// Handlers serves the sync protocol endpoints.
type Handlers struct {
	engine    *Engine
	guard     *auth.Guard
	store     *PostgresSyncStore
	scopeOpts scope.Options
}

// NewHandlers creates the sync handler group.
func NewHandlers(engine *Engine, guard *auth.Guard, store *PostgresSyncStore) *Handlers {
	return &Handlers{
		engine:    engine,
		guard:     guard,
		store:     store,
		scopeOpts: scope.DefaultOptions(),
	}
}

// RegisterRoutes registers the sync protocol routes.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/sync/bootstrap", h.bootstrap).Methods("GET")
	router.HandleFunc("/sync/pull", h.pull).Methods("GET")
	router.HandleFunc("/sync/push", h.push).Methods("POST")
	router.HandleFunc("/sync/conflicts", h.conflicts).Methods("GET")
}

func (h *Handlers) authorize(w http.ResponseWriter, r *http.Request) (*auth.Session, scope.Filter, bool) {
	sess, err := h.guard.RequirePermission(r.Context(), auth.TokenFromRequest(r), auth.PermSyncUse)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return nil, scope.Filter{}, false
	}
	filter, err := h.guard.ScopeForSession(r.Context(), sess, h.scopeOpts)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return nil, scope.Filter{}, false
	}
	return sess, filter, true
}

// bootstrap handles GET /sync/bootstrap
func (h *Handlers) bootstrap(w http.ResponseWriter, r *http.Request) {
	_, filter, ok := h.authorize(w, r)
	if !ok {
		return
	}

	snapshot, err := h.engine.Bootstrap(r.Context(), filter)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, snapshot)
}

// pull handles GET /sync/pull?since=<RFC3339>
func (h *Handlers) pull(w http.ResponseWriter, r *http.Request) {
	_, filter, ok := h.authorize(w, r)
	if !ok {
		return
	}

	since, err := httputil.ParseQueryTime(r, "since")
	if err != nil {
		httputil.WriteAppError(w, r, apperr.NewValidationError("since", err.Error()))
		return
	}

	snapshot, err := h.engine.Pull(r.Context(), filter, since)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, snapshot)
}

// push handles POST /sync/push
func (h *Handlers) push(w http.ResponseWriter, r *http.Request) {
	sess, filter, ok := h.authorize(w, r)
	if !ok {
		return
	}

	var req PushRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if len(req.Actions) == 0 {
		httputil.WriteAppError(w, r, apperr.NewValidationError("actions", "at least one action is required"))
		return
	}

	resp, err := h.engine.Push(r.Context(), sess.UserID, filter, req.Actions)
	if err != nil && !resp.Aborted {
		httputil.WriteAppError(w, r, err)
		return
	}
	// An aborted batch still returns its partial results; the client
	// resubmits the unprocessed tail.
	httputil.WriteSuccess(w, resp)
}

// conflicts handles GET /sync/conflicts
func (h *Handlers) conflicts(w http.ResponseWriter, r *http.Request) {
	sess, _, ok := h.authorize(w, r)
	if !ok {
		return
	}

	limit, err := httputil.ParseQueryInt(r, "limit", 100)
	if err != nil {
		httputil.WriteAppError(w, r, apperr.NewValidationError("limit", err.Error()))
		return
	}

	conflicts, err := h.store.ListConflictsForUser(r.Context(), sess.UserID, limit)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"conflicts": conflicts})
}
