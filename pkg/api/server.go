package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/civitashq/civitas/pkg/apperr"
	"github.com/civitashq/civitas/pkg/audit"
	"github.com/civitashq/civitas/pkg/auth"
	"github.com/civitashq/civitas/pkg/blob"
	"github.com/civitashq/civitas/pkg/domain"
	"github.com/civitashq/civitas/pkg/httputil"
	"github.com/civitashq/civitas/pkg/invite"
	"github.com/civitashq/civitas/pkg/middleware"
	"github.com/civitashq/civitas/pkg/notify"
	"github.com/civitashq/civitas/pkg/observability"
	"github.com/civitashq/civitas/pkg/scope"
	"github.com/civitashq/civitas/pkg/sync"
)

// Dependencies carries everything the server wires together. RateLimit is
// optional; nil disables rate limiting (tests).
type Dependencies struct {
	Guard          *auth.Guard
	AuthStore      *auth.Store
	TerritoryStore *scope.PostgresTerritoryStore
	DomainStore    *domain.Store
	SyncEngine     *sync.Engine
	SyncStore      *sync.PostgresSyncStore
	InviteStore    *invite.Store
	Audit          audit.Logger
	AuditSearch    *audit.DBLogger
	Blob           blob.Store
	Sender         notify.Sender
	Logger         *observability.Logger
	BaseURL        string
	RateLimit      func(http.Handler) http.Handler

	// Optional lifetime overrides; zero values keep the package defaults.
	SessionTTL    time.Duration
	InvitationTTL time.Duration
}

// Server is the assembled HTTP API.
type Server struct {
	deps    Dependencies
	router  *mux.Router
	handler http.Handler
}

// NewServer builds the router and middleware chain.
func NewServer(deps Dependencies) *Server {
	s := &Server{
		deps:   deps,
		router: mux.NewRouter(),
	}
	s.setupRoutes()

	middlewares := []func(http.Handler) http.Handler{
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(deps.Logger),
		httputil.RecoveryMiddleware,
		middleware.NewAuthMiddleware(deps.Guard, true).Handler,
	}
	if deps.RateLimit != nil {
		middlewares = append(middlewares, deps.RateLimit)
	}
	s.handler = httputil.Chain(middlewares...)(s.router)
	return s
}

// Handler returns the root handler with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) setupRoutes() {
	authHandlers := auth.NewHandlers(s.deps.AuthStore, s.deps.Guard, s.deps.Audit)
	authHandlers.SetSessionTTL(s.deps.SessionTTL)
	authHandlers.RegisterRoutes(s.router)

	domain.NewHandlers(s.deps.DomainStore, s.deps.Guard, s.deps.Audit).RegisterRoutes(s.router)
	sync.NewHandlers(s.deps.SyncEngine, s.deps.Guard, s.deps.SyncStore).RegisterRoutes(s.router)

	inviteHandlers := invite.NewHandlers(s.deps.InviteStore, s.deps.Guard, s.deps.Sender, s.deps.Audit, s.deps.BaseURL)
	inviteHandlers.SetTTL(s.deps.InvitationTTL)
	inviteHandlers.RegisterRoutes(s.router)

	s.router.HandleFunc("/territories", s.listTerritories).Methods("GET")
	s.router.HandleFunc("/territories", s.createTerritory).Methods("POST")
	s.router.HandleFunc("/audit", s.searchAudit).Methods("GET")
	s.router.HandleFunc("/attachments", s.presignAttachmentUpload).Methods("POST")
	s.router.HandleFunc("/attachments/{hash}/url", s.presignAttachmentDownload).Methods("GET")
}

// listTerritories handles GET /territories. Any authenticated user may read
// the hierarchy; the client needs it to label its local data.
func (s *Server) listTerritories(w http.ResponseWriter, r *http.Request) {
	_, err := s.deps.Guard.RequireAuth(r.Context(), auth.TokenFromRequest(r))
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	territories, err := s.deps.TerritoryStore.ListAll(r.Context())
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"territories": territories})
}

// createTerritory handles POST /territories
func (s *Server) createTerritory(w http.ResponseWriter, r *http.Request) {
	sess, err := s.deps.Guard.RequirePermission(r.Context(), auth.TokenFromRequest(r), auth.PermUsersWrite)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	var territory scope.Territory
	if !httputil.ParseJSONOrError(w, r, &territory) {
		return
	}
	if !httputil.RequireNonEmpty(w, territory.Name, "name") || !httputil.RequireNonEmpty(w, territory.Type, "type") {
		return
	}

	if err := s.deps.TerritoryStore.Create(r.Context(), &territory); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	s.deps.Audit.Record(r.Context(), audit.Entry{
		Action:   audit.ActionCreate,
		Entity:   "territory",
		EntityID: territory.ID,
		ActorID:  sess.UserID,
	})
	httputil.WriteCreated(w, territory)
}

// searchAudit handles GET /audit
func (s *Server) searchAudit(w http.ResponseWriter, r *http.Request) {
	_, err := s.deps.Guard.RequirePermission(r.Context(), auth.TokenFromRequest(r), auth.PermAuditRead)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	if s.deps.AuditSearch == nil {
		httputil.WriteAppError(w, r, apperr.NewNotFoundError("audit log", ""))
		return
	}

	limit, err := httputil.ParseQueryInt(r, "limit", 0)
	if err != nil {
		httputil.WriteAppError(w, r, apperr.NewValidationError("limit", "must be an integer"))
		return
	}
	since, err := httputil.ParseQueryTime(r, "since")
	if err != nil {
		httputil.WriteAppError(w, r, apperr.NewValidationError("since", "must be RFC 3339"))
		return
	}

	entries, err := s.deps.AuditSearch.Search(r.Context(), audit.SearchFilter{
		Action:  httputil.ParseQueryString(r, "action", ""),
		Entity:  httputil.ParseQueryString(r, "entity", ""),
		ActorID: httputil.ParseQueryString(r, "actor_id", ""),
		Since:   since,
		Limit:   limit,
	})
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"entries": entries})
}

// presignAttachmentUpload handles POST /attachments. The client hashes the
// file locally and receives a URL it can PUT the bytes to; the server never
// relays attachment payloads.
func (s *Server) presignAttachmentUpload(w http.ResponseWriter, r *http.Request) {
	_, err := s.deps.Guard.RequireAuth(r.Context(), auth.TokenFromRequest(r))
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	if s.deps.Blob == nil {
		httputil.WriteAppError(w, r, apperr.NewNotFoundError("attachment storage", ""))
		return
	}

	var req struct {
		SHA256      string `json:"sha256"`
		ContentType string `json:"content_type"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	key := blob.KeyFromHash(req.SHA256)
	if key == "" {
		httputil.WriteAppError(w, r, apperr.NewValidationError("sha256", "must be a 64-character hex digest"))
		return
	}
	if req.ContentType == "" {
		req.ContentType = "application/octet-stream"
	}

	url, err := s.deps.Blob.PresignUpload(r.Context(), key, req.ContentType)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteCreated(w, map[string]interface{}{"key": key, "upload_url": url})
}

// presignAttachmentDownload handles GET /attachments/{hash}/url
func (s *Server) presignAttachmentDownload(w http.ResponseWriter, r *http.Request) {
	_, err := s.deps.Guard.RequireAuth(r.Context(), auth.TokenFromRequest(r))
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	if s.deps.Blob == nil {
		httputil.WriteAppError(w, r, apperr.NewNotFoundError("attachment storage", ""))
		return
	}

	hash := mux.Vars(r)["hash"]
	key := blob.KeyFromHash(hash)
	if key == "" {
		httputil.WriteAppError(w, r, apperr.NewValidationError("hash", "must be a 64-character hex digest"))
		return
	}

	exists, err := s.deps.Blob.Exists(r.Context(), key)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	if !exists {
		httputil.WriteAppError(w, r, apperr.NewNotFoundError("attachment", hash))
		return
	}

	url, err := s.deps.Blob.PresignDownload(r.Context(), key)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"url": url})
}

// NewHealthServer builds the separate health and metrics listener used for
// probes so operational traffic never competes with API traffic.
func NewHealthServer(checker *observability.HealthChecker, metricsEnabled bool) http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", checker.LivenessHandler()).Methods("GET")
	router.HandleFunc("/readyz", checker.ReadinessHandler()).Methods("GET")
	if metricsEnabled {
		router.Handle("/metrics", observability.MetricsHandler()).Methods("GET")
	}
	return router
}

// HTTPServer wraps the handler in an http.Server with the configured
// timeouts.
func HTTPServer(addr string, handler http.Handler, readTimeout, writeTimeout, idleTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
}
