package auth

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"

	"github.com/civitashq/civitas/pkg/apperr"
	"github.com/civitashq/civitas/pkg/audit"
	"github.com/civitashq/civitas/pkg/httputil"
)

// SessionCookieName carries the session token for browser clients. API and
// sync clients send it as a bearer token instead.
const SessionCookieName = "civitas_session"

// DefaultSessionTTL is how long a session lives without re-login.
const DefaultSessionTTL = 7 * 24 * time.Hour

// TokenFromRequest extracts the session token from the Authorization header
// or the session cookie. Returns "" when neither is present.
func TokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		const prefix = "Bearer "
		if len(header) > len(prefix) && header[:len(prefix)] == prefix {
			return header[len(prefix):]
		}
	}
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// Handlers serves login, logout and user lifecycle endpoints.
type Handlers struct {
	store      *Store
	guard      *Guard
	tokens     *TokenGenerator
	audit      audit.Logger
	sessionTTL time.Duration
}

// NewHandlers creates the auth handler group.
func NewHandlers(store *Store, guard *Guard, auditLogger audit.Logger) *Handlers {
	return &Handlers{
		store:      store,
		guard:      guard,
		tokens:     NewTokenGenerator(),
		audit:      auditLogger,
		sessionTTL: DefaultSessionTTL,
	}
}

// SetSessionTTL overrides the session lifetime; zero and negative values are
// ignored.
func (h *Handlers) SetSessionTTL(ttl time.Duration) {
	if ttl > 0 {
		h.sessionTTL = ttl
	}
}

// RegisterRoutes registers authentication and user lifecycle routes.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/auth/login", h.login).Methods("POST")
	router.HandleFunc("/auth/logout", h.logout).Methods("POST")
	router.HandleFunc("/auth/me", h.me).Methods("GET")

	router.HandleFunc("/users/{id}/revoke", h.revokeUser).Methods("POST")
	router.HandleFunc("/users/{id}/enable", h.enableUser).Methods("POST")
}

// login handles POST /auth/login
func (h *Handlers) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Email, "email") || !httputil.RequireNonEmpty(w, req.Password, "password") {
		return
	}

	user, err := h.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		// Unknown email and bad password are indistinguishable on the wire.
		httputil.WriteAppError(w, r, apperr.NewAuthError("invalid credentials"))
		return
	}
	if user.Status != StatusActive {
		httputil.WriteAppError(w, r, apperr.NewAuthError("user is not active"))
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		httputil.WriteAppError(w, r, apperr.NewAuthError("invalid credentials"))
		return
	}

	token, tokenHash, err := h.tokens.GenerateToken()
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	sess, err := h.store.CreateSession(r.Context(), user.ID, tokenHash, h.sessionTTL)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	h.audit.Record(r.Context(), audit.Entry{
		Action:   audit.ActionLogin,
		Entity:   "session",
		EntityID: sess.ID,
		ActorID:  user.ID,
	})

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	httputil.WriteSuccess(w, map[string]interface{}{
		"token":      token,
		"expires_at": sess.ExpiresAt,
		"user":       user,
	})
}

// logout handles POST /auth/logout
func (h *Handlers) logout(w http.ResponseWriter, r *http.Request) {
	sess, err := h.guard.RequireAuth(r.Context(), TokenFromRequest(r))
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	if err := h.store.RevokeSession(r.Context(), sess.ID); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	h.audit.Record(r.Context(), audit.Entry{
		Action:   audit.ActionLogout,
		Entity:   "session",
		EntityID: sess.ID,
		ActorID:  sess.UserID,
	})

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	httputil.WriteNoContent(w)
}

// me handles GET /auth/me
func (h *Handlers) me(w http.ResponseWriter, r *http.Request) {
	sess, err := h.guard.RequireAuth(r.Context(), TokenFromRequest(r))
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, sess.User)
}

// revokeUser handles POST /users/{id}/revoke
func (h *Handlers) revokeUser(w http.ResponseWriter, r *http.Request) {
	sess, err := h.guard.RequirePermission(r.Context(), TokenFromRequest(r), PermUsersDelete)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	userID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	if userID == sess.UserID {
		httputil.WriteAppError(w, r, apperr.NewValidationError("id", "cannot revoke your own account"))
		return
	}

	if err := h.store.RevokeUser(r.Context(), userID); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	h.audit.Record(r.Context(), audit.Entry{
		Action:   audit.ActionUserRevoked,
		Entity:   "user",
		EntityID: userID,
		ActorID:  sess.UserID,
	})
	httputil.WriteNoContent(w)
}

// enableUser handles POST /users/{id}/enable
func (h *Handlers) enableUser(w http.ResponseWriter, r *http.Request) {
	sess, err := h.guard.RequirePermission(r.Context(), TokenFromRequest(r), PermUsersWrite)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	userID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.store.EnableUser(r.Context(), userID); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	h.audit.Record(r.Context(), audit.Entry{
		Action:   audit.ActionUserEnabled,
		Entity:   "user",
		EntityID: userID,
		ActorID:  sess.UserID,
	})
	httputil.WriteNoContent(w)
}
