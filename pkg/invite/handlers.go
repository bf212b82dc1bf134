package invite

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"

	"github.com/civitashq/civitas/pkg/apperr"
	"github.com/civitashq/civitas/pkg/async"
	"github.com/civitashq/civitas/pkg/audit"
	"github.com/civitashq/civitas/pkg/auth"
	"github.com/civitashq/civitas/pkg/httputil"
	"github.com/civitashq/civitas/pkg/notify"
)

// DefaultInvitationTTL is how long an invitation stays valid.
const DefaultInvitationTTL = 72 * time.Hour

// Handlers serves the invitation lifecycle endpoints.
type Handlers struct {
	store   *Store
	guard   *auth.Guard
	sender  notify.Sender
	audit   audit.Logger
	baseURL string
	ttl     time.Duration
}

// NewHandlers creates the invitation handler group. baseURL is the public
// URL prefix used to build activation links.
func NewHandlers(store *Store, guard *auth.Guard, sender notify.Sender, auditLogger audit.Logger, baseURL string) *Handlers {
	return &Handlers{
		store:   store,
		guard:   guard,
		sender:  sender,
		audit:   auditLogger,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		ttl:     DefaultInvitationTTL,
	}
}

// SetTTL overrides the invitation lifetime; zero and negative values are
// ignored.
func (h *Handlers) SetTTL(ttl time.Duration) {
	if ttl > 0 {
		h.ttl = ttl
	}
}

// RegisterRoutes registers the invitation routes.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/invitations", h.create).Methods("POST")
	router.HandleFunc("/invitations/{token}", h.validate).Methods("GET")
	router.HandleFunc("/invitations/{token}/accept", h.accept).Methods("POST")
	router.HandleFunc("/invitations/{id}/revoke", h.revoke).Methods("POST")
}

// create handles POST /invitations
func (h *Handlers) create(w http.ResponseWriter, r *http.Request) {
	sess, err := h.guard.RequirePermission(r.Context(), auth.TokenFromRequest(r), auth.PermUsersInvite)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	var req struct {
		Email          string   `json:"email"`
		Role           string   `json:"role"`
		BranchID       *string  `json:"branchId"`
		TerritoryID    *string  `json:"territoryId"`
		TerritoryScope []string `json:"territoryScope"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Email, "email") || !httputil.RequireNonEmpty(w, req.Role, "role") {
		return
	}
	if !auth.ValidRole(auth.Role(req.Role)) {
		httputil.WriteAppError(w, r, apperr.NewValidationError("role", "unknown role"))
		return
	}

	token, tokenHash, err := GenerateToken()
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	inv := &Invitation{
		Email:          req.Email,
		TokenHash:      tokenHash,
		Role:           req.Role,
		BranchID:       req.BranchID,
		TerritoryID:    req.TerritoryID,
		TerritoryScope: req.TerritoryScope,
		ExpiresAt:      time.Now().Add(h.ttl),
		CreatedBy:      sess.UserID,
	}
	if err := h.store.Create(r.Context(), inv); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	activationURL := fmt.Sprintf("%s/invitations/%s", h.baseURL, token)
	msg := notify.Message{
		To:      inv.Email,
		Subject: "You have been invited to Civitas",
		Body:    fmt.Sprintf("Open %s to activate your account. The link expires %s.", activationURL, inv.ExpiresAt.Format(time.RFC1123)),
	}
	// Delivery failure does not invalidate the invitation; the admin can
	// re-send the returned link out of band.
	async.SafeGo(r.Context(), 30*time.Second, "invitation-notify", func(ctx context.Context) error {
		return h.sender.Send(ctx, msg)
	})

	h.audit.Record(r.Context(), audit.Entry{
		Action:   audit.ActionInviteCreated,
		Entity:   "invitation",
		EntityID: inv.ID,
		ActorID:  sess.UserID,
		Metadata: map[string]interface{}{"email": inv.Email, "role": inv.Role},
	})

	// The plaintext token is returned exactly once, here.
	httputil.WriteCreated(w, map[string]interface{}{
		"invitation": inv,
		"token":      token,
		"url":        activationURL,
	})
}

// validate handles GET /invitations/{token}. It is unauthenticated: the
// invitee has no account yet. Only masked metadata is exposed.
func (h *Handlers) validate(w http.ResponseWriter, r *http.Request) {
	token, ok := httputil.ParsePathStringOrError(w, r, "token")
	if !ok {
		return
	}

	inv, err := h.store.GetByTokenHash(r.Context(), HashToken(token))
	if err != nil {
		httputil.WriteAppError(w, r, apperr.NewAuthError("invalid invitation token"))
		return
	}
	switch {
	case inv.UsedAt != nil:
		httputil.WriteAppError(w, r, apperr.NewAuthError("invitation already used"))
		return
	case inv.RevokedAt != nil:
		httputil.WriteAppError(w, r, apperr.NewAuthError("invitation revoked"))
		return
	case !inv.ExpiresAt.After(time.Now()):
		httputil.WriteAppError(w, r, apperr.NewAuthError("invitation expired"))
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"email":      maskEmail(inv.Email),
		"role":       inv.Role,
		"expires_at": inv.ExpiresAt,
	})
}

// accept handles POST /invitations/{token}/accept
func (h *Handlers) accept(w http.ResponseWriter, r *http.Request) {
	token, ok := httputil.ParsePathStringOrError(w, r, "token")
	if !ok {
		return
	}

	var req struct {
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") || !httputil.RequireNonEmpty(w, req.Password, "password") {
		return
	}
	if len(req.Password) < 8 {
		httputil.WriteAppError(w, r, apperr.NewValidationError("password", "must be at least 8 characters"))
		return
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	userID, err := h.store.Consume(r.Context(), HashToken(token), req.Name, string(passwordHash))
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	h.audit.Record(r.Context(), audit.Entry{
		Action:   audit.ActionInviteUsed,
		Entity:   "user",
		EntityID: userID,
		ActorID:  userID,
	})
	httputil.WriteCreated(w, map[string]interface{}{"user_id": userID})
}

// revoke handles POST /invitations/{id}/revoke
func (h *Handlers) revoke(w http.ResponseWriter, r *http.Request) {
	sess, err := h.guard.RequirePermission(r.Context(), auth.TokenFromRequest(r), auth.PermUsersInvite)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.store.Revoke(r.Context(), id); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	h.audit.Record(r.Context(), audit.Entry{
		Action:   audit.ActionInviteRevoked,
		Entity:   "invitation",
		EntityID: id,
		ActorID:  sess.UserID,
	})
	httputil.WriteNoContent(w)
}

// maskEmail hides most of the local part: "ana.perez@x.org" -> "a*******@x.org".
func maskEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 1 {
		return email
	}
	return email[:1] + strings.Repeat("*", at-1) + email[at:]
}
