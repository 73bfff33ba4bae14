package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantadmin/pkg/audit"
	"github.com/platinummonkey/tenantadmin/pkg/auth"
	"github.com/platinummonkey/tenantadmin/pkg/httputil"
	"github.com/platinummonkey/tenantadmin/pkg/middleware"
	"github.com/platinummonkey/tenantadmin/pkg/observability"
	"github.com/platinummonkey/tenantadmin/pkg/rbac"
	"github.com/platinummonkey/tenantadmin/pkg/session"
	"github.com/platinummonkey/tenantadmin/pkg/tenants"
	"github.com/platinummonkey/tenantadmin/pkg/validation"
)

// Authenticator verifies email and password sign-ins
type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (*auth.User, error)
}

// AuthHandlers handles password sign-in, sign-out and the current identity
type AuthHandlers struct {
	users    Authenticator
	sessions session.Store
	cookie   session.Cookie
	checker  *rbac.Checker
	limiter  middleware.Limiter
}

// NewAuthHandlers creates a new auth handlers instance. checker may be nil,
// in which case /me omits permissions.
func NewAuthHandlers(users Authenticator, sessions session.Store, cookie session.Cookie, checker *rbac.Checker, limiter middleware.Limiter) *AuthHandlers {
	return &AuthHandlers{users: users, sessions: sessions, cookie: cookie, checker: checker, limiter: limiter}
}

// RegisterRoutes registers authentication routes
func (h *AuthHandlers) RegisterRoutes(router *mux.Router) {
	router.Handle("/auth/login", middleware.RateLimit(h.limiter, "login")(http.HandlerFunc(h.login))).Methods(http.MethodPost)
	router.HandleFunc("/auth/logout", h.logout).Methods(http.MethodPost)
	router.HandleFunc("/me", h.me).Methods(http.MethodGet)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// login handles POST /auth/login
func (h *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req loginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))

	v := validation.New()
	v.Required("email", req.Email)
	v.Required("password", req.Password)
	if err := v.Err(); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	user, err := h.users.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) || errors.Is(err, auth.ErrAccountInactive) {
			audit.Record(ctx, audit.FromContext(ctx), audit.NewEvent(ctx, nil, audit.EventTypeAuthLoginFailed, audit.EventStatusFailure).
				WithTargetName(audit.TargetTypeUser, req.Email).
				WithMessage(err.Error()).
				WithMetadata("method", "password"))
		}
		httputil.WriteServiceError(w, r, err)
		return
	}

	sess, err := session.Begin(ctx, h.sessions, session.FromContext(ctx), user.ID)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	h.cookie.Write(w, sess)

	identity := &auth.Identity{User: user}
	audit.Record(ctx, audit.FromContext(ctx), audit.NewEvent(ctx, identity, audit.EventTypeAuthLogin, audit.EventStatusSuccess).
		WithTarget(audit.TargetTypeUser, user.ID).
		WithMetadata("method", "password"))
	observability.FromContext(ctx).WithField("user_id", user.ID).Info("password sign-in succeeded")

	httputil.WriteSuccess(w, identity)
}

// logout handles POST /auth/logout. Signing out while impersonating ends
// both sessions.
func (h *AuthHandlers) logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if identity := auth.IdentityFromContext(ctx); identity != nil {
		audit.Record(ctx, audit.FromContext(ctx), audit.NewEvent(ctx, identity, audit.EventTypeAuthLogout, audit.EventStatusSuccess).
			WithTarget(audit.TargetTypeUser, identity.Actor().ID))
	}

	if sess := session.FromContext(ctx); sess != nil {
		if err := sess.Destroy(ctx); err != nil && !errors.Is(err, session.ErrSessionNotFound) {
			httputil.WriteServiceError(w, r, err)
			return
		}
	}
	h.cookie.Clear(w)
	httputil.WriteNoContent(w)
}

type meResponse struct {
	User          *auth.User      `json:"user"`
	OriginalUser  *auth.User      `json:"original_user,omitempty"`
	Impersonating bool            `json:"impersonating"`
	Tenant        *tenants.Tenant `json:"tenant"`
	Permissions   []string        `json:"permissions,omitempty"`
}

// me handles GET /me
func (h *AuthHandlers) me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity := auth.IdentityFromContext(ctx)
	if identity == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	resp := meResponse{
		User:          identity.User,
		OriginalUser:  identity.OriginalUser,
		Impersonating: identity.IsImpersonating(),
		Tenant:        tenants.FromContext(ctx),
	}
	if h.checker != nil {
		perms, err := h.checker.EffectivePermissions(ctx, identity.User, resp.Tenant)
		if err != nil {
			httputil.WriteServiceError(w, r, err)
			return
		}
		resp.Permissions = perms
	}

	httputil.WriteSuccess(w, resp)
}
