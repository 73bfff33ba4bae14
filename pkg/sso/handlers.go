package sso

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantadmin/pkg/audit"
	"github.com/platinummonkey/tenantadmin/pkg/auth"
	"github.com/platinummonkey/tenantadmin/pkg/httputil"
	"github.com/platinummonkey/tenantadmin/pkg/observability"
	"github.com/platinummonkey/tenantadmin/pkg/session"
)

// LoginFlow is the OAuth2 side of Google sign-in
type LoginFlow interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*GoogleUser, error)
}

// Handlers serves the Google sign-in redirect and callback
type Handlers struct {
	flow        LoginFlow
	provisioner *Provisioner
	sessions    session.Store
	cookie      session.Cookie
	successURL  string
}

// NewHandlers creates SSO handlers. After sign-in the browser is sent to
// successURL.
func NewHandlers(flow LoginFlow, provisioner *Provisioner, sessions session.Store, cookie session.Cookie, successURL string) *Handlers {
	if successURL == "" {
		successURL = "/"
	}
	return &Handlers{
		flow:        flow,
		provisioner: provisioner,
		sessions:    sessions,
		cookie:      cookie,
		successURL:  successURL,
	}
}

// RegisterRoutes registers SSO routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/auth/google/login", h.login).Methods(http.MethodGet)
	router.HandleFunc("/auth/google/callback", h.callback).Methods(http.MethodGet)
}

// login handles GET /auth/google/login
func (h *Handlers) login(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	if sess == nil {
		httputil.WriteUnauthorized(w, "session required")
		return
	}

	state, err := session.GenerateID()
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	if err := sess.Set(r.Context(), session.KeyOAuthState, state); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	http.Redirect(w, r, h.flow.AuthCodeURL(state), http.StatusFound)
}

// callback handles GET /auth/google/callback
func (h *Handlers) callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.FromContext(ctx)
	sess := session.FromContext(ctx)
	if sess == nil {
		httputil.WriteUnauthorized(w, "session required")
		return
	}

	expected, ok, err := sess.Get(ctx, session.KeyOAuthState)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	// The state is single use
	if err := sess.Delete(ctx, session.KeyOAuthState); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	state := r.URL.Query().Get("state")
	if !ok || state == "" || subtle.ConstantTimeCompare([]byte(state), []byte(expected)) != 1 {
		httputil.WriteBadRequest(w, "invalid state parameter")
		return
	}
	if reason := r.URL.Query().Get("error"); reason != "" {
		h.failed(ctx, reason)
		httputil.WriteUnauthorized(w, "google sign-in was cancelled")
		return
	}

	googleUser, err := h.flow.Exchange(ctx, r.URL.Query().Get("code"))
	if err != nil {
		logger.WithError(err).Info("google sign-in failed")
		h.failed(ctx, err.Error())
		httputil.WriteUnauthorized(w, "google sign-in failed")
		return
	}

	user, err := h.provisioner.Resolve(ctx, googleUser)
	if err != nil {
		h.failed(ctx, err.Error())
		if errors.Is(err, ErrLoginRejected) {
			httputil.WriteUnauthorized(w, "google account not accepted")
			return
		}
		httputil.WriteServiceError(w, r, err)
		return
	}

	next, err := session.Begin(ctx, h.sessions, sess, user.ID)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	h.cookie.Write(w, next)

	identity := &auth.Identity{User: user}
	audit.Record(ctx, audit.FromContext(ctx), audit.NewEvent(ctx, identity, audit.EventTypeAuthLogin, audit.EventStatusSuccess).
		WithTarget(audit.TargetTypeUser, user.ID).
		WithMetadata("method", "google"))
	logger.WithField("user_id", user.ID).Info("google sign-in succeeded")

	http.Redirect(w, r, h.successURL, http.StatusFound)
}

func (h *Handlers) failed(ctx context.Context, message string) {
	audit.Record(ctx, audit.FromContext(ctx), audit.NewEvent(ctx, nil, audit.EventTypeAuthLoginFailed, audit.EventStatusFailure).
		WithMessage(message).
		WithMetadata("method", "google"))
}
