package impersonation

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantadmin/pkg/auth"
	"github.com/platinummonkey/tenantadmin/pkg/httputil"
	"github.com/platinummonkey/tenantadmin/pkg/session"
)

// Handlers exposes the controller over HTTP
type Handlers struct {
	controller *Controller
}

// NewHandlers creates impersonation handlers
func NewHandlers(controller *Controller) *Handlers {
	return &Handlers{controller: controller}
}

// RegisterRoutes registers impersonation routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/impersonation", h.status).Methods(http.MethodGet)
	router.HandleFunc("/impersonation/leave", h.leave).Methods(http.MethodPost)
	router.HandleFunc("/impersonation/{user_id:[0-9]+}", h.take).Methods(http.MethodPost)
}

type statusResponse struct {
	Impersonating bool       `json:"impersonating"`
	User          *auth.User `json:"user"`
	OriginalUser  *auth.User `json:"original_user,omitempty"`
}

func respond(identity *auth.Identity) statusResponse {
	return statusResponse{
		Impersonating: identity.IsImpersonating(),
		User:          identity.User,
		OriginalUser:  identity.OriginalUser,
	}
}

// status handles GET /impersonation
func (h *Handlers) status(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())
	if identity == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	httputil.WriteSuccess(w, respond(identity))
}

// take handles POST /impersonation/{user_id}
func (h *Handlers) take(w http.ResponseWriter, r *http.Request) {
	identity, sess, ok := h.require(w, r)
	if !ok {
		return
	}
	targetID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}

	next, err := h.controller.Take(r.Context(), sess, identity, targetID)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, respond(next))
}

// leave handles POST /impersonation/leave
func (h *Handlers) leave(w http.ResponseWriter, r *http.Request) {
	identity, sess, ok := h.require(w, r)
	if !ok {
		return
	}

	next, err := h.controller.Leave(r.Context(), sess, identity)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, respond(next))
}

func (h *Handlers) require(w http.ResponseWriter, r *http.Request) (*auth.Identity, session.Session, bool) {
	identity := auth.IdentityFromContext(r.Context())
	if identity == nil || identity.User == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return nil, nil, false
	}
	sess := session.FromContext(r.Context())
	if sess == nil {
		httputil.WriteUnauthorized(w, "session required")
		return nil, nil, false
	}
	return identity, sess, true
}
