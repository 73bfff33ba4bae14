package settings

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantadmin/pkg/audit"
	"github.com/platinummonkey/tenantadmin/pkg/auth"
	"github.com/platinummonkey/tenantadmin/pkg/httputil"
	"github.com/platinummonkey/tenantadmin/pkg/rbac"
	"github.com/platinummonkey/tenantadmin/pkg/tenants"
)

// Handlers serves global, user and tenant settings
type Handlers struct {
	store   *Store
	checker *rbac.Checker
}

// NewHandlers creates settings handlers
func NewHandlers(store *Store, checker *rbac.Checker) *Handlers {
	return &Handlers{store: store, checker: checker}
}

// owner resolves the owning record of a scope from the request
type owner func(r *http.Request) (int64, bool)

// RegisterRoutes registers settings routes.
//
// Global settings require settings.manage held globally, except for the
// public subset.
// Users manage their own settings. Tenant settings are read by anyone in
// the current tenant and written by holders of settings.manage there.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	manage := rbac.RequirePermission(h.checker, rbac.PermissionSettingsManage)
	manageTenant := rbac.RequireTenantPermission(h.checker, rbac.PermissionSettingsManage)
	global := func(r *http.Request) (int64, bool) { return 0, true }

	router.HandleFunc("/settings/public", h.listPublic).Methods(http.MethodGet)
	router.Handle("/settings", manage(h.list(ScopeGlobal, global))).Methods(http.MethodGet)
	router.Handle("/settings/{key}", manage(h.get(ScopeGlobal, global))).Methods(http.MethodGet)
	router.Handle("/settings/{key}", manage(h.put(ScopeGlobal, global))).Methods(http.MethodPut)
	router.Handle("/settings/{key}", manage(h.delete(ScopeGlobal, global))).Methods(http.MethodDelete)

	router.Handle("/me/settings", h.list(ScopeUser, currentUser)).Methods(http.MethodGet)
	router.Handle("/me/settings/{key}", h.get(ScopeUser, currentUser)).Methods(http.MethodGet)
	router.Handle("/me/settings/{key}", h.put(ScopeUser, currentUser)).Methods(http.MethodPut)
	router.Handle("/me/settings/{key}", h.delete(ScopeUser, currentUser)).Methods(http.MethodDelete)

	router.Handle("/tenant/settings", h.list(ScopeTenant, currentTenant)).Methods(http.MethodGet)
	router.Handle("/tenant/settings/{key}", h.get(ScopeTenant, currentTenant)).Methods(http.MethodGet)
	router.Handle("/tenant/settings/{key}", manageTenant(h.put(ScopeTenant, currentTenant))).Methods(http.MethodPut)
	router.Handle("/tenant/settings/{key}", manageTenant(h.delete(ScopeTenant, currentTenant))).Methods(http.MethodDelete)
}

func currentUser(r *http.Request) (int64, bool) {
	user := auth.UserFromContext(r.Context())
	if user == nil {
		return 0, false
	}
	return user.ID, true
}

func currentTenant(r *http.Request) (int64, bool) {
	tenant := tenants.FromContext(r.Context())
	if tenant == nil {
		return 0, false
	}
	return tenant.ID, true
}

// resolve writes the rejection itself when the request has no owner
func resolve(w http.ResponseWriter, r *http.Request, ownerOf owner) (int64, bool) {
	if auth.IdentityFromContext(r.Context()) == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return 0, false
	}
	id, ok := ownerOf(r)
	if !ok {
		httputil.WriteBadRequest(w, "no current tenant")
		return 0, false
	}
	return id, true
}

// listPublic handles GET /settings/public
func (h *Handlers) listPublic(w http.ResponseWriter, r *http.Request) {
	settings, err := h.store.List(r.Context(), ScopeGlobal, 0, ListFilter{PublicOnly: true})
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, redact(settings))
}

func (h *Handlers) list(scope Scope, ownerOf owner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := resolve(w, r, ownerOf)
		if !ok {
			return
		}
		filter := ListFilter{Group: httputil.ParseQueryString(r, "group", "")}
		settings, err := h.store.List(r.Context(), scope, ownerID, filter)
		if err != nil {
			httputil.WriteServiceError(w, r, err)
			return
		}
		httputil.WriteSuccess(w, redact(settings))
	}
}

func (h *Handlers) get(scope Scope, ownerOf owner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := resolve(w, r, ownerOf)
		if !ok {
			return
		}
		setting, err := h.store.Get(r.Context(), scope, ownerID, mux.Vars(r)["key"])
		if err != nil {
			httputil.WriteServiceError(w, r, err)
			return
		}
		httputil.WriteSuccess(w, setting)
	}
}

type putRequest struct {
	Value       string    `json:"value"`
	Type        ValueType `json:"type"`
	Group       string    `json:"group"`
	Description string    `json:"description"`
	IsPublic    bool      `json:"is_public"`
	IsEncrypted bool      `json:"is_encrypted"`
}

func (h *Handlers) put(scope Scope, ownerOf owner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := resolve(w, r, ownerOf)
		if !ok {
			return
		}
		var req putRequest
		if !httputil.ParseJSONOrError(w, r, &req) {
			return
		}

		setting := &Setting{
			Scope:       scope,
			OwnerID:     ownerID,
			Key:         mux.Vars(r)["key"],
			Value:       req.Value,
			Type:        req.Type,
			Group:       req.Group,
			Description: req.Description,
			IsPublic:    req.IsPublic,
			IsEncrypted: req.IsEncrypted,
			IsEditable:  true,
		}
		if err := h.store.Set(r.Context(), setting); err != nil {
			httputil.WriteServiceError(w, r, err)
			return
		}

		record(r.Context(), audit.EventTypeSettingUpdate, setting.Key, scope, ownerID)
		httputil.WriteSuccess(w, setting.Redacted())
	}
}

func (h *Handlers) delete(scope Scope, ownerOf owner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := resolve(w, r, ownerOf)
		if !ok {
			return
		}
		key := mux.Vars(r)["key"]
		if err := h.store.Delete(r.Context(), scope, ownerID, key); err != nil {
			httputil.WriteServiceError(w, r, err)
			return
		}

		record(r.Context(), audit.EventTypeSettingDelete, key, scope, ownerID)
		httputil.WriteNoContent(w)
	}
}

func record(ctx context.Context, eventType audit.EventType, key string, scope Scope, ownerID int64) {
	event := audit.NewEvent(ctx, auth.IdentityFromContext(ctx), eventType, audit.EventStatusSuccess).
		WithTargetName(audit.TargetTypeSetting, key).
		WithMetadata("scope", string(scope))
	if scope == ScopeTenant {
		event.WithTenant(ownerID)
	}
	audit.Record(ctx, audit.FromContext(ctx), event)
}

func redact(settings []*Setting) []*Setting {
	out := make([]*Setting, 0, len(settings))
	for _, s := range settings {
		out = append(out, s.Redacted())
	}
	return out
}
