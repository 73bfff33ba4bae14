package tenants

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantadmin/pkg/audit"
	"github.com/platinummonkey/tenantadmin/pkg/auth"
	"github.com/platinummonkey/tenantadmin/pkg/httputil"
	"github.com/platinummonkey/tenantadmin/pkg/session"
)

// Permissions checked by the tenant handlers
const (
	PermissionView          = "tenants.view"
	PermissionCreate        = "tenants.create"
	PermissionUpdate        = "tenants.update"
	PermissionSuspend       = "tenants.suspend"
	PermissionDelete        = "tenants.delete"
	PermissionManageMembers = "tenants.manage_members"
)

// Authorizer answers permission checks for a user within an optional tenant
// and vets the permission overrides stored on memberships
type Authorizer interface {
	Authorize(ctx context.Context, user *auth.User, tenant *Tenant, permission string) error
	ValidateOverride(ctx context.Context, permissions []string) error
}

// Handlers provides HTTP handlers for tenants, memberships and the
// current-tenant pointer
type Handlers struct {
	store         Store
	switcher      *Switcher
	authz         Authorizer
	invitationTTL time.Duration
}

// NewHandlers creates tenant handlers
func NewHandlers(store Store, switcher *Switcher, authz Authorizer, invitationTTL time.Duration) *Handlers {
	return &Handlers{store: store, switcher: switcher, authz: authz, invitationTTL: invitationTTL}
}

// RegisterRoutes registers tenant routes. Every route requires an
// authenticated identity.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/tenants", h.listTenants).Methods(http.MethodGet)
	router.HandleFunc("/tenants", h.createTenant).Methods(http.MethodPost)
	router.HandleFunc("/tenants/current", h.currentTenant).Methods(http.MethodGet)
	router.HandleFunc("/tenants/switch", h.switchTenant).Methods(http.MethodPost)
	router.HandleFunc("/tenants/{id:[0-9]+}", h.getTenant).Methods(http.MethodGet)
	router.HandleFunc("/tenants/{id:[0-9]+}", h.updateTenant).Methods(http.MethodPut)
	router.HandleFunc("/tenants/{id:[0-9]+}", h.deleteTenant).Methods(http.MethodDelete)
	router.HandleFunc("/tenants/{id:[0-9]+}/suspend", h.suspendTenant).Methods(http.MethodPost)
	router.HandleFunc("/tenants/{id:[0-9]+}/activate", h.activateTenant).Methods(http.MethodPost)

	router.HandleFunc("/tenants/{id:[0-9]+}/members", h.listMembers).Methods(http.MethodGet)
	router.HandleFunc("/tenants/{id:[0-9]+}/members", h.addMember).Methods(http.MethodPost)
	router.HandleFunc("/tenants/{id:[0-9]+}/members/{user_id:[0-9]+}", h.updateMember).Methods(http.MethodPut)
	router.HandleFunc("/tenants/{id:[0-9]+}/members/{user_id:[0-9]+}", h.removeMember).Methods(http.MethodDelete)
	router.HandleFunc("/tenants/{id:[0-9]+}/invitations", h.invite).Methods(http.MethodPost)
	router.HandleFunc("/invitations/accept", h.acceptInvitation).Methods(http.MethodPost)
}

type createTenantRequest struct {
	Name   string  `json:"name"`
	Slug   string  `json:"slug"`
	Domain *string `json:"domain"`
}

type switchTenantRequest struct {
	TenantID int64 `json:"tenant_id"`
}

type addMemberRequest struct {
	UserID      int64    `json:"user_id"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

type inviteRequest struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
}

type acceptInvitationRequest struct {
	Token string `json:"token"`
}

// listTenants handles GET /tenants. With all=true it lists every tenant and
// requires the global tenants.view permission.
func (h *Handlers) listTenants(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	all, err := httputil.ParseQueryBool(r, "all", false)
	if err != nil {
		httputil.WriteBadRequest(w, "all must be a boolean")
		return
	}

	var list []*Tenant
	if all {
		if err := h.authz.Authorize(r.Context(), identity.User, nil, PermissionView); err != nil {
			httputil.WriteServiceError(w, r, err)
			return
		}
		page, perr := httputil.ParsePage(r, 50, 500)
		if perr != nil {
			httputil.WriteBadRequest(w, perr.Error())
			return
		}
		filter := ListFilter{Search: httputil.ParseQueryString(r, "search", ""), Limit: page.Limit, Offset: page.Offset}
		if r.URL.Query().Has("active") {
			active, aerr := httputil.ParseQueryBool(r, "active", true)
			if aerr != nil {
				httputil.WriteBadRequest(w, "active must be a boolean")
				return
			}
			filter.IsActive = &active
		}
		list, err = h.store.List(r.Context(), filter)
	} else {
		list, err = h.store.ListForUser(r.Context(), identity.User.ID)
	}
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []*Tenant{}
	}

	httputil.WriteSuccess(w, list)
}

// createTenant handles POST /tenants. The caller becomes the owner.
func (h *Handlers) createTenant(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	if err := h.authz.Authorize(r.Context(), identity.User, nil, PermissionCreate); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	var req createTenantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	tenant := &Tenant{UserID: identity.User.ID, Name: req.Name, Slug: req.Slug, Domain: req.Domain}
	if err := h.store.Create(r.Context(), tenant); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	h.record(r, identity, audit.EventTypeTenantCreate, tenant.ID, audit.TargetTypeTenant, tenant.ID)
	httputil.WriteCreated(w, tenant)
}

// currentTenant handles GET /tenants/current
func (h *Handlers) currentTenant(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	sess, ok := requireSession(w, r)
	if !ok {
		return
	}

	tenant, err := h.switcher.CurrentTenant(r.Context(), sess, identity)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"tenant": tenant,
		"role":   h.roleIn(r.Context(), identity.User, tenant),
	})
}

// switchTenant handles POST /tenants/switch
func (h *Handlers) switchTenant(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	sess, ok := requireSession(w, r)
	if !ok {
		return
	}

	var req switchTenantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.TenantID <= 0 {
		httputil.WriteBadRequest(w, "tenant_id is required")
		return
	}

	tenant, err := h.switcher.SwitchTenant(r.Context(), sess, identity, req.TenantID)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"tenant": tenant,
		"role":   h.roleIn(r.Context(), identity.User, tenant),
	})
}

// getTenant handles GET /tenants/{id}
func (h *Handlers) getTenant(w http.ResponseWriter, r *http.Request) {
	tenant, identity, ok := h.loadTenant(w, r)
	if !ok {
		return
	}
	if !h.canView(r.Context(), identity.User, tenant) {
		httputil.WriteServiceError(w, r, &auth.AccessDeniedError{UserID: identity.User.ID, Permission: PermissionView})
		return
	}
	httputil.WriteSuccess(w, tenant)
}

// updateTenant handles PUT /tenants/{id}
func (h *Handlers) updateTenant(w http.ResponseWriter, r *http.Request) {
	tenant, identity, ok := h.authorizedTenant(w, r, PermissionUpdate)
	if !ok {
		return
	}

	var req UpdateTenantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	updated, err := h.store.Update(r.Context(), tenant.ID, req)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	h.record(r, identity, audit.EventTypeTenantUpdate, tenant.ID, audit.TargetTypeTenant, tenant.ID)
	httputil.WriteSuccess(w, updated)
}

// deleteTenant handles DELETE /tenants/{id}
func (h *Handlers) deleteTenant(w http.ResponseWriter, r *http.Request) {
	tenant, identity, ok := h.authorizedTenant(w, r, PermissionDelete)
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), tenant.ID); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	h.record(r, identity, audit.EventTypeTenantDelete, tenant.ID, audit.TargetTypeTenant, tenant.ID)
	httputil.WriteNoContent(w)
}

// suspendTenant handles POST /tenants/{id}/suspend
func (h *Handlers) suspendTenant(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

// activateTenant handles POST /tenants/{id}/activate
func (h *Handlers) activateTenant(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

func (h *Handlers) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	tenant, identity, ok := h.authorizedTenant(w, r, PermissionSuspend)
	if !ok {
		return
	}

	eventType := audit.EventTypeTenantSuspend
	fn := h.store.Suspend
	if active {
		eventType = audit.EventTypeTenantActivate
		fn = h.store.Activate
	}
	if err := fn(r.Context(), tenant.ID); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	tenant.IsActive = active
	h.record(r, identity, eventType, tenant.ID, audit.TargetTypeTenant, tenant.ID)
	httputil.WriteSuccess(w, tenant)
}

// listMembers handles GET /tenants/{id}/members
func (h *Handlers) listMembers(w http.ResponseWriter, r *http.Request) {
	tenant, identity, ok := h.loadTenant(w, r)
	if !ok {
		return
	}
	if !h.canView(r.Context(), identity.User, tenant) {
		httputil.WriteServiceError(w, r, &auth.AccessDeniedError{UserID: identity.User.ID, Permission: PermissionView})
		return
	}

	members, err := h.store.ListMembers(r.Context(), tenant.ID)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	if members == nil {
		members = []*Membership{}
	}

	httputil.WriteSuccess(w, members)
}

// addMember handles POST /tenants/{id}/members
func (h *Handlers) addMember(w http.ResponseWriter, r *http.Request) {
	tenant, identity, ok := h.authorizedTenant(w, r, PermissionManageMembers)
	if !ok {
		return
	}

	var req addMemberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Permissions != nil {
		if err := h.authz.ValidateOverride(r.Context(), req.Permissions); err != nil {
			httputil.WriteServiceError(w, r, err)
			return
		}
	}

	m, err := h.store.AddMember(r.Context(), tenant.ID, req.UserID, req.Role, req.Permissions)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	h.record(r, identity, audit.EventTypeTenantMemberAdd, tenant.ID, audit.TargetTypeUser, m.UserID)
	httputil.WriteCreated(w, m)
}

// updateMember handles PUT /tenants/{id}/members/{user_id}
func (h *Handlers) updateMember(w http.ResponseWriter, r *http.Request) {
	tenant, identity, ok := h.authorizedTenant(w, r, PermissionManageMembers)
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}
	// Members never rewrite their own role or override
	if userID == identity.User.ID {
		httputil.WriteServiceError(w, r, &auth.AccessDeniedError{
			UserID:     userID,
			Permission: PermissionManageMembers,
			TenantID:   &tenant.ID,
			Reason:     "members cannot edit their own membership",
		})
		return
	}

	var req UpdateMemberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Permissions != nil && !req.ClearPermissions {
		if err := h.authz.ValidateOverride(r.Context(), req.Permissions); err != nil {
			httputil.WriteServiceError(w, r, err)
			return
		}
	}

	m, err := h.store.UpdateMember(r.Context(), tenant.ID, userID, req)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	h.record(r, identity, audit.EventTypeTenantMemberUpdate, tenant.ID, audit.TargetTypeUser, userID)
	httputil.WriteSuccess(w, m)
}

// removeMember handles DELETE /tenants/{id}/members/{user_id}
func (h *Handlers) removeMember(w http.ResponseWriter, r *http.Request) {
	tenant, identity, ok := h.authorizedTenant(w, r, PermissionManageMembers)
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}

	if err := h.store.RemoveMember(r.Context(), tenant.ID, userID); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	h.record(r, identity, audit.EventTypeTenantMemberRemove, tenant.ID, audit.TargetTypeUser, userID)
	httputil.WriteNoContent(w)
}

// invite handles POST /tenants/{id}/invitations. The token is returned once.
func (h *Handlers) invite(w http.ResponseWriter, r *http.Request) {
	tenant, identity, ok := h.authorizedTenant(w, r, PermissionManageMembers)
	if !ok {
		return
	}

	var req inviteRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	inv, err := h.store.Invite(r.Context(), tenant.ID, req.UserID, req.Role, identity.Actor().ID, h.invitationTTL)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	h.record(r, identity, audit.EventTypeTenantInvite, tenant.ID, audit.TargetTypeUser, req.UserID)
	httputil.WriteCreated(w, inv)
}

// acceptInvitation handles POST /invitations/accept
func (h *Handlers) acceptInvitation(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req acceptInvitationRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Token == "" {
		httputil.WriteBadRequest(w, "token is required")
		return
	}

	m, err := h.store.AcceptInvitation(r.Context(), req.Token, identity.User.ID)
	if err == ErrInvitationExpired {
		httputil.WriteErrorMessage(w, http.StatusGone, err.Error())
		return
	}
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	h.record(r, identity, audit.EventTypeTenantInviteAccept, m.TenantID, audit.TargetTypeMembership, m.ID)
	httputil.WriteSuccess(w, m)
}

func (h *Handlers) loadTenant(w http.ResponseWriter, r *http.Request) (*Tenant, *auth.Identity, bool) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return nil, nil, false
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return nil, nil, false
	}

	tenant, err := h.store.Get(r.Context(), id)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return nil, nil, false
	}
	return tenant, identity, true
}

func (h *Handlers) authorizedTenant(w http.ResponseWriter, r *http.Request, permission string) (*Tenant, *auth.Identity, bool) {
	tenant, identity, ok := h.loadTenant(w, r)
	if !ok {
		return nil, nil, false
	}
	if err := h.authz.Authorize(r.Context(), identity.User, tenant, permission); err != nil {
		httputil.WriteServiceError(w, r, err)
		return nil, nil, false
	}
	return tenant, identity, true
}

// canView allows owners and active members, then falls back to the
// tenants.view permission
func (h *Handlers) canView(ctx context.Context, user *auth.User, tenant *Tenant) bool {
	if tenant.IsOwnedBy(user.ID) {
		return true
	}
	m, err := h.store.FindMembership(ctx, tenant.ID, user.ID)
	if err == nil && CanAccessTenant(user, tenant, m) {
		return true
	}
	return h.authz.Authorize(ctx, user, tenant, PermissionView) == nil
}

func (h *Handlers) roleIn(ctx context.Context, user *auth.User, tenant *Tenant) string {
	if tenant == nil {
		return ""
	}
	if tenant.IsOwnedBy(user.ID) {
		return RoleOwner
	}
	m, err := h.store.FindMembership(ctx, tenant.ID, user.ID)
	if err != nil {
		return ""
	}
	return TenantRole(user, tenant, m)
}

func (h *Handlers) record(r *http.Request, identity *auth.Identity, eventType audit.EventType, tenantID int64, targetType audit.TargetType, targetID int64) {
	ctx := r.Context()
	audit.Record(ctx, audit.FromContext(ctx), audit.NewEvent(ctx, identity, eventType, audit.EventStatusSuccess).
		WithTenant(tenantID).
		WithTarget(targetType, targetID))
}

func requireIdentity(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	identity := auth.IdentityFromContext(r.Context())
	if identity == nil || identity.User == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return nil, false
	}
	return identity, true
}

func requireSession(w http.ResponseWriter, r *http.Request) (session.Session, bool) {
	sess := session.FromContext(r.Context())
	if sess == nil {
		httputil.WriteUnauthorized(w, "session required")
		return nil, false
	}
	return sess, true
}
