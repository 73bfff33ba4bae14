package rbac

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantadmin/pkg/auth"
	"github.com/platinummonkey/tenantadmin/pkg/httputil"
	"github.com/platinummonkey/tenantadmin/pkg/tenants"
)

// Handlers provides HTTP handlers for role and permission management
type Handlers struct {
	service *Service
	checker *Checker
}

// NewHandlers creates new RBAC handlers
func NewHandlers(service *Service, checker *Checker) *Handlers {
	return &Handlers{service: service, checker: checker}
}

// RegisterRoutes registers all RBAC routes, each guarded by its permission
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	// Role management
	router.Handle("/roles", h.guard(PermissionRolesView, h.listRoles)).Methods(http.MethodGet)
	router.Handle("/roles", h.guard(PermissionRolesManage, h.createRole)).Methods(http.MethodPost)
	router.Handle("/roles/{id:[0-9]+}", h.guard(PermissionRolesView, h.getRole)).Methods(http.MethodGet)
	router.Handle("/roles/{id:[0-9]+}", h.guard(PermissionRolesManage, h.updateRole)).Methods(http.MethodPut)
	router.Handle("/roles/{id:[0-9]+}", h.guard(PermissionRolesManage, h.deleteRole)).Methods(http.MethodDelete)
	router.Handle("/roles/{id:[0-9]+}/permissions", h.guard(PermissionRolesManage, h.syncPermissions)).Methods(http.MethodPut)

	// Permission registry
	router.Handle("/permissions", h.guard(PermissionPermissionsView, h.listPermissions)).Methods(http.MethodGet)
	router.Handle("/permissions", h.guard(PermissionsManage, h.createPermission)).Methods(http.MethodPost)

	// User assignments
	router.Handle("/users/{id:[0-9]+}/roles", h.guard(PermissionUsersAssignRoles, h.assignRole)).Methods(http.MethodPost)
	router.Handle("/users/{id:[0-9]+}/roles/{role_id:[0-9]+}", h.guard(PermissionUsersAssignRoles, h.revokeRole)).Methods(http.MethodDelete)
	router.Handle("/users/{id:[0-9]+}/permissions", h.guard(PermissionUsersAssignRoles, h.givePermission)).Methods(http.MethodPost)
	router.Handle("/users/{id:[0-9]+}/permissions/{permission}", h.guard(PermissionUsersAssignRoles, h.revokePermission)).Methods(http.MethodDelete)

	// Self inspection
	router.HandleFunc("/me/permissions", h.myPermissions).Methods(http.MethodGet)
	router.HandleFunc("/me/can", h.checkPermission).Methods(http.MethodGet)
}

func (h *Handlers) guard(permission string, fn http.HandlerFunc) http.Handler {
	return RequirePermission(h.checker, permission)(fn)
}

type syncPermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

type assignRoleRequest struct {
	RoleID int64 `json:"role_id"`
}

type givePermissionRequest struct {
	Permission string `json:"permission"`
	GuardName  string `json:"guard_name"`
}

// listRoles handles GET /roles
func (h *Handlers) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.Store().ListRoles(r.Context(), httputil.ParseQueryString(r, "guard", ""))
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, roles)
}

// getRole handles GET /roles/{id}
func (h *Handlers) getRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	role, err := h.service.Store().GetRole(r.Context(), id)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

// createRole handles POST /roles
func (h *Handlers) createRole(w http.ResponseWriter, r *http.Request) {
	var req CreateRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	role, err := h.service.CreateRole(r.Context(), auth.IdentityFromContext(r.Context()), req)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, role)
}

// updateRole handles PUT /roles/{id}
func (h *Handlers) updateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req UpdateRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	role, err := h.service.UpdateRole(r.Context(), auth.IdentityFromContext(r.Context()), id, req)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

// deleteRole handles DELETE /roles/{id}
func (h *Handlers) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.DeleteRole(r.Context(), auth.IdentityFromContext(r.Context()), id); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// syncPermissions handles PUT /roles/{id}/permissions
func (h *Handlers) syncPermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req syncPermissionsRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	role, err := h.service.SyncPermissions(r.Context(), auth.IdentityFromContext(r.Context()), id, req.Permissions)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

// listPermissions handles GET /permissions
func (h *Handlers) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.Store().ListPermissions(r.Context(), httputil.ParseQueryString(r, "guard", ""))
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, perms)
}

// createPermission handles POST /permissions
func (h *Handlers) createPermission(w http.ResponseWriter, r *http.Request) {
	var req CreatePermissionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	p, err := h.service.CreatePermission(r.Context(), auth.IdentityFromContext(r.Context()), req)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, p)
}

// assignRole handles POST /users/{id}/roles
func (h *Handlers) assignRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req assignRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.RoleID <= 0 {
		httputil.WriteBadRequest(w, "role_id is required")
		return
	}
	if err := h.service.AssignRole(r.Context(), auth.IdentityFromContext(r.Context()), userID, req.RoleID); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// revokeRole handles DELETE /users/{id}/roles/{role_id}
func (h *Handlers) revokeRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "role_id")
	if !ok {
		return
	}
	if err := h.service.RevokeRole(r.Context(), auth.IdentityFromContext(r.Context()), userID, roleID); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// givePermission handles POST /users/{id}/permissions
func (h *Handlers) givePermission(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req givePermissionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	err := h.service.GivePermission(r.Context(), auth.IdentityFromContext(r.Context()), userID, req.Permission, req.GuardName)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// revokePermission handles DELETE /users/{id}/permissions/{permission}
func (h *Handlers) revokePermission(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	name, err := httputil.ParsePathString(r, "permission")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	guard := httputil.ParseQueryString(r, "guard", GuardWeb)
	if err := h.service.RevokePermission(r.Context(), auth.IdentityFromContext(r.Context()), userID, name, guard); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// myPermissions handles GET /me/permissions
func (h *Handlers) myPermissions(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	if user == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	tenant := tenants.FromContext(r.Context())

	perms, err := h.checker.EffectivePermissions(r.Context(), user, tenant)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	resp := map[string]interface{}{
		"permissions": perms,
		"super_admin": user.IsSuperAdmin(),
	}
	if tenant != nil {
		resp["tenant_id"] = tenant.ID
	}
	httputil.WriteSuccess(w, resp)
}

// checkPermission handles GET /me/can?permission=...
func (h *Handlers) checkPermission(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	if user == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	permission := httputil.ParseQueryString(r, "permission", "")
	if permission == "" {
		httputil.WriteBadRequest(w, "permission is required")
		return
	}

	allowed, err := h.checker.Check(r.Context(), user, tenants.FromContext(r.Context()), permission)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"permission": permission, "allowed": allowed})
}
