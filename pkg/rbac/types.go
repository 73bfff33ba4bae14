package rbac

import (
	"fmt"
	"time"

	"github.com/platinummonkey/tenantadmin/pkg/storage/postgres"
	"github.com/platinummonkey/tenantadmin/pkg/tenants"
)

// Guards scope roles and permissions to an authentication channel
const (
	GuardWeb = "web"
	GuardAPI = "api"
)

// Guards lists the valid guard names
var Guards = []string{GuardWeb, GuardAPI}

// Permissions the core checks
const (
	PermissionUsersImpersonate = "users.impersonate"
	PermissionRolesView        = "roles.view"
	PermissionRolesManage      = "roles.manage"
	PermissionPermissionsView  = "permissions.view"
	PermissionsManage          = "permissions.manage"
	PermissionUsersAssignRoles = "users.assign_roles"
	PermissionActivityView     = "activity.view"
	PermissionSettingsManage   = "settings.manage"
)

// globalPermissions are only ever checked outside a tenant. A membership
// override may not carry them.
var globalPermissions = map[string]bool{
	PermissionUsersImpersonate: true,
	PermissionRolesView:        true,
	PermissionRolesManage:      true,
	PermissionPermissionsView:  true,
	PermissionsManage:          true,
	PermissionUsersAssignRoles: true,
	PermissionActivityView:     true,
	tenants.PermissionCreate:   true,
}

// IsGlobalPermission reports whether name is checked only outside tenants
func IsGlobalPermission(name string) bool {
	return globalPermissions[name]
}

var (
	// ErrRoleNotFound is returned when no role matches a lookup
	ErrRoleNotFound = fmt.Errorf("role %w", postgres.ErrNotFound)
	// ErrPermissionNotFound is returned when no permission matches a lookup
	ErrPermissionNotFound = fmt.Errorf("permission %w", postgres.ErrNotFound)
)

// Role is a named bundle of permissions within one guard
type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	GuardName   string    `json:"guard_name"`
	Label       string    `json:"label"`
	Description string    `json:"description"`
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Permission is a dot-namespaced capability such as users.create
type Permission struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	GuardName string    `json:"guard_name"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateRoleRequest describes a new role. Permissions are attached in the
// same transaction.
type CreateRoleRequest struct {
	Name        string   `json:"name"`
	GuardName   string   `json:"guard_name"`
	Label       string   `json:"label"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

// UpdateRoleRequest holds the mutable role fields. Nil fields are unchanged.
type UpdateRoleRequest struct {
	Name        *string `json:"name,omitempty"`
	Label       *string `json:"label,omitempty"`
	Description *string `json:"description,omitempty"`
}

// CreatePermissionRequest describes a new permission
type CreatePermissionRequest struct {
	Name      string `json:"name"`
	GuardName string `json:"guard_name"`
	Label     string `json:"label"`
}
