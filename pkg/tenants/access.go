package tenants

import "github.com/platinummonkey/tenantadmin/pkg/auth"

// CanAccessTenant reports whether user may act within tenant: the user owns
// it, or m is the user's active membership in it. Pending invitations do
// not grant access. The tenant's own active flag is not considered here.
func CanAccessTenant(user *auth.User, tenant *Tenant, m *Membership) bool {
	if user == nil || tenant == nil {
		return false
	}
	if tenant.IsOwnedBy(user.ID) {
		return true
	}
	return m.IsActive() && m.TenantID == tenant.ID && m.UserID == user.ID
}

// TenantRole returns the user's role in tenant: RoleOwner for the owner,
// the stored role of an active membership, otherwise "".
func TenantRole(user *auth.User, tenant *Tenant, m *Membership) string {
	if user == nil || tenant == nil {
		return ""
	}
	if tenant.IsOwnedBy(user.ID) {
		return RoleOwner
	}
	if CanAccessTenant(user, tenant, m) {
		return m.Role
	}
	return ""
}
