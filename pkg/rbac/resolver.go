package rbac

import (
	"sort"

	"github.com/platinummonkey/tenantadmin/pkg/auth"
	"github.com/platinummonkey/tenantadmin/pkg/tenants"
)

type permissionSet map[string]struct{}

func (s permissionSet) add(names ...string) {
	for _, n := range names {
		s[n] = struct{}{}
	}
}

func (s permissionSet) has(name string) bool {
	_, ok := s[name]
	return ok
}

func (s permissionSet) sorted() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Grants is an immutable snapshot of the role registry of one guard: every
// registered role with its permissions, and every registered permission.
type Grants struct {
	roles       map[string]permissionSet
	permissions permissionSet
}

// NewGrants builds a snapshot from role name to permission names. Every
// permission referenced by a role is registered implicitly; extra lists
// permissions that belong to no role.
func NewGrants(roles map[string][]string, extra ...string) *Grants {
	g := &Grants{roles: make(map[string]permissionSet, len(roles)), permissions: permissionSet{}}
	for role, perms := range roles {
		set := permissionSet{}
		set.add(perms...)
		g.roles[role] = set
		g.permissions.add(perms...)
	}
	g.permissions.add(extra...)
	return g
}

// HasRole reports whether name is a registered role
func (g *Grants) HasRole(name string) bool {
	_, ok := g.roles[name]
	return ok
}

// RolePermissions returns the sorted permissions of a registered role
func (g *Grants) RolePermissions(name string) []string {
	return g.roles[name].sorted()
}

// Permissions returns every registered permission, sorted
func (g *Grants) Permissions() []string {
	return g.permissions.sorted()
}

// Subject is a user with the roles and permissions assigned to them
// directly, outside any tenant
type Subject struct {
	User        *auth.User
	Roles       []string
	Permissions []string
}

// TenantScope is the tenant context of a check. Membership is the user's
// row in tenant_user, nil when there is none.
type TenantScope struct {
	Tenant     *tenants.Tenant
	Membership *tenants.Membership
}

// Resolver evaluates permission checks against a Grants snapshot. It does
// no I/O.
type Resolver struct {
	grants *Grants
}

// NewResolver creates a Resolver over grants
func NewResolver(grants *Grants) *Resolver {
	if grants == nil {
		grants = NewGrants(nil)
	}
	return &Resolver{grants: grants}
}

// Check reports whether subject holds permission, within scope when scope
// is non-nil. Super admins hold every permission. Unknown permission names
// are never granted to anyone else.
func (r *Resolver) Check(subject Subject, scope *TenantScope, permission string) bool {
	if subject.User == nil {
		return false
	}
	if subject.User.IsSuperAdmin() {
		return true
	}
	if r.globalSet(subject).has(permission) {
		return true
	}
	return r.tenantSet(subject.User, scope).has(permission)
}

// EffectivePermissions lists everything subject holds in scope, sorted. For
// a super admin this is every registered permission.
func (r *Resolver) EffectivePermissions(subject Subject, scope *TenantScope) []string {
	if subject.User == nil {
		return []string{}
	}
	if subject.User.IsSuperAdmin() {
		all := permissionSet{}
		all.add(r.grants.Permissions()...)
		all.add(subject.Permissions...)
		return all.sorted()
	}

	set := r.globalSet(subject)
	for p := range r.tenantSet(subject.User, scope) {
		set[p] = struct{}{}
	}
	return set.sorted()
}

// TenantPermissions lists the permissions user holds only by virtue of
// scope, sorted. It is empty for users who neither own the tenant nor hold
// an active membership in it.
func (r *Resolver) TenantPermissions(user *auth.User, scope *TenantScope) []string {
	return r.tenantSet(user, scope).sorted()
}

// globalSet is the union of the subject's direct roles' permissions and
// direct permissions
func (r *Resolver) globalSet(subject Subject) permissionSet {
	set := permissionSet{}
	for _, role := range subject.Roles {
		for p := range r.grants.roles[role] {
			set[p] = struct{}{}
		}
	}
	set.add(subject.Permissions...)
	return set
}

// tenantSet is the permissions of the user's tenant role, when that role is
// registered, plus any membership override
func (r *Resolver) tenantSet(user *auth.User, scope *TenantScope) permissionSet {
	set := permissionSet{}
	if scope == nil || scope.Tenant == nil {
		return set
	}

	role := tenants.TenantRole(user, scope.Tenant, scope.Membership)
	if role == "" {
		return set
	}
	for p := range r.grants.roles[role] {
		set[p] = struct{}{}
	}

	// Overrides only exist on membership rows; the owner has none
	if !scope.Tenant.IsOwnedBy(user.ID) && scope.Membership.IsActive() {
		set.add(scope.Membership.Permissions...)
	}
	return set
}
