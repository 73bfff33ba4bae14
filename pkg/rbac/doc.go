// Package rbac resolves role and permission grants for users, optionally
// within a tenant.
//
// # Model
//
// Permissions are dot-namespaced capabilities (users.create, pages.edit)
// registered per guard. Roles are named bundles of permissions; role names
// are unique and match ^[a-z_]+$ exactly as submitted. A user holds roles
// and permissions directly, and within a tenant additionally holds the
// permissions of their membership role (owner for the tenant's owner) plus
// any per-membership override list.
//
// Users of type super_admin hold every permission in every context.
//
// # Resolution
//
// Resolver evaluates checks against an immutable Grants snapshot and does no
// I/O:
//
//	grants := rbac.NewGrants(map[string][]string{"editor": {"pages.edit"}})
//	resolver := rbac.NewResolver(grants)
//	resolver.Check(subject, &rbac.TenantScope{Tenant: t, Membership: m}, "pages.edit")
//
// Checker wraps a Resolver with loading. It reads the role registry and each
// user's direct grants from a GrantSource (normally *Store), caches both in
// expiring LRUs, and collapses concurrent misses with singleflight. Service
// invalidates the cache after every mutation, so a write is visible to the
// next check on the same process; other processes see it after the cache TTL.
//
// # Mutation
//
// SyncPermissions replaces a role's permission set in one transaction with
// the role row locked. Unknown names fail validation before anything is
// written. DeleteRole refuses roles still assigned to a user or used as a
// tenant membership role.
//
// # HTTP
//
// Handlers exposes role, permission and assignment management, each route
// guarded by RequirePermission. That check ignores the current tenant, so
// membership grants never open the registry. RequireTenantPermission is
// the variant for routes that act on the current tenant. Denied requests
// are written to the activity log.
//
// # Seeding
//
// LoadSeed and ApplySeed install a YAML registry idempotently:
//
//	permissions:
//	  - name: pages.edit
//	roles:
//	  - name: editor
//	    permissions: [pages.edit]
package rbac
