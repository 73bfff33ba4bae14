// Package tenants stores tenants and their memberships and maintains the
// session's current-tenant pointer.
//
// A tenant is owned by exactly one user. The owner holds the implicit
// "owner" role without a tenant_user row; everyone else needs an active
// membership. Pending invitations do not grant access.
//
//	store := tenants.NewPostgresStore(db)
//	switcher := tenants.NewSwitcher(store, activity, metrics)
//
//	tenant, err := switcher.SwitchTenant(ctx, sess, identity, tenantID)
//	if auth.IsAccessDenied(err) {
//		// pointer unchanged
//	}
//
// CurrentTenant treats a pointer to a tenant the user can no longer reach
// as unset and falls back to the lowest owned tenant, then the earliest
// active membership.
package tenants
