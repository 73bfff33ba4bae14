package rbac

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantadmin/pkg/audit"
	"github.com/platinummonkey/tenantadmin/pkg/auth"
	"github.com/platinummonkey/tenantadmin/pkg/httputil"
	"github.com/platinummonkey/tenantadmin/pkg/tenants"
)

// RequirePermission creates middleware that rejects requests whose
// identity does not hold permission globally. Roles and overrides from
// tenant memberships never satisfy it, whatever the current tenant is.
// Denials are written to the activity log.
func RequirePermission(checker *Checker, permission string) mux.MiddlewareFunc {
	return requirePermission(checker, permission, false)
}

// RequireTenantPermission is RequirePermission evaluated within the
// request's current tenant, so membership grants count. Use it only for
// routes that act on that tenant.
func RequireTenantPermission(checker *Checker, permission string) mux.MiddlewareFunc {
	return requirePermission(checker, permission, true)
}

func requirePermission(checker *Checker, permission string, scoped bool) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			identity := auth.IdentityFromContext(ctx)
			if identity == nil || identity.User == nil {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			current := tenants.FromContext(ctx)
			var scope *tenants.Tenant
			if scoped {
				scope = current
			}

			err := checker.Authorize(ctx, identity.User, scope, permission)
			if auth.IsAccessDenied(err) {
				event := audit.NewEvent(ctx, identity, audit.EventTypeAccessDenied, audit.EventStatusDenied).
					WithTargetName(audit.TargetTypePermission, permission).
					WithMetadata("path", r.URL.Path)
				if current != nil {
					event.WithTenant(current.ID)
				}
				audit.Record(ctx, audit.FromContext(ctx), event)
			}
			if err != nil {
				httputil.WriteServiceError(w, r, err)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
