package middleware

import (
	"context"
	"net/http"

	"github.com/platinummonkey/tenantadmin/pkg/auth"
	"github.com/platinummonkey/tenantadmin/pkg/contextkeys"
	"github.com/platinummonkey/tenantadmin/pkg/httputil"
	"github.com/platinummonkey/tenantadmin/pkg/session"
	"github.com/platinummonkey/tenantadmin/pkg/tenants"
)

// TenantResolver picks the current tenant of a session
type TenantResolver interface {
	CurrentTenant(ctx context.Context, sess session.Session, identity *auth.Identity) (*tenants.Tenant, error)
}

// TenantContext attaches the current tenant of an authenticated session.
// Requires Identity.
func TenantContext(resolver TenantResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			identity := auth.IdentityFromContext(ctx)
			sess := session.FromContext(ctx)
			if identity == nil || sess == nil {
				next.ServeHTTP(w, r)
				return
			}

			tenant, err := resolver.CurrentTenant(ctx, sess, identity)
			if err != nil {
				httputil.WriteServiceError(w, r, err)
				return
			}
			if tenant != nil {
				ctx = contextkeys.WithTenant(ctx, tenant)
				ctx = contextkeys.WithTenantID(ctx, session.FormatID(tenant.ID))
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
