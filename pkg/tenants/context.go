package tenants

import (
	"context"

	"github.com/platinummonkey/tenantadmin/pkg/contextkeys"
)

// FromContext returns the current tenant attached by the tenant context
// middleware, or nil when the request has no tenant context
func FromContext(ctx context.Context) *Tenant {
	tenant, _ := ctx.Value(contextkeys.TenantKey).(*Tenant)
	return tenant
}
