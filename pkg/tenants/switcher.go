package tenants

import (
	"context"
	"errors"
	"fmt"

	"github.com/platinummonkey/tenantadmin/pkg/audit"
	"github.com/platinummonkey/tenantadmin/pkg/auth"
	"github.com/platinummonkey/tenantadmin/pkg/observability"
	"github.com/platinummonkey/tenantadmin/pkg/session"
)

// Switcher maintains the current-tenant pointer of a session
type Switcher struct {
	dir      Directory
	activity audit.Logger
	metrics  *observability.Metrics
}

// NewSwitcher creates a Switcher. activity and metrics may be nil.
func NewSwitcher(dir Directory, activity audit.Logger, metrics *observability.Metrics) *Switcher {
	if activity == nil {
		activity = audit.NopLogger()
	}
	return &Switcher{dir: dir, activity: activity, metrics: metrics}
}

// SwitchTenant points the session at tenantID. The identity's effective user
// must own the tenant or hold an active membership in it, and the tenant
// must be active. On any failure the session is left as it was.
func (sw *Switcher) SwitchTenant(ctx context.Context, sess session.Session, identity *auth.Identity, tenantID int64) (*Tenant, error) {
	if identity == nil || identity.User == nil {
		return nil, &auth.AccessDeniedError{Reason: "not authenticated"}
	}
	user := identity.User

	tenant, m, err := sw.load(ctx, user.ID, tenantID)
	if auth.IsAccessDenied(err) {
		sw.deny(ctx, identity, tenantID, "not a member of this tenant")
		return nil, err
	}
	if err != nil {
		sw.count("error")
		return nil, err
	}

	if !CanAccessTenant(user, tenant, m) {
		sw.deny(ctx, identity, tenantID, "not a member of this tenant")
		return nil, &auth.AccessDeniedError{UserID: user.ID, TenantID: &tenantID, Reason: "not a member of this tenant"}
	}
	if !tenant.IsActive {
		sw.deny(ctx, identity, tenantID, "tenant is suspended")
		return nil, &auth.AccessDeniedError{UserID: user.ID, TenantID: &tenantID, Reason: "tenant is suspended"}
	}

	if err := sess.Set(ctx, session.KeyCurrentTenantID, session.FormatID(tenant.ID)); err != nil {
		sw.count("error")
		return nil, err
	}

	sw.count("success")
	audit.Record(ctx, sw.activity, audit.NewEvent(ctx, identity, audit.EventTypeTenantSwitch, audit.EventStatusSuccess).
		WithTarget(audit.TargetTypeTenant, tenant.ID).
		WithTenant(tenant.ID))
	observability.FromContext(ctx).WithField("tenant_id", tenant.ID).Info("tenant switched")

	return tenant, nil
}

// CurrentTenant returns the session's current tenant. When the pointer is
// unset, or names a tenant the user can no longer reach, the first
// accessible tenant is chosen and persisted. It returns nil when the user
// has no accessible tenant, clearing any stale pointer.
func (sw *Switcher) CurrentTenant(ctx context.Context, sess session.Session, identity *auth.Identity) (*Tenant, error) {
	if identity == nil || identity.User == nil {
		return nil, nil
	}
	user := identity.User

	id, ok, err := session.GetInt64(ctx, sess, session.KeyCurrentTenantID)
	if err != nil {
		return nil, err
	}
	if ok {
		tenant, m, err := sw.load(ctx, user.ID, id)
		switch {
		case err == nil && tenant.IsActive && CanAccessTenant(user, tenant, m):
			return tenant, nil
		case err != nil && !auth.IsAccessDenied(err):
			return nil, err
		}
		observability.FromContext(ctx).WithField("tenant_id", id).Debug("discarding stale tenant pointer")
	}

	tenant, err := sw.dir.FirstAccessibleTenant(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		if ok {
			return nil, sess.Delete(ctx, session.KeyCurrentTenantID)
		}
		return nil, nil
	}

	if err := sess.Set(ctx, session.KeyCurrentTenantID, session.FormatID(tenant.ID)); err != nil {
		return nil, err
	}
	return tenant, nil
}

// load fetches the tenant and the user's membership. An unknown tenant is
// reported as AccessDenied so callers cannot probe for tenant IDs.
func (sw *Switcher) load(ctx context.Context, userID, tenantID int64) (*Tenant, *Membership, error) {
	tenant, err := sw.dir.Get(ctx, tenantID)
	if errors.Is(err, ErrTenantNotFound) {
		return nil, nil, &auth.AccessDeniedError{UserID: userID, TenantID: &tenantID, Reason: "not a member of this tenant"}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load tenant: %w", err)
	}
	if tenant.IsOwnedBy(userID) {
		return tenant, nil, nil
	}

	m, err := sw.dir.FindMembership(ctx, tenantID, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load membership: %w", err)
	}
	return tenant, m, nil
}

func (sw *Switcher) deny(ctx context.Context, identity *auth.Identity, tenantID int64, reason string) {
	sw.count("denied")
	audit.Record(ctx, sw.activity, audit.NewEvent(ctx, identity, audit.EventTypeTenantSwitch, audit.EventStatusDenied).
		WithTarget(audit.TargetTypeTenant, tenantID).
		WithMessage(reason))
}

func (sw *Switcher) count(result string) {
	if sw.metrics != nil {
		sw.metrics.TenantSwitchesTotal.WithLabelValues(result).Inc()
	}
}
