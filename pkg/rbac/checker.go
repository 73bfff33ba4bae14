package rbac

import (
	"context"
	"fmt"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/tenantadmin/pkg/auth"
	"github.com/platinummonkey/tenantadmin/pkg/observability"
	"github.com/platinummonkey/tenantadmin/pkg/tenants"
	"github.com/platinummonkey/tenantadmin/pkg/validation"
)

// GrantSource loads the data a permission check needs
type GrantSource interface {
	LoadGrants(ctx context.Context, guard string) (*Grants, error)
	LoadSubject(ctx context.Context, userID int64, guard string) (roles, permissions []string, err error)
}

// CheckerConfig tunes the grant caches
type CheckerConfig struct {
	Guard     string
	CacheSize int
	CacheTTL  time.Duration
}

// DefaultCheckerConfig returns the configuration used when fields are zero
func DefaultCheckerConfig() CheckerConfig {
	return CheckerConfig{Guard: GuardWeb, CacheSize: 10000, CacheTTL: time.Minute}
}

type subjectGrants struct {
	roles       []string
	permissions []string
}

// Checker answers permission checks for users, loading grants from a
// GrantSource and memberships from a tenant Directory. Per-user grants and
// the role registry are cached; concurrent misses for the same key share
// one load. Callers invalidate after mutating roles or assignments.
type Checker struct {
	source  GrantSource
	dir     tenants.Directory
	metrics *observability.Metrics
	guard   string

	subjects *lru.LRU[int64, subjectGrants]
	registry *lru.LRU[string, *Grants]
	group    singleflight.Group
}

// NewChecker creates a Checker. metrics may be nil.
func NewChecker(source GrantSource, dir tenants.Directory, metrics *observability.Metrics, cfg CheckerConfig) *Checker {
	def := DefaultCheckerConfig()
	if cfg.Guard == "" {
		cfg.Guard = def.Guard
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = def.CacheSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}

	c := &Checker{source: source, dir: dir, metrics: metrics, guard: cfg.Guard}
	c.subjects = lru.NewLRU[int64, subjectGrants](cfg.CacheSize, func(int64, subjectGrants) {
		if c.metrics != nil {
			c.metrics.GrantCacheEvictions.Inc()
		}
	}, cfg.CacheTTL)
	c.registry = lru.NewLRU[string, *Grants](1, nil, cfg.CacheTTL)
	return c
}

// Check reports whether user holds permission, within tenant when tenant is
// non-nil. An unknown permission is reported as not held.
func (c *Checker) Check(ctx context.Context, user *auth.User, tenant *tenants.Tenant, permission string) (allowed bool, err error) {
	if user == nil {
		return false, nil
	}

	ctx, span := observability.StartSpan(ctx, "rbac.check",
		attribute.String("permission", permission),
		attribute.Int64("user_id", user.ID),
	)
	start := time.Now()
	defer func() {
		span.SetAttributes(attribute.Bool("allowed", allowed))
		observability.EndSpan(span, err)
		c.observe(start, allowed, err)
	}()

	if user.IsSuperAdmin() {
		return true, nil
	}

	resolver, subject, scope, err := c.prepare(ctx, user, tenant)
	if err != nil {
		return false, err
	}
	return resolver.Check(subject, scope, permission), nil
}

// Authorize is Check returning an AccessDeniedError when the permission is
// not held
func (c *Checker) Authorize(ctx context.Context, user *auth.User, tenant *tenants.Tenant, permission string) error {
	allowed, err := c.Check(ctx, user, tenant, permission)
	if err != nil {
		return err
	}
	if allowed {
		return nil
	}

	denied := &auth.AccessDeniedError{Permission: permission}
	if user != nil {
		denied.UserID = user.ID
	}
	if tenant != nil {
		id := tenant.ID
		denied.TenantID = &id
	}
	return denied
}

// EffectivePermissions lists every permission user holds in tenant, sorted
func (c *Checker) EffectivePermissions(ctx context.Context, user *auth.User, tenant *tenants.Tenant) ([]string, error) {
	if user == nil {
		return []string{}, nil
	}

	ctx, span := observability.StartSpan(ctx, "rbac.effective_permissions", attribute.Int64("user_id", user.ID))
	resolver, subject, scope, err := c.prepare(ctx, user, tenant)
	observability.EndSpan(span, err)
	if err != nil {
		return nil, err
	}
	return resolver.EffectivePermissions(subject, scope), nil
}

// ValidateOverride rejects membership permission overrides that name an
// unregistered permission or one that is only checked globally
func (c *Checker) ValidateOverride(ctx context.Context, permissions []string) error {
	grants, err := c.grants(ctx)
	if err != nil {
		return err
	}

	v := validation.New()
	for _, p := range permissions {
		switch {
		case IsGlobalPermission(p):
			v.Add("permissions", validation.RuleReserved, fmt.Sprintf("%s cannot be granted within a tenant", p))
		case !grants.permissions.has(p):
			v.Add("permissions", validation.RuleExists, fmt.Sprintf("permission %s is not registered", p))
		}
	}
	return v.Err()
}

// InvalidateUser drops the cached grants of one user
func (c *Checker) InvalidateUser(userID int64) {
	c.subjects.Remove(userID)
}

// InvalidateGrants drops the cached role registry
func (c *Checker) InvalidateGrants() {
	c.registry.Purge()
}

// InvalidateAll drops every cached entry
func (c *Checker) InvalidateAll() {
	c.registry.Purge()
	c.subjects.Purge()
}

func (c *Checker) prepare(ctx context.Context, user *auth.User, tenant *tenants.Tenant) (*Resolver, Subject, *TenantScope, error) {
	grants, err := c.grants(ctx)
	if err != nil {
		return nil, Subject{}, nil, err
	}

	sg, err := c.subject(ctx, user.ID)
	if err != nil {
		return nil, Subject{}, nil, err
	}
	subject := Subject{User: user, Roles: sg.roles, Permissions: sg.permissions}

	var scope *TenantScope
	if tenant != nil {
		scope = &TenantScope{Tenant: tenant}
		if !tenant.IsOwnedBy(user.ID) {
			m, err := c.dir.FindMembership(ctx, tenant.ID, user.ID)
			if err != nil {
				return nil, Subject{}, nil, fmt.Errorf("failed to load membership: %w", err)
			}
			scope.Membership = m
		}
	}

	return NewResolver(grants), subject, scope, nil
}

func (c *Checker) grants(ctx context.Context) (*Grants, error) {
	if g, ok := c.registry.Get(c.guard); ok {
		return g, nil
	}

	v, err, _ := c.group.Do("grants:"+c.guard, func() (interface{}, error) {
		g, err := c.source.LoadGrants(ctx, c.guard)
		if err != nil {
			return nil, err
		}
		c.registry.Add(c.guard, g)
		return g, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Grants), nil
}

func (c *Checker) subject(ctx context.Context, userID int64) (subjectGrants, error) {
	if sg, ok := c.subjects.Get(userID); ok {
		c.hit()
		return sg, nil
	}
	c.miss()

	v, err, _ := c.group.Do("subject:"+strconv.FormatInt(userID, 10), func() (interface{}, error) {
		roles, perms, err := c.source.LoadSubject(ctx, userID, c.guard)
		if err != nil {
			return nil, err
		}
		sg := subjectGrants{roles: roles, permissions: perms}
		c.subjects.Add(userID, sg)
		return sg, nil
	})
	if err != nil {
		return subjectGrants{}, err
	}
	return v.(subjectGrants), nil
}

func (c *Checker) observe(start time.Time, allowed bool, err error) {
	if c.metrics == nil {
		return
	}
	decision := "deny"
	switch {
	case err != nil:
		decision = "error"
	case allowed:
		decision = "allow"
	}
	c.metrics.PermissionChecksTotal.WithLabelValues(decision).Inc()
	c.metrics.PermissionCheckDuration.Observe(time.Since(start).Seconds())
}

func (c *Checker) hit() {
	if c.metrics != nil {
		c.metrics.GrantCacheHitsTotal.Inc()
	}
}

func (c *Checker) miss() {
	if c.metrics != nil {
		c.metrics.GrantCacheMissesTotal.Inc()
	}
}
