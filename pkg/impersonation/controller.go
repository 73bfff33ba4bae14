package impersonation

import (
	"context"
	"errors"
	"fmt"

	"github.com/platinummonkey/tenantadmin/pkg/audit"
	"github.com/platinummonkey/tenantadmin/pkg/auth"
	"github.com/platinummonkey/tenantadmin/pkg/observability"
	"github.com/platinummonkey/tenantadmin/pkg/rbac"
	"github.com/platinummonkey/tenantadmin/pkg/session"
	"github.com/platinummonkey/tenantadmin/pkg/tenants"
	"github.com/platinummonkey/tenantadmin/pkg/validation"
)

// UserLoader loads accounts by ID
type UserLoader interface {
	Get(ctx context.Context, id int64) (*auth.User, error)
}

// PermissionChecker answers global permission checks
type PermissionChecker interface {
	Check(ctx context.Context, user *auth.User, tenant *tenants.Tenant, permission string) (bool, error)
}

// Controller moves a session between the Normal and Impersonating states.
//
// The session stores the effective user under user_id. While impersonating
// it also stores the administrator who started it under original_user_id.
// Both keys change in a single Session.Update.
type Controller struct {
	users    UserLoader
	perms    PermissionChecker
	activity audit.Logger
	metrics  *observability.Metrics
}

// NewController creates a Controller. activity and metrics may be nil.
func NewController(users UserLoader, perms PermissionChecker, activity audit.Logger, metrics *observability.Metrics) *Controller {
	if activity == nil {
		activity = audit.NopLogger()
	}
	return &Controller{users: users, perms: perms, activity: activity, metrics: metrics}
}

// Identity resolves the users behind sess. It returns nil for an anonymous
// session, and for a session whose user, or original user, no longer
// exists or is not active.
func (c *Controller) Identity(ctx context.Context, sess session.Session) (*auth.Identity, error) {
	userID, ok, err := session.GetInt64(ctx, sess, session.KeyUserID)
	if err != nil || !ok {
		return nil, err
	}
	user, err := c.activeUser(ctx, userID)
	if err != nil || user == nil {
		return nil, err
	}

	identity := &auth.Identity{User: user}

	originalID, ok, err := session.GetInt64(ctx, sess, session.KeyOriginalUserID)
	if err != nil {
		return nil, err
	}
	if ok {
		original, err := c.activeUser(ctx, originalID)
		if err != nil || original == nil {
			return nil, err
		}
		identity.OriginalUser = original
	}

	return identity, nil
}

// Take makes target the effective user of sess while remembering the actor.
//
// The checks run in order: the session must not already be impersonating,
// the target must differ from the actor, the actor must hold
// users.impersonate, and only a super admin may impersonate a super admin.
// Nothing is written unless every check passes.
func (c *Controller) Take(ctx context.Context, sess session.Session, identity *auth.Identity, targetID int64) (*auth.Identity, error) {
	if identity == nil || identity.User == nil {
		return nil, &auth.AccessDeniedError{Reason: "not authenticated"}
	}
	if identity.IsImpersonating() {
		c.count("take", "invalid_state")
		return nil, &auth.InvalidStateTransitionError{State: "impersonating", Action: "start impersonation"}
	}
	actor := identity.User

	if targetID == actor.ID {
		c.count("take", "invalid")
		return nil, validation.NewFieldError("user_id", validation.RuleDistinct, "cannot impersonate yourself")
	}

	allowed, err := c.perms.Check(ctx, actor, nil, rbac.PermissionUsersImpersonate)
	if err != nil {
		c.count("take", "error")
		return nil, fmt.Errorf("failed to check impersonation permission: %w", err)
	}
	if !allowed {
		return nil, c.deny(ctx, identity, targetID, &auth.AccessDeniedError{
			UserID:     actor.ID,
			Permission: rbac.PermissionUsersImpersonate,
		})
	}

	target, err := c.users.Get(ctx, targetID)
	if err != nil {
		c.count("take", "error")
		return nil, err
	}
	if target.IsSuperAdmin() && !actor.IsSuperAdmin() {
		return nil, c.deny(ctx, identity, targetID, &auth.AccessDeniedError{
			UserID: actor.ID,
			Reason: "only a super admin may impersonate a super admin",
		})
	}
	if !target.IsActive() {
		return nil, c.deny(ctx, identity, targetID, &auth.AccessDeniedError{
			UserID: actor.ID,
			Reason: "target account is not active",
		})
	}

	// The actor's tenant pointer means nothing to the target
	err = sess.Update(ctx, map[string]string{
		session.KeyUserID:         session.FormatID(target.ID),
		session.KeyOriginalUserID: session.FormatID(actor.ID),
	}, session.KeyCurrentTenantID)
	if err != nil {
		c.count("take", "error")
		return nil, fmt.Errorf("failed to start impersonation: %w", err)
	}

	next := &auth.Identity{User: target, OriginalUser: actor}
	c.count("take", "success")
	audit.Record(ctx, c.activity, audit.NewEvent(ctx, next, audit.EventTypeImpersonationTake, audit.EventStatusSuccess).
		WithTarget(audit.TargetTypeUser, target.ID))
	observability.FromContext(ctx).
		WithField("actor_id", actor.ID).
		WithField("target_id", target.ID).
		Info("impersonation started")

	return next, nil
}

// Leave restores the original user of an impersonating session
func (c *Controller) Leave(ctx context.Context, sess session.Session, identity *auth.Identity) (*auth.Identity, error) {
	if !identity.IsImpersonating() {
		c.count("leave", "invalid_state")
		return nil, &auth.InvalidStateTransitionError{State: "not impersonating", Action: "leave impersonation"}
	}
	original := identity.OriginalUser

	err := sess.Update(ctx, map[string]string{
		session.KeyUserID: session.FormatID(original.ID),
	}, session.KeyOriginalUserID, session.KeyCurrentTenantID)
	if err != nil {
		c.count("leave", "error")
		return nil, fmt.Errorf("failed to leave impersonation: %w", err)
	}

	c.count("leave", "success")
	audit.Record(ctx, c.activity, audit.NewEvent(ctx, identity, audit.EventTypeImpersonationLeave, audit.EventStatusSuccess).
		WithTarget(audit.TargetTypeUser, identity.User.ID))
	observability.FromContext(ctx).
		WithField("actor_id", original.ID).
		WithField("target_id", identity.User.ID).
		Info("impersonation ended")

	return &auth.Identity{User: original}, nil
}

func (c *Controller) activeUser(ctx context.Context, id int64) (*auth.User, error) {
	user, err := c.users.Get(ctx, id)
	if errors.Is(err, auth.ErrUserNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session user: %w", err)
	}
	if !user.IsActive() {
		return nil, nil
	}
	return user, nil
}

func (c *Controller) deny(ctx context.Context, identity *auth.Identity, targetID int64, err *auth.AccessDeniedError) error {
	c.count("take", "denied")
	audit.Record(ctx, c.activity, audit.NewEvent(ctx, identity, audit.EventTypeImpersonationTake, audit.EventStatusDenied).
		WithTarget(audit.TargetTypeUser, targetID).
		WithMessage(err.Error()))
	return err
}

func (c *Controller) count(action, result string) {
	if c.metrics != nil {
		c.metrics.ImpersonationsTotal.WithLabelValues(action, result).Inc()
	}
}
