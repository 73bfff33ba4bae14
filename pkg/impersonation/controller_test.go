package impersonation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantadmin/pkg/audit"
	"github.com/platinummonkey/tenantadmin/pkg/auth"
	"github.com/platinummonkey/tenantadmin/pkg/observability"
	"github.com/platinummonkey/tenantadmin/pkg/rbac"
	"github.com/platinummonkey/tenantadmin/pkg/session"
	"github.com/platinummonkey/tenantadmin/pkg/tenants"
	"github.com/platinummonkey/tenantadmin/pkg/validation"
)

type userMap map[int64]*auth.User

func (m userMap) Get(ctx context.Context, id int64) (*auth.User, error) {
	if u, ok := m[id]; ok {
		return u, nil
	}
	return nil, auth.ErrUserNotFound
}

// grantList grants each user a fixed set of permissions
type grantList map[int64][]string

func (g grantList) Check(ctx context.Context, user *auth.User, tenant *tenants.Tenant, permission string) (bool, error) {
	if user.IsSuperAdmin() {
		return true, nil
	}
	for _, p := range g[user.ID] {
		if p == permission {
			return true, nil
		}
	}
	return false, nil
}

type eventRecorder struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (r *eventRecorder) Log(ctx context.Context, event *audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *eventRecorder) Close() error { return nil }

const (
	adminID      int64 = 1
	supportID    int64 = 2
	customerID   int64 = 3
	superID      int64 = 4
	suspendedID  int64 = 5
	unprivileged int64 = 6
)

type fixture struct {
	controller *Controller
	events     *eventRecorder
	metrics    *observability.Metrics
	users      userMap
	sess       session.Session
}

func newFixture(t *testing.T) *fixture {
	users := userMap{
		adminID:      {ID: adminID, Type: auth.UserTypeSuperAdmin, Status: auth.UserStatusActive},
		supportID:    {ID: supportID, Type: auth.UserTypeAdmin, Status: auth.UserStatusActive},
		customerID:   {ID: customerID, Type: auth.UserTypeUser, Status: auth.UserStatusActive},
		superID:      {ID: superID, Type: auth.UserTypeSuperAdmin, Status: auth.UserStatusActive},
		suspendedID:  {ID: suspendedID, Type: auth.UserTypeUser, Status: auth.UserStatusSuspended},
		unprivileged: {ID: unprivileged, Type: auth.UserTypeUser, Status: auth.UserStatusActive},
	}
	grants := grantList{supportID: {rbac.PermissionUsersImpersonate}}
	events := &eventRecorder{}
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	sess, err := session.NewMemoryStore(time.Hour).New(context.Background())
	require.NoError(t, err)

	return &fixture{
		controller: NewController(users, grants, events, metrics),
		events:     events,
		metrics:    metrics,
		users:      users,
		sess:       sess,
	}
}

// login starts a Normal session for userID
func (f *fixture) login(t *testing.T, userID int64) *auth.Identity {
	ctx := context.Background()
	require.NoError(t, f.sess.Set(ctx, session.KeyUserID, session.FormatID(userID)))
	identity, err := f.controller.Identity(ctx, f.sess)
	require.NoError(t, err)
	require.NotNil(t, identity)
	return identity
}

func (f *fixture) value(t *testing.T, key string) (string, bool) {
	v, ok, err := f.sess.Get(context.Background(), key)
	require.NoError(t, err)
	return v, ok
}

func TestTakeAndLeave(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	x := f.login(t, supportID)
	require.NoError(t, f.sess.Set(ctx, session.KeyCurrentTenantID, "9"))

	y, err := f.controller.Take(ctx, f.sess, x, customerID)
	require.NoError(t, err)
	assert.Equal(t, customerID, y.User.ID)
	assert.Equal(t, supportID, y.OriginalUser.ID)

	// The session now resolves to the target
	resolved, err := f.controller.Identity(ctx, f.sess)
	require.NoError(t, err)
	assert.Equal(t, customerID, resolved.User.ID)
	assert.True(t, resolved.IsImpersonating())
	assert.Equal(t, supportID, resolved.Actor().ID)
	_, ok := f.value(t, session.KeyCurrentTenantID)
	assert.False(t, ok, "tenant pointer is cleared on take")

	back, err := f.controller.Leave(ctx, f.sess, resolved)
	require.NoError(t, err)
	assert.Equal(t, supportID, back.User.ID)
	assert.False(t, back.IsImpersonating())

	resolved, err = f.controller.Identity(ctx, f.sess)
	require.NoError(t, err)
	assert.Equal(t, supportID, resolved.User.ID)
	assert.Nil(t, resolved.OriginalUser)
	_, ok = f.value(t, session.KeyOriginalUserID)
	assert.False(t, ok)

	_, err = f.controller.Leave(ctx, f.sess, resolved)
	require.Error(t, err)
	assert.True(t, auth.IsInvalidStateTransition(err))
	v, _ := f.value(t, session.KeyUserID)
	assert.Equal(t, session.FormatID(supportID), v)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ImpersonationsTotal.WithLabelValues("take", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ImpersonationsTotal.WithLabelValues("leave", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ImpersonationsTotal.WithLabelValues("leave", "invalid_state")))
}

func TestTake_AuditAttribution(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	x := f.login(t, supportID)

	y, err := f.controller.Take(ctx, f.sess, x, customerID)
	require.NoError(t, err)
	_, err = f.controller.Leave(ctx, f.sess, y)
	require.NoError(t, err)

	require.Len(t, f.events.events, 2)
	for _, event := range f.events.events {
		assert.Equal(t, supportID, *event.ActorID, string(event.EventType))
		assert.Equal(t, customerID, *event.EffectiveUserID, string(event.EventType))
		assert.Equal(t, "3", event.TargetID)
	}
	assert.Equal(t, audit.EventTypeImpersonationTake, f.events.events[0].EventType)
	assert.Equal(t, audit.EventTypeImpersonationLeave, f.events.events[1].EventType)
}

func TestTake_Refusals(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		actor   int64
		target  int64
		prepare func(t *testing.T, f *fixture) *auth.Identity
		check   func(t *testing.T, err error)
	}{
		{
			name:   "nested take",
			actor:  supportID,
			target: unprivileged,
			prepare: func(t *testing.T, f *fixture) *auth.Identity {
				x := f.login(t, supportID)
				y, err := f.controller.Take(ctx, f.sess, x, customerID)
				require.NoError(t, err)
				return y
			},
			check: func(t *testing.T, err error) {
				assert.True(t, auth.IsInvalidStateTransition(err))
			},
		},
		{
			name:   "self",
			target: supportID,
			check: func(t *testing.T, err error) {
				v, ok := validation.AsValidationError(err)
				require.True(t, ok)
				assert.True(t, v.Has("user_id", validation.RuleDistinct))
			},
		},
		{
			name:   "missing permission",
			actor:  unprivileged,
			target: customerID,
			check: func(t *testing.T, err error) {
				var denied *auth.AccessDeniedError
				require.True(t, errors.As(err, &denied))
				assert.Equal(t, rbac.PermissionUsersImpersonate, denied.Permission)
			},
		},
		{
			name:   "admin targeting super admin",
			target: superID,
			check: func(t *testing.T, err error) {
				assert.True(t, auth.IsAccessDenied(err))
				assert.Contains(t, err.Error(), "super admin")
			},
		},
		{
			name:   "inactive target",
			target: suspendedID,
			check: func(t *testing.T, err error) {
				assert.True(t, auth.IsAccessDenied(err))
			},
		},
		{
			name:   "unknown target",
			target: 404,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, auth.ErrUserNotFound)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			var identity *auth.Identity
			if tt.prepare != nil {
				identity = tt.prepare(t, f)
			} else {
				actor := tt.actor
				if actor == 0 {
					actor = supportID
				}
				identity = f.login(t, actor)
			}
			before := map[string]string{}
			for _, key := range []string{session.KeyUserID, session.KeyOriginalUserID} {
				if v, ok := f.value(t, key); ok {
					before[key] = v
				}
			}

			_, err := f.controller.Take(ctx, f.sess, identity, tt.target)
			require.Error(t, err)
			tt.check(t, err)

			after := map[string]string{}
			for _, key := range []string{session.KeyUserID, session.KeyOriginalUserID} {
				if v, ok := f.value(t, key); ok {
					after[key] = v
				}
			}
			assert.Equal(t, before, after, "session is unchanged")
		})
	}
}

func TestTake_DenialIsLogged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	identity := f.login(t, unprivileged)

	_, err := f.controller.Take(ctx, f.sess, identity, customerID)
	require.Error(t, err)

	require.Len(t, f.events.events, 1)
	event := f.events.events[0]
	assert.Equal(t, audit.EventTypeImpersonationTake, event.EventType)
	assert.Equal(t, audit.EventStatusDenied, event.Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ImpersonationsTotal.WithLabelValues("take", "denied")))
}

func TestTake_SuperAdminMayImpersonateSuperAdmin(t *testing.T) {
	f := newFixture(t)
	identity := f.login(t, adminID)

	next, err := f.controller.Take(context.Background(), f.sess, identity, superID)
	require.NoError(t, err)
	assert.Equal(t, superID, next.User.ID)
}

func TestIdentity(t *testing.T) {
	ctx := context.Background()

	t.Run("anonymous", func(t *testing.T) {
		f := newFixture(t)
		identity, err := f.controller.Identity(ctx, f.sess)
		require.NoError(t, err)
		assert.Nil(t, identity)
	})

	t.Run("inactive user", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.sess.Set(ctx, session.KeyUserID, session.FormatID(suspendedID)))
		identity, err := f.controller.Identity(ctx, f.sess)
		require.NoError(t, err)
		assert.Nil(t, identity)
	})

	t.Run("original user deleted", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.sess.Update(ctx, map[string]string{
			session.KeyUserID:         session.FormatID(customerID),
			session.KeyOriginalUserID: "999",
		}))
		identity, err := f.controller.Identity(ctx, f.sess)
		require.NoError(t, err)
		assert.Nil(t, identity)
	})

	t.Run("malformed pointer", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.sess.Set(ctx, session.KeyUserID, "abc"))
		identity, err := f.controller.Identity(ctx, f.sess)
		require.NoError(t, err)
		assert.Nil(t, identity)
	})
}

func TestLeave_NilIdentity(t *testing.T) {
	f := newFixture(t)
	_, err := f.controller.Leave(context.Background(), f.sess, nil)
	assert.True(t, auth.IsInvalidStateTransition(err))
}
