package tenants

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantadmin/pkg/auth"
	"github.com/platinummonkey/tenantadmin/pkg/contextkeys"
	"github.com/platinummonkey/tenantadmin/pkg/session"
	"github.com/platinummonkey/tenantadmin/pkg/validation"
)

// handlerStore serves reads from a fakeDirectory and records writes. Methods
// a test does not use fall through to the nil embedded Store.
type handlerStore struct {
	Store
	*fakeDirectory
	created *Tenant
	updated *UpdateMemberRequest
	removed [2]int64
}

func (s *handlerStore) Get(ctx context.Context, id int64) (*Tenant, error) {
	return s.fakeDirectory.Get(ctx, id)
}

func (s *handlerStore) FindMembership(ctx context.Context, tenantID, userID int64) (*Membership, error) {
	return s.fakeDirectory.FindMembership(ctx, tenantID, userID)
}

func (s *handlerStore) FirstAccessibleTenant(ctx context.Context, userID int64) (*Tenant, error) {
	return s.fakeDirectory.FirstAccessibleTenant(ctx, userID)
}

func (s *handlerStore) Create(ctx context.Context, t *Tenant) error {
	t.ID = 100
	t.Slug = generateSlug(t.Name)
	t.IsActive = true
	s.created = t
	return nil
}

func (s *handlerStore) ListForUser(ctx context.Context, userID int64) ([]*Tenant, error) {
	return nil, nil
}

func (s *handlerStore) UpdateMember(ctx context.Context, tenantID, userID int64, req UpdateMemberRequest) (*Membership, error) {
	s.updated = &req
	return &Membership{TenantID: tenantID, UserID: userID, Permissions: req.Permissions, Status: MembershipStatusActive}, nil
}

func (s *handlerStore) RemoveMember(ctx context.Context, tenantID, userID int64) error {
	s.removed = [2]int64{tenantID, userID}
	return nil
}

// allowList grants the listed permissions everywhere. Only tenants.*
// permissions are accepted in overrides.
type allowList map[string]bool

func (a allowList) Authorize(ctx context.Context, user *auth.User, tenant *Tenant, permission string) error {
	if a[permission] {
		return nil
	}
	return &auth.AccessDeniedError{UserID: user.ID, Permission: permission}
}

func (a allowList) ValidateOverride(ctx context.Context, permissions []string) error {
	v := validation.New()
	for _, p := range permissions {
		if !strings.HasPrefix(p, "tenants.") || p == PermissionCreate {
			v.Add("permissions", validation.RuleReserved, p+" cannot be granted within a tenant")
		}
	}
	return v.Err()
}

type handlerFixture struct {
	store  *handlerStore
	router *mux.Router
	sess   session.Session
}

func newHandlerFixture(t *testing.T, perms allowList) *handlerFixture {
	dir := newFakeDirectory()
	store := &handlerStore{fakeDirectory: dir}
	sess, err := session.NewMemoryStore(time.Hour).New(context.Background())
	require.NoError(t, err)

	router := mux.NewRouter()
	NewHandlers(store, NewSwitcher(dir, nil, nil), perms, time.Hour).RegisterRoutes(router)
	return &handlerFixture{store: store, router: router, sess: sess}
}

func (f *handlerFixture) do(t *testing.T, userID int64, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	ctx := req.Context()
	if userID > 0 {
		ctx = contextkeys.WithIdentity(ctx, identityFor(userID))
	}
	ctx = contextkeys.WithSession(ctx, f.sess)

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req.WithContext(ctx))
	return w
}

func TestHandlers_RequiresIdentity(t *testing.T) {
	f := newHandlerFixture(t, allowList{})
	w := f.do(t, 0, http.MethodGet, "/tenants/current", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandlers_SwitchTenant(t *testing.T) {
	f := newHandlerFixture(t, allowList{})
	f.store.addTenant(1, 10, true)
	f.store.addTenant(2, 99, true)
	f.store.addMember(2, 10, "editor", MembershipStatusActive)
	f.store.addTenant(3, 99, true)

	w := f.do(t, 10, http.MethodPost, "/tenants/switch", map[string]int64{"tenant_id": 2})
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Tenant *Tenant `json:"tenant"`
		Role   string  `json:"role"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, int64(2), body.Tenant.ID)
	assert.Equal(t, "editor", body.Role)

	w = f.do(t, 10, http.MethodPost, "/tenants/switch", map[string]int64{"tenant_id": 3})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, 10, http.MethodGet, "/tenants/current", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, int64(2), body.Tenant.ID)
}

func TestHandlers_CreateTenant(t *testing.T) {
	t.Run("requires permission", func(t *testing.T) {
		f := newHandlerFixture(t, allowList{})
		w := f.do(t, 10, http.MethodPost, "/tenants", map[string]string{"name": "Acme"})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("caller becomes owner", func(t *testing.T) {
		f := newHandlerFixture(t, allowList{PermissionCreate: true})
		w := f.do(t, 10, http.MethodPost, "/tenants", map[string]string{"name": "Acme Corp"})
		require.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, int64(10), f.store.created.UserID)
		assert.Equal(t, "acme-corp", f.store.created.Slug)
	})
}

func TestHandlers_GetTenant(t *testing.T) {
	f := newHandlerFixture(t, allowList{})
	f.store.addTenant(1, 10, true)

	assert.Equal(t, http.StatusOK, f.do(t, 10, http.MethodGet, "/tenants/1", nil).Code)
	assert.Equal(t, http.StatusForbidden, f.do(t, 20, http.MethodGet, "/tenants/1", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, 10, http.MethodGet, "/tenants/2", nil).Code)
}

func TestHandlers_ListTenants(t *testing.T) {
	f := newHandlerFixture(t, allowList{})

	w := f.do(t, 10, http.MethodGet, "/tenants", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = f.do(t, 10, http.MethodGet, "/tenants?all=true", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandlers_RemoveMember(t *testing.T) {
	f := newHandlerFixture(t, allowList{PermissionManageMembers: true})
	f.store.addTenant(1, 10, true)

	w := f.do(t, 10, http.MethodDelete, "/tenants/1/members/20", nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, [2]int64{1, 20}, f.store.removed)
}

func TestHandlers_UpdateMember(t *testing.T) {
	f := newHandlerFixture(t, allowList{PermissionManageMembers: true})
	f.store.addTenant(1, 10, true)
	f.store.addMember(1, 20, "manager", MembershipStatusActive)
	f.store.addMember(1, 30, "member", MembershipStatusActive)

	t.Run("own membership", func(t *testing.T) {
		w := f.do(t, 20, http.MethodPut, "/tenants/1/members/20", map[string][]string{"permissions": {PermissionDelete}})
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Nil(t, f.store.updated)
	})

	t.Run("global permission in override", func(t *testing.T) {
		w := f.do(t, 20, http.MethodPut, "/tenants/1/members/30", map[string][]string{"permissions": {"users.assign_roles"}})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Contains(t, w.Body.String(), "reserved")
		assert.Nil(t, f.store.updated)
	})

	t.Run("tenant permission in override", func(t *testing.T) {
		w := f.do(t, 20, http.MethodPut, "/tenants/1/members/30", map[string][]string{"permissions": {PermissionView}})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		require.NotNil(t, f.store.updated)
		assert.Equal(t, []string{PermissionView}, f.store.updated.Permissions)
	})

	t.Run("add with global override", func(t *testing.T) {
		w := f.do(t, 10, http.MethodPost, "/tenants/1/members", map[string]interface{}{
			"user_id": 40, "role": "member", "permissions": []string{PermissionCreate},
		})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})
}
