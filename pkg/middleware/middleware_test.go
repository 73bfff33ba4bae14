package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantadmin/pkg/auth"
	"github.com/platinummonkey/tenantadmin/pkg/contextkeys"
	"github.com/platinummonkey/tenantadmin/pkg/session"
	"github.com/platinummonkey/tenantadmin/pkg/tenants"
)

func TestRequestID(t *testing.T) {
	var seen, ip string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = contextkeys.GetRequestID(r.Context())
		ip = contextkeys.GetClientIP(r.Context())
	}))

	t.Run("generated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "not-a-uuid")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		_, err := uuid.Parse(seen)
		require.NoError(t, err)
		assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
		assert.Equal(t, "192.0.2.1", ip)
	})

	t.Run("propagated", func(t *testing.T) {
		id := uuid.New().String()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, id)
		req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
		handler.ServeHTTP(httptest.NewRecorder(), req)

		assert.Equal(t, id, seen)
		assert.Equal(t, "203.0.113.9", ip)
	})
}

func TestSession(t *testing.T) {
	store := session.NewMemoryStore(time.Hour)
	cookie := session.DefaultCookie()

	var current session.Session
	handler := Session(store, cookie)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		current = session.FromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotNil(t, current)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, current.ID(), cookies[0].Value)
	first := current.ID()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, first, current.ID())
	assert.Empty(t, rec.Result().Cookies(), "an existing session is not re-issued")

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: cookie.Name, Value: "expired"})
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.NotEqual(t, "expired", current.ID())
	assert.Len(t, rec.Result().Cookies(), 1)
}

type brokenStore struct{}

func (brokenStore) New(ctx context.Context) (session.Session, error) {
	return nil, errors.New("connection refused")
}

func (brokenStore) Load(ctx context.Context, id string) (session.Session, error) {
	return nil, errors.New("connection refused")
}

func TestSession_StoreDown(t *testing.T) {
	handler := Session(brokenStore{}, session.DefaultCookie())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type stubIdentities struct {
	identity *auth.Identity
	err      error
}

func (s stubIdentities) Identity(ctx context.Context, sess session.Session) (*auth.Identity, error) {
	return s.identity, s.err
}

type stubTenants struct {
	tenant *tenants.Tenant
	err    error
}

func (s stubTenants) CurrentTenant(ctx context.Context, sess session.Session, identity *auth.Identity) (*tenants.Tenant, error) {
	return s.tenant, s.err
}

func withSession(t *testing.T) *http.Request {
	sess, err := session.NewMemoryStore(time.Hour).New(context.Background())
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	return req.WithContext(contextkeys.WithSession(req.Context(), sess))
}

func TestIdentity(t *testing.T) {
	admin := &auth.User{ID: 1, Type: auth.UserTypeSuperAdmin, Status: auth.UserStatusActive}
	customer := &auth.User{ID: 9, Type: auth.UserTypeUser, Status: auth.UserStatusActive}

	var got *auth.Identity
	capture := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = auth.IdentityFromContext(r.Context())
	})

	t.Run("anonymous", func(t *testing.T) {
		got = &auth.Identity{}
		Identity(stubIdentities{})(capture).ServeHTTP(httptest.NewRecorder(), withSession(t))
		assert.Nil(t, got)
	})

	t.Run("impersonating", func(t *testing.T) {
		identity := &auth.Identity{User: customer, OriginalUser: admin}
		Identity(stubIdentities{identity: identity})(capture).ServeHTTP(httptest.NewRecorder(), withSession(t))
		require.NotNil(t, got)
		assert.Equal(t, customer.ID, got.User.ID)
		assert.Equal(t, admin.ID, got.Actor().ID)
	})

	t.Run("no session", func(t *testing.T) {
		got = nil
		Identity(stubIdentities{identity: &auth.Identity{User: customer}})(capture).
			ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Nil(t, got)
	})

	t.Run("lookup failure", func(t *testing.T) {
		rec := httptest.NewRecorder()
		Identity(stubIdentities{err: errors.New("db down")})(capture).ServeHTTP(rec, withSession(t))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestTenantContext(t *testing.T) {
	user := &auth.User{ID: 4, Type: auth.UserTypeUser, Status: auth.UserStatusActive}
	tenant := &tenants.Tenant{ID: 12, UserID: 4, IsActive: true}

	var got *tenants.Tenant
	capture := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = tenants.FromContext(r.Context())
	})

	signedIn := func(t *testing.T) *http.Request {
		req := withSession(t)
		return req.WithContext(contextkeys.WithIdentity(req.Context(), &auth.Identity{User: user}))
	}

	TenantContext(stubTenants{tenant: tenant})(capture).ServeHTTP(httptest.NewRecorder(), signedIn(t))
	require.NotNil(t, got)
	assert.Equal(t, tenant.ID, got.ID)

	got = nil
	TenantContext(stubTenants{tenant: tenant})(capture).ServeHTTP(httptest.NewRecorder(), withSession(t))
	assert.Nil(t, got, "anonymous requests have no tenant")

	TenantContext(stubTenants{})(capture).ServeHTTP(httptest.NewRecorder(), signedIn(t))
	assert.Nil(t, got)

	rec := httptest.NewRecorder()
	TenantContext(stubTenants{err: errors.New("db down")})(capture).ServeHTTP(rec, signedIn(t))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
