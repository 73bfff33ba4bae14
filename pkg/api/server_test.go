package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantadmin/pkg/audit"
	"github.com/platinummonkey/tenantadmin/pkg/auth"
	"github.com/platinummonkey/tenantadmin/pkg/impersonation"
	"github.com/platinummonkey/tenantadmin/pkg/middleware"
	"github.com/platinummonkey/tenantadmin/pkg/rbac"
	"github.com/platinummonkey/tenantadmin/pkg/session"
	"github.com/platinummonkey/tenantadmin/pkg/tenants"
)

const (
	auditorID  int64 = 1
	customerID int64 = 2
)

type account struct {
	password string
	user     *auth.User
}

// accounts implements both Authenticator and impersonation.UserLoader
type accounts map[string]account

func (a accounts) Authenticate(ctx context.Context, email, password string) (*auth.User, error) {
	acct, ok := a[email]
	if !ok || acct.password != password {
		return nil, auth.ErrInvalidCredentials
	}
	if !acct.user.IsActive() {
		return nil, auth.ErrAccountInactive
	}
	return acct.user, nil
}

func (a accounts) Get(ctx context.Context, id int64) (*auth.User, error) {
	for _, acct := range a {
		if acct.user.ID == id {
			return acct.user, nil
		}
	}
	return nil, auth.ErrUserNotFound
}

type grantSource struct{}

func (grantSource) LoadGrants(ctx context.Context, guard string) (*rbac.Grants, error) {
	return rbac.NewGrants(map[string][]string{"auditor": {rbac.PermissionActivityView}}), nil
}

func (grantSource) LoadSubject(ctx context.Context, userID int64, guard string) ([]string, []string, error) {
	if userID == auditorID {
		return []string{"auditor"}, nil, nil
	}
	return nil, nil, nil
}

type noTenants struct{}

func (noTenants) Get(ctx context.Context, id int64) (*tenants.Tenant, error) {
	return nil, tenants.ErrTenantNotFound
}

func (noTenants) FindMembership(ctx context.Context, tenantID, userID int64) (*tenants.Membership, error) {
	return nil, nil
}

func (noTenants) FirstAccessibleTenant(ctx context.Context, userID int64) (*tenants.Tenant, error) {
	return nil, nil
}

type activityStore struct {
	events []*audit.Event
}

func (s *activityStore) Search(ctx context.Context, filter audit.SearchFilter) ([]*audit.Event, error) {
	return s.events, nil
}

func (s *activityStore) Get(ctx context.Context, id int64) (*audit.Event, error) {
	for _, e := range s.events {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, nil
}

func (s *activityStore) Log(ctx context.Context, event *audit.Event) error {
	s.events = append(s.events, event)
	return nil
}

func (s *activityStore) Close() error { return nil }

type apiFixture struct {
	server   *Server
	activity *activityStore
}

func newAPIFixture(t *testing.T, limiter middleware.Limiter) *apiFixture {
	users := accounts{
		"auditor@example.com":  {"correct horse", &auth.User{ID: auditorID, Email: "auditor@example.com", Type: auth.UserTypeAdmin, Status: auth.UserStatusActive}},
		"customer@example.com": {"battery staple", &auth.User{ID: customerID, Email: "customer@example.com", Type: auth.UserTypeUser, Status: auth.UserStatusActive}},
		"gone@example.com":     {"whatever", &auth.User{ID: 3, Email: "gone@example.com", Type: auth.UserTypeUser, Status: auth.UserStatusBanned}},
	}
	activity := &activityStore{}
	checker := rbac.NewChecker(grantSource{}, noTenants{}, nil, rbac.CheckerConfig{})
	cookie := session.DefaultCookie()
	cookie.Secure = false

	server := NewServer(Dependencies{
		Sessions:      session.NewMemoryStore(time.Hour),
		Cookie:        cookie,
		Users:         users,
		Checker:       checker,
		Impersonation: impersonation.NewController(users, checker, activity, nil),
		Activity:      activity,
		ActivityLog:   activity,
		LoginLimiter:  limiter,
	})
	return &apiFixture{server: server, activity: activity}
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) login(t *testing.T, email, password string) *http.Cookie {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/auth/login", loginRequest{Email: email, Password: password}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	// The last cookie written is the signed-in session
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	return cookies[len(cookies)-1]
}

func TestServer_LoginAndMe(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/me", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	cookie := f.login(t, "auditor@example.com", "correct horse")

	rec = f.do(t, http.MethodGet, "/me", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var me meResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, auditorID, me.User.ID)
	assert.False(t, me.Impersonating)
	assert.Nil(t, me.Tenant)
	assert.Equal(t, []string{rbac.PermissionActivityView}, me.Permissions)

	var login *audit.Event
	for _, e := range f.activity.events {
		if e.EventType == audit.EventTypeAuthLogin {
			login = e
		}
	}
	require.NotNil(t, login)
	assert.Equal(t, "1", login.TargetID)
}

func TestServer_LoginFailures(t *testing.T) {
	f := newAPIFixture(t, nil)

	tests := []struct {
		name   string
		body   loginRequest
		status int
	}{
		{"wrong password", loginRequest{Email: "customer@example.com", Password: "nope"}, http.StatusUnauthorized},
		{"unknown email", loginRequest{Email: "nobody@example.com", Password: "nope"}, http.StatusUnauthorized},
		{"inactive account", loginRequest{Email: "gone@example.com", Password: "whatever"}, http.StatusUnauthorized},
		{"missing fields", loginRequest{}, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/auth/login", tt.body, nil)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	failed := 0
	for _, e := range f.activity.events {
		if e.EventType == audit.EventTypeAuthLoginFailed {
			failed++
		}
	}
	assert.Equal(t, 3, failed)
}

func TestServer_Logout(t *testing.T) {
	f := newAPIFixture(t, nil)
	cookie := f.login(t, "customer@example.com", "battery staple")

	rec := f.do(t, http.MethodPost, "/auth/logout", nil, cookie)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/me", nil, cookie)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "the old session is gone")
}

func TestServer_ActivityRequiresPermission(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/activity", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	customer := f.login(t, "customer@example.com", "battery staple")
	rec = f.do(t, http.MethodGet, "/activity", nil, customer)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	auditor := f.login(t, "auditor@example.com", "correct horse")
	rec = f.do(t, http.MethodGet, "/activity", nil, auditor)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestServer_LoginRateLimit(t *testing.T) {
	f := newAPIFixture(t, middleware.NewMemoryLimiter(middleware.RateLimitConfig{Requests: 2, Window: time.Minute}))

	for i := 0; i < 2; i++ {
		rec := f.do(t, http.MethodPost, "/auth/login", loginRequest{Email: "customer@example.com", Password: "nope"}, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec := f.do(t, http.MethodPost, "/auth/login", loginRequest{Email: "customer@example.com", Password: "battery staple"}, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestServer_RequestID(t *testing.T) {
	f := newAPIFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/me", nil, nil)
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))
}

func TestServer_RejectsNonJSONBodies(t *testing.T) {
	f := newAPIFixture(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader("email=a@b.c"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"unsupported_media_type"`)
}
