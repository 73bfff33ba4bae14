//go:build integration

package integration

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/platinummonkey/tenantadmin/pkg/api"
	"github.com/platinummonkey/tenantadmin/pkg/audit"
	"github.com/platinummonkey/tenantadmin/pkg/auth"
	"github.com/platinummonkey/tenantadmin/pkg/impersonation"
	"github.com/platinummonkey/tenantadmin/pkg/observability"
	"github.com/platinummonkey/tenantadmin/pkg/rbac"
	"github.com/platinummonkey/tenantadmin/pkg/session"
	"github.com/platinummonkey/tenantadmin/pkg/settings"
	"github.com/platinummonkey/tenantadmin/pkg/storage/postgres"
	"github.com/platinummonkey/tenantadmin/pkg/tenants"
)

// setupPostgres starts a migrated PostgreSQL container. The container is
// removed when the test ends.
func setupPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		t.Skip("Docker/Podman not available, skipping integration tests")
	}
	provider.Close()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("tenantadmin_test"),
		tcpostgres.WithUsername("tenantadmin"),
		tcpostgres.WithPassword("tenantadmin_test_password"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Errorf("Failed to terminate container: %v", err)
		}
	})

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := postgres.Open(ctx, postgres.ConnectionConfig{URL: url, MaxConns: 10, MinConns: 1, Timeout: 10 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := observability.NewLogger(observability.ErrorLevel, nil)
	require.NoError(t, postgres.RunMigrations(ctx, db, logger))

	seed, err := rbac.LoadSeedFile("../../config/rbac.yaml")
	require.NoError(t, err)
	_, err = rbac.ApplySeed(ctx, rbac.NewStore(db), seed, logger)
	require.NoError(t, err)

	return db
}

// stack is the API wired the way cmd/tenantadmin wires it, minus Redis and
// Google sign-in
type stack struct {
	db       *sql.DB
	users    *auth.Store
	tenants  *tenants.PostgresStore
	roles    *rbac.Service
	settings *settings.Store
	server   *httptest.Server
}

func newStack(t *testing.T, db *sql.DB) *stack {
	t.Helper()

	logger := observability.NewLogger(observability.ErrorLevel, nil)
	activity, err := audit.NewDBLogger(db)
	require.NoError(t, err)

	users := auth.NewStore(db)
	tenantStore := tenants.NewPostgresStore(db)
	roleStore := rbac.NewStore(db)
	checker := rbac.NewChecker(roleStore, tenantStore, nil, rbac.CheckerConfig{CacheTTL: time.Second})
	roles := rbac.NewService(roleStore, checker, activity)

	cipher, err := settings.NewCipher(settings.DeriveKey("integration-secret"))
	require.NoError(t, err)
	settingsStore := settings.NewStore(db, cipher)

	cookie := session.DefaultCookie()
	cookie.Secure = false

	server := api.NewServer(api.Dependencies{
		Logger:        logger,
		Sessions:      session.NewMemoryStore(time.Hour),
		Cookie:        cookie,
		Users:         users,
		Checker:       checker,
		Roles:         roles,
		Tenants:       tenantStore,
		Switcher:      tenants.NewSwitcher(tenantStore, activity, nil),
		InvitationTTL: 24 * time.Hour,
		Impersonation: impersonation.NewController(users, checker, activity, nil),
		Settings:      settingsStore,
		Activity:      activity,
		ActivityLog:   activity,
	})
	httpServer := httptest.NewServer(server.Handler())
	t.Cleanup(httpServer.Close)

	return &stack{
		db:       db,
		users:    users,
		tenants:  tenantStore,
		roles:    roles,
		settings: settingsStore,
		server:   httpServer,
	}
}

// createUser inserts an active account with password "password123"
func (s *stack) createUser(t *testing.T, name, email string, userType auth.UserType) *auth.User {
	t.Helper()
	hash, err := auth.HashPassword("password123")
	require.NoError(t, err)
	user := &auth.User{Name: name, Email: email, PasswordHash: hash, Type: userType}
	require.NoError(t, s.users.Create(context.Background(), user))
	return user
}

// client returns an HTTP client with its own cookie jar, signed in as email
func (s *stack) client(t *testing.T, email string) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	c := &http.Client{Jar: jar}

	resp := do(t, c, http.MethodPost, s.server.URL+"/auth/login", map[string]string{"email": email, "password": "password123"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return c
}
