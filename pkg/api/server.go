package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/tenantadmin/pkg/audit"
	"github.com/platinummonkey/tenantadmin/pkg/httputil"
	"github.com/platinummonkey/tenantadmin/pkg/impersonation"
	"github.com/platinummonkey/tenantadmin/pkg/middleware"
	"github.com/platinummonkey/tenantadmin/pkg/observability"
	"github.com/platinummonkey/tenantadmin/pkg/rbac"
	"github.com/platinummonkey/tenantadmin/pkg/session"
	"github.com/platinummonkey/tenantadmin/pkg/settings"
	"github.com/platinummonkey/tenantadmin/pkg/sso"
	"github.com/platinummonkey/tenantadmin/pkg/tenants"
)

// Dependencies are the services the API is assembled from. Route groups
// whose service is nil are not registered.
type Dependencies struct {
	Logger  *observability.Logger
	Metrics *observability.Metrics

	Sessions session.Store
	Cookie   session.Cookie
	Users    Authenticator

	Checker       *rbac.Checker
	Roles         *rbac.Service
	Tenants       tenants.Store
	Switcher      *tenants.Switcher
	InvitationTTL time.Duration
	Impersonation *impersonation.Controller
	Settings      *settings.Store

	// Activity serves the activity log; ActivityLog receives new events
	Activity    audit.Store
	ActivityLog audit.Logger

	Google       *sso.Handlers
	LoginLimiter middleware.Limiter
	MaxBodyBytes int64
}

// Server is the tenant administration HTTP API
type Server struct {
	router *mux.Router
	deps   Dependencies
}

// NewServer creates a new API server
func NewServer(deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if deps.Sessions == nil {
		deps.Sessions = session.NewMemoryStore(24 * time.Hour)
	}
	if deps.Cookie.Name == "" {
		deps.Cookie = session.DefaultCookie()
	}
	if deps.LoginLimiter == nil {
		deps.LoginLimiter = middleware.NewMemoryLimiter(middleware.DefaultLoginRateLimit())
	}
	if deps.MaxBodyBytes == 0 {
		deps.MaxBodyBytes = 1 << 20
	}

	s := &Server{router: mux.NewRouter(), deps: deps}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware builds the request context: request ID, logger, activity
// logger, session, identity, then tenant
func (s *Server) setupMiddleware() {
	d := s.deps

	s.router.Use(httputil.RecoveryMiddleware)
	s.router.Use(middleware.RequestID)
	s.router.Use(httputil.LoggingMiddleware(d.Logger))
	if d.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(d.Metrics))
	}
	s.router.Use(httputil.MaxBytesMiddleware(d.MaxBodyBytes))
	s.router.Use(httputil.ContentTypeMiddleware)
	s.router.Use(audit.Middleware(d.ActivityLog))
	s.router.Use(middleware.Session(d.Sessions, d.Cookie))
	if d.Impersonation != nil {
		s.router.Use(middleware.Identity(d.Impersonation))
	}
	if d.Switcher != nil {
		s.router.Use(middleware.TenantContext(d.Switcher))
	}
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	d := s.deps

	// Session sign-in
	if d.Users != nil {
		NewAuthHandlers(d.Users, d.Sessions, d.Cookie, d.Checker, d.LoginLimiter).RegisterRoutes(s.router)
	}
	if d.Google != nil {
		google := s.prefixed("/auth/google")
		google.Use(mux.MiddlewareFunc(middleware.RateLimit(d.LoginLimiter, "google")))
		d.Google.RegisterRoutes(google)
	}

	if d.Checker == nil {
		return
	}

	if d.Roles != nil {
		rbac.NewHandlers(d.Roles, d.Checker).RegisterRoutes(s.router)
	}
	if d.Tenants != nil && d.Switcher != nil {
		tenants.NewHandlers(d.Tenants, d.Switcher, d.Checker, d.InvitationTTL).RegisterRoutes(s.router)
	}
	if d.Impersonation != nil {
		impersonation.NewHandlers(d.Impersonation).RegisterRoutes(s.router)
	}
	if d.Settings != nil {
		settings.NewHandlers(d.Settings, d.Checker).RegisterRoutes(s.router)
	}
	if d.Activity != nil {
		activity := s.prefixed("/activity")
		activity.Use(rbac.RequirePermission(d.Checker, rbac.PermissionActivityView))
		audit.NewHandlers(d.Activity).RegisterRoutes(activity)
	}
}

// prefixed returns a subrouter for paths under prefix. Routes registered on
// it keep their full paths.
func (s *Server) prefixed(prefix string) *mux.Router {
	return s.router.MatcherFunc(func(r *http.Request, _ *mux.RouteMatch) bool {
		return r.URL.Path == prefix || strings.HasPrefix(r.URL.Path, prefix+"/")
	}).Subrouter()
}

// Router exposes the underlying router
func (s *Server) Router() *mux.Router {
	return s.router
}

// Handler returns the server wrapped with OpenTelemetry instrumentation
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "tenantadmin",
		otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}))
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
