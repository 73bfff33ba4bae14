// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/tenantadmin/pkg/contextkeys"
//	ctx = contextkeys.WithIdentity(ctx, identity)
//	identity, ok := ctx.Value(contextkeys.IdentityKey).(*auth.Identity)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// SessionKey contains session.Session
	// Set by: middleware.Session (pkg/middleware/session.go)
	// Required by: Identity middleware, tenant switch, impersonation handlers
	// Type: session.Session
	SessionKey Key = "session"

	// IdentityKey contains *auth.Identity
	// Set by: middleware.Identity (pkg/middleware/identity.go)
	// Required by: All protected API endpoints, RBAC middleware, audit events
	// Type: *auth.Identity
	IdentityKey Key = "identity"

	// TenantKey contains *tenants.Tenant (may be absent)
	// Set by: middleware.TenantContext (pkg/middleware/tenant.go)
	// Required by: Tenant-scoped permission checks and tenant settings
	// Type: *tenants.Tenant
	TenantKey Key = "tenant"

	// RequestIDKey contains request ID string (UUID)
	// Set by: middleware.RequestID
	// Used by: Logger, activity log, distributed tracing
	// Type: string
	RequestIDKey Key = "request_id"

	// ClientIPKey contains the caller address
	// Set by: middleware.RequestID
	// Used by: Activity log
	// Type: string
	ClientIPKey Key = "client_ip"

	// UserAgentKey contains the caller user agent
	// Set by: middleware.RequestID
	// Used by: Activity log
	// Type: string
	UserAgentKey Key = "user_agent"

	// UserIDKey contains the acting user ID as a string
	// Set by: middleware.Identity
	// Used by: Logger
	// Type: string
	UserIDKey Key = "user_id"

	// OriginalUserIDKey contains the impersonating user ID as a string
	// Set by: middleware.Identity, only while impersonating
	// Used by: Logger
	// Type: string
	OriginalUserIDKey Key = "original_user_id"

	// TenantIDKey contains the current tenant ID as a string
	// Set by: middleware.TenantContext
	// Used by: Logger
	// Type: string
	TenantIDKey Key = "tenant_id"

	// LoggerKey contains *observability.Logger
	// Set by: Observability middleware
	// Used by: Handlers that need structured logging with request context
	// Type: *observability.Logger
	LoggerKey Key = "logger"

	// AuditLoggerKey contains audit.Logger interface
	// Set by: Audit middleware (pkg/audit/middleware.go)
	// Used by: Handlers that record activity events
	// Type: audit.Logger
	AuditLoggerKey Key = "audit_logger"
)

// Helper functions for type-safe context operations

// WithSession adds the session to the context
func WithSession(ctx context.Context, sess interface{}) context.Context {
	return context.WithValue(ctx, SessionKey, sess)
}

// WithIdentity adds the resolved identity to the context
func WithIdentity(ctx context.Context, identity interface{}) context.Context {
	return context.WithValue(ctx, IdentityKey, identity)
}

// WithTenant adds the current tenant to the context
func WithTenant(ctx context.Context, tenant interface{}) context.Context {
	return context.WithValue(ctx, TenantKey, tenant)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithClient adds the caller address and user agent to the context
func WithClient(ctx context.Context, ip, userAgent string) context.Context {
	ctx = context.WithValue(ctx, ClientIPKey, ip)
	return context.WithValue(ctx, UserAgentKey, userAgent)
}

// WithUserID adds the acting user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserID retrieves the acting user ID from context
func GetUserID(ctx context.Context) string {
	return getString(ctx, UserIDKey)
}

// WithOriginalUserID adds the impersonating user ID to the context
func WithOriginalUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, OriginalUserIDKey, userID)
}

// GetOriginalUserID retrieves the impersonating user ID from context
func GetOriginalUserID(ctx context.Context) string {
	return getString(ctx, OriginalUserIDKey)
}

// WithTenantID adds the current tenant ID to the context
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, TenantIDKey, tenantID)
}

// GetTenantID retrieves the current tenant ID from context
func GetTenantID(ctx context.Context) string {
	return getString(ctx, TenantIDKey)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// WithAuditLogger adds audit logger to the context
func WithAuditLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, AuditLoggerKey, logger)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	return getString(ctx, RequestIDKey)
}

// GetClientIP retrieves the caller address from context
func GetClientIP(ctx context.Context) string {
	return getString(ctx, ClientIPKey)
}

// GetUserAgent retrieves the caller user agent from context
func GetUserAgent(ctx context.Context) string {
	return getString(ctx, UserAgentKey)
}

func getString(ctx context.Context, key Key) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
