// Package middleware builds the request context shared by every handler.
//
// The chain runs in this order:
//
//	router.Use(middleware.RequestID)
//	router.Use(middleware.Session(sessions, cookie))
//	router.Use(middleware.Identity(impersonator))
//	router.Use(middleware.TenantContext(switcher))
//
// Session loads or starts the cookie session. Identity resolves the signed
// in user and, while impersonating, the original user. TenantContext picks
// the tenant the session is working in.
//
// Sign-in endpoints are additionally wrapped with RateLimit, backed by a
// MemoryLimiter for single instances or a RedisLimiter when several
// instances share the load.
package middleware
