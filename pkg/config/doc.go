// Package config loads tenantadmin configuration from environment variables.
//
// Every variable has a default except TENANTADMIN_DATABASE_URL.
//
// Server:
//
//	TENANTADMIN_HOST="0.0.0.0"
//	TENANTADMIN_PORT="8080"
//	TENANTADMIN_HEALTH_PORT="9090"
//
// Storage:
//
//	TENANTADMIN_DATABASE_URL="postgres://localhost/tenantadmin"
//	TENANTADMIN_DATABASE_MAX_CONNS="20"
//	TENANTADMIN_REDIS_URL="redis://localhost:6379/0"  # empty keeps sessions in memory
//
// Sessions and access:
//
//	TENANTADMIN_SESSION_TTL="24h"
//	TENANTADMIN_SESSION_SECURE="true"
//	TENANTADMIN_ACCESS_CACHE_TTL="1m"
//	TENANTADMIN_SETTINGS_KEY="..."  # seals encrypted settings
//	TENANTADMIN_LOGIN_RATE_LIMIT="10"
//
// Google sign-in is enabled by TENANTADMIN_GOOGLE_CLIENT_ID together with
// TENANTADMIN_GOOGLE_CLIENT_SECRET and TENANTADMIN_GOOGLE_REDIRECT_URL.
//
// Maintenance:
//
//	TENANTADMIN_INVITATION_CLEANUP_SCHEDULE="@hourly"
//	TENANTADMIN_ACTIVITY_PRUNE_SCHEDULE="30 3 * * *"
//	TENANTADMIN_ACTIVITY_RETENTION="2160h"
//
// Observability:
//
//	TENANTADMIN_LOG_LEVEL="info"  # debug, info, warn, error
//	TENANTADMIN_OTEL_ENABLED="true"
//	TENANTADMIN_OTEL_ENDPOINT="otel-collector:4317"
//
// Usage:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
package config
