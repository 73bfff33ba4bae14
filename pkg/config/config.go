package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/tenantadmin/pkg/observability"
	"github.com/platinummonkey/tenantadmin/pkg/rbac"
	"github.com/platinummonkey/tenantadmin/pkg/storage/postgres"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      postgres.ConnectionConfig
	Redis         postgres.RedisConfig
	Session       SessionConfig
	Access        rbac.CheckerConfig
	Settings      SettingsConfig
	Google        GoogleConfig
	RateLimit     RateLimitConfig
	Maintenance   MaintenanceConfig
	Observability ObservabilityConfig

	// SeedFile is the RBAC seed applied by tenantadmin-seed
	SeedFile string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// SessionConfig controls the session cookie and its lifetime
type SessionConfig struct {
	TTL          time.Duration
	CookieName   string
	CookieDomain string
	CookieSecure bool
	RedisPrefix  string
}

// SettingsConfig holds the secret used to seal encrypted settings
type SettingsConfig struct {
	EncryptionKey string
}

// GoogleConfig enables Google sign-in when ClientID is set
type GoogleConfig struct {
	ClientID      string
	ClientSecret  string
	RedirectURL   string
	HostedDomain  string
	AutoProvision bool
	SuccessURL    string
}

// Enabled reports whether Google sign-in is configured
func (g GoogleConfig) Enabled() bool {
	return g.ClientID != ""
}

// RateLimitConfig bounds sign-in attempts per client address
type RateLimitConfig struct {
	LoginRequests int
	LoginWindow   time.Duration
}

// MaintenanceConfig schedules the background jobs
type MaintenanceConfig struct {
	InvitationCleanupSchedule string
	ActivityPruneSchedule     string
	ActivityRetention         time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Session:       loadSessionConfig(),
		Access:        loadAccessConfig(),
		Settings:      SettingsConfig{EncryptionKey: getEnv("TENANTADMIN_SETTINGS_KEY", "")},
		Google:        loadGoogleConfig(),
		RateLimit:     loadRateLimitConfig(),
		Maintenance:   loadMaintenanceConfig(),
		Observability: loadObservabilityConfig(),
		SeedFile:      getEnv("TENANTADMIN_SEED_FILE", "config/rbac.yaml"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("TENANTADMIN_HOST", "0.0.0.0"),
		Port:            getEnv("TENANTADMIN_PORT", "8080"),
		ReadTimeout:     getEnvDuration("TENANTADMIN_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("TENANTADMIN_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("TENANTADMIN_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("TENANTADMIN_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    getEnvInt64("TENANTADMIN_MAX_BODY_BYTES", 1<<20),
		HealthPort:      getEnv("TENANTADMIN_HEALTH_PORT", "9090"),
	}
}

func loadDatabaseConfig() postgres.ConnectionConfig {
	return postgres.ConnectionConfig{
		URL:         getEnv("TENANTADMIN_DATABASE_URL", ""),
		MaxConns:    getEnvInt("TENANTADMIN_DATABASE_MAX_CONNS", 20),
		MinConns:    getEnvInt("TENANTADMIN_DATABASE_MIN_CONNS", 2),
		Timeout:     getEnvDuration("TENANTADMIN_DATABASE_TIMEOUT", 10*time.Second),
		MaxLifetime: getEnvDuration("TENANTADMIN_DATABASE_MAX_LIFETIME", 30*time.Minute),
		MaxIdleTime: getEnvDuration("TENANTADMIN_DATABASE_MAX_IDLE_TIME", 5*time.Minute),
	}
}

// loadRedisConfig leaves URL empty when Redis is not configured; sessions
// and rate limits then stay in process
func loadRedisConfig() postgres.RedisConfig {
	return postgres.RedisConfig{
		URL:        getEnv("TENANTADMIN_REDIS_URL", ""),
		Password:   getEnv("TENANTADMIN_REDIS_PASSWORD", ""),
		DB:         getEnvInt("TENANTADMIN_REDIS_DB", 0),
		MaxRetries: getEnvInt("TENANTADMIN_REDIS_MAX_RETRIES", 3),
		PoolSize:   getEnvInt("TENANTADMIN_REDIS_POOL_SIZE", 10),
	}
}

func loadSessionConfig() SessionConfig {
	return SessionConfig{
		TTL:          getEnvDuration("TENANTADMIN_SESSION_TTL", 24*time.Hour),
		CookieName:   getEnv("TENANTADMIN_SESSION_COOKIE", "tenantadmin_session"),
		CookieDomain: getEnv("TENANTADMIN_SESSION_DOMAIN", ""),
		CookieSecure: getEnvBool("TENANTADMIN_SESSION_SECURE", true),
		RedisPrefix:  getEnv("TENANTADMIN_SESSION_PREFIX", "session"),
	}
}

func loadAccessConfig() rbac.CheckerConfig {
	def := rbac.DefaultCheckerConfig()
	return rbac.CheckerConfig{
		Guard:     getEnv("TENANTADMIN_GUARD", def.Guard),
		CacheSize: getEnvInt("TENANTADMIN_ACCESS_CACHE_SIZE", def.CacheSize),
		CacheTTL:  getEnvDuration("TENANTADMIN_ACCESS_CACHE_TTL", def.CacheTTL),
	}
}

func loadGoogleConfig() GoogleConfig {
	return GoogleConfig{
		ClientID:      getEnv("TENANTADMIN_GOOGLE_CLIENT_ID", ""),
		ClientSecret:  getEnv("TENANTADMIN_GOOGLE_CLIENT_SECRET", ""),
		RedirectURL:   getEnv("TENANTADMIN_GOOGLE_REDIRECT_URL", ""),
		HostedDomain:  getEnv("TENANTADMIN_GOOGLE_HOSTED_DOMAIN", ""),
		AutoProvision: getEnvBool("TENANTADMIN_GOOGLE_AUTO_PROVISION", false),
		SuccessURL:    getEnv("TENANTADMIN_LOGIN_SUCCESS_URL", "/"),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		LoginRequests: getEnvInt("TENANTADMIN_LOGIN_RATE_LIMIT", 10),
		LoginWindow:   getEnvDuration("TENANTADMIN_LOGIN_RATE_WINDOW", time.Minute),
	}
}

func loadMaintenanceConfig() MaintenanceConfig {
	return MaintenanceConfig{
		InvitationCleanupSchedule: getEnv("TENANTADMIN_INVITATION_CLEANUP_SCHEDULE", "@hourly"),
		ActivityPruneSchedule:     getEnv("TENANTADMIN_ACTIVITY_PRUNE_SCHEDULE", "30 3 * * *"),
		ActivityRetention:         getEnvDuration("TENANTADMIN_ACTIVITY_RETENTION", 90*24*time.Hour),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLevel(getEnv("TENANTADMIN_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("TENANTADMIN_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("TENANTADMIN_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("TENANTADMIN_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("TENANTADMIN_OTEL_SERVICE_NAME", "tenantadmin"),
		OTelServiceVersion: getEnv("TENANTADMIN_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("TENANTADMIN_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("TENANTADMIN_OTEL_SAMPLE_RATIO", 1.0),
	}
}

// OTel returns the tracing settings in the form observability.InitOTel takes
func (c ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        c.OTelEnabled,
		Endpoint:       c.OTelEndpoint,
		ServiceName:    c.OTelServiceName,
		ServiceVersion: c.OTelServiceVersion,
		Insecure:       c.OTelInsecure,
		SampleRatio:    c.OTelSampleRatio,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}
	if c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("database min conns (%d) exceeds max conns (%d)", c.Database.MinConns, c.Database.MaxConns)
	}

	if c.Session.TTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}
	if c.Session.CookieName == "" {
		return fmt.Errorf("session cookie name is required")
	}

	if c.Google.Enabled() {
		if c.Google.ClientSecret == "" || c.Google.RedirectURL == "" {
			return fmt.Errorf("google client secret and redirect URL are required when google sign-in is enabled")
		}
	}

	if c.RateLimit.LoginRequests <= 0 || c.RateLimit.LoginWindow <= 0 {
		return fmt.Errorf("login rate limit must be positive")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for name, spec := range map[string]string{
		"invitation cleanup": c.Maintenance.InvitationCleanupSchedule,
		"activity prune":     c.Maintenance.ActivityPruneSchedule,
	} {
		if _, err := parser.Parse(spec); err != nil {
			return fmt.Errorf("invalid %s schedule %q: %w", name, spec, err)
		}
	}
	if c.Maintenance.ActivityRetention < 24*time.Hour {
		return fmt.Errorf("activity retention must be at least 24h")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if c.Observability.OTelSampleRatio < 0 || c.Observability.OTelSampleRatio > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
