package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/tenantadmin/pkg/api"
	"github.com/platinummonkey/tenantadmin/pkg/audit"
	"github.com/platinummonkey/tenantadmin/pkg/auth"
	"github.com/platinummonkey/tenantadmin/pkg/config"
	"github.com/platinummonkey/tenantadmin/pkg/impersonation"
	"github.com/platinummonkey/tenantadmin/pkg/middleware"
	"github.com/platinummonkey/tenantadmin/pkg/observability"
	"github.com/platinummonkey/tenantadmin/pkg/rbac"
	"github.com/platinummonkey/tenantadmin/pkg/session"
	"github.com/platinummonkey/tenantadmin/pkg/settings"
	"github.com/platinummonkey/tenantadmin/pkg/sso"
	"github.com/platinummonkey/tenantadmin/pkg/storage/postgres"
	"github.com/platinummonkey/tenantadmin/pkg/tenants"
)

const version = "1.0.0"

// invitationTTL is how long a tenant invitation stays acceptable
const invitationTTL = 7 * 24 * time.Hour

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("tenantadmin exited with error")
		os.Exit(1)
	}
	logger.Info("tenantadmin stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *observability.Logger) error {
	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)

	providers, err := observability.InitOTel(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		return err
	}
	shutdown.Register("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	shutdown.Register("postgres", func(context.Context) error { return db.Close() })

	if err := postgres.RunMigrations(ctx, db, logger); err != nil {
		return err
	}

	health := observability.NewHealthChecker(version).
		AddCheck("postgres", true, observability.DatabaseCheck(db))

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		redisClient, err = postgres.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		shutdown.Register("redis", func(context.Context) error { return redisClient.Close() })
		health.AddCheck("redis", true, observability.RedisCheck(redisClient))
	}

	deps, err := buildDependencies(ctx, cfg, logger, metrics, db, redisClient)
	if err != nil {
		return err
	}
	shutdown.Register("activity log", func(context.Context) error { return deps.ActivityLog.Close() })

	server := api.NewServer(deps)
	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthRouter := mux.NewRouter()
	observability.RegisterHealthRoutes(healthRouter, health)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthRouter, registry)
	}
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthRouter,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", apiServer.Addr).Info("starting API server")
		return serve(apiServer)
	})
	g.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("starting health server")
		return serve(healthServer)
	})
	g.Go(func() error {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				metrics.ObserveDBStats(db)
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		var errs []error
		if err := apiServer.Shutdown(stopCtx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop API server: %w", err))
		}
		if err := healthServer.Shutdown(stopCtx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop health server: %w", err))
		}
		if err := shutdown.Shutdown(context.Background()); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

func serve(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// buildDependencies constructs the stores and services behind the API
func buildDependencies(ctx context.Context, cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics, db *sql.DB, redisClient *redis.Client) (api.Dependencies, error) {
	activityDB, err := audit.NewDBLogger(db)
	if err != nil {
		return api.Dependencies{}, err
	}
	activity := audit.WithMetrics(audit.NewMultiLogger(activityDB, audit.NewStructuredLogger(logger)), metrics)

	var (
		sessions session.Store
		limiter  middleware.Limiter
	)
	limit := middleware.RateLimitConfig{Requests: cfg.RateLimit.LoginRequests, Window: cfg.RateLimit.LoginWindow}
	if redisClient != nil {
		sessions = session.NewRedisStore(redisClient, cfg.Session.RedisPrefix, cfg.Session.TTL)
		limiter = middleware.NewRedisLimiter(redisClient, limit, "ratelimit")
	} else {
		logger.Warn("TENANTADMIN_REDIS_URL is not set; sessions and rate limits are kept in process")
		sessions = session.NewMemoryStore(cfg.Session.TTL)
		limiter = middleware.NewMemoryLimiter(limit)
	}
	cookie := session.Cookie{
		Name:   cfg.Session.CookieName,
		Path:   "/",
		Domain: cfg.Session.CookieDomain,
		Secure: cfg.Session.CookieSecure,
		MaxAge: cfg.Session.TTL,
	}

	users := auth.NewStore(db)
	tenantStore := tenants.NewPostgresStore(db)
	roleStore := rbac.NewStore(db)

	checker := rbac.NewChecker(roleStore, tenantStore, metrics, cfg.Access)
	roles := rbac.NewService(roleStore, checker, activity)
	switcher := tenants.NewSwitcher(tenantStore, activity, metrics)
	impersonator := impersonation.NewController(users, checker, activity, metrics)

	var cipher *settings.Cipher
	if cfg.Settings.EncryptionKey != "" {
		cipher, err = settings.NewCipher(settings.DeriveKey(cfg.Settings.EncryptionKey))
		if err != nil {
			return api.Dependencies{}, err
		}
	} else {
		logger.Warn("TENANTADMIN_SETTINGS_KEY is not set; encrypted settings are unavailable")
	}

	var google *sso.Handlers
	if cfg.Google.Enabled() {
		provider, err := sso.NewGoogleProvider(ctx, sso.GoogleConfig{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RedirectURL:  cfg.Google.RedirectURL,
			HostedDomain: cfg.Google.HostedDomain,
		})
		if err != nil {
			return api.Dependencies{}, err
		}
		google = sso.NewHandlers(provider, sso.NewProvisioner(users, cfg.Google.AutoProvision), sessions, cookie, cfg.Google.SuccessURL)
	}

	return api.Dependencies{
		Logger:        logger,
		Metrics:       metrics,
		Sessions:      sessions,
		Cookie:        cookie,
		Users:         users,
		Checker:       checker,
		Roles:         roles,
		Tenants:       tenantStore,
		Switcher:      switcher,
		InvitationTTL: invitationTTL,
		Impersonation: impersonator,
		Settings:      settings.NewStore(db, cipher),
		Activity:      activityDB,
		ActivityLog:   activity,
		Google:        google,
		LoginLimiter:  limiter,
		MaxBodyBytes:  cfg.Server.MaxBodyBytes,
	}, nil
}
