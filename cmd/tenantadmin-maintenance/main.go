package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/tenantadmin/pkg/audit"
	"github.com/platinummonkey/tenantadmin/pkg/config"
	"github.com/platinummonkey/tenantadmin/pkg/storage/postgres"
	"github.com/platinummonkey/tenantadmin/pkg/tenants"
)

var (
	runOnce  = flag.Bool("run-once", false, "Run every job once and exit")
	logLevel = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
)

// Maintenance runs the scheduled cleanup jobs: expired tenant invitations
// and activity log retention.
func main() {
	flag.Parse()
	logger := setupLogger(*logLevel)

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	activity, err := audit.NewDBLogger(db)
	if err != nil {
		logger.Fatalf("Failed to create activity log: %v", err)
	}

	jobs := newJobs(tenants.NewPostgresStore(db), activity, cfg.Maintenance.ActivityRetention, logger)

	if *runOnce {
		if err := jobs.runAll(ctx); err != nil {
			logger.Fatalf("Maintenance failed: %v", err)
		}
		logger.Info("Maintenance completed successfully")
		return
	}

	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(logger)))
	if _, err := c.AddFunc(cfg.Maintenance.InvitationCleanupSchedule, func() { jobs.cleanupInvitations(ctx) }); err != nil {
		logger.Fatalf("Failed to schedule invitation cleanup: %v", err)
	}
	if _, err := c.AddFunc(cfg.Maintenance.ActivityPruneSchedule, func() { jobs.pruneActivity(ctx) }); err != nil {
		logger.Fatalf("Failed to schedule activity pruning: %v", err)
	}

	c.Start()
	logger.WithFields(logrus.Fields{
		"invitation_cleanup": cfg.Maintenance.InvitationCleanupSchedule,
		"activity_prune":     cfg.Maintenance.ActivityPruneSchedule,
		"retention":          cfg.Maintenance.ActivityRetention.String(),
	}).Info("Tenant admin maintenance started")

	<-ctx.Done()
	logger.Info("Shutting down gracefully...")

	// Wait for running jobs
	<-c.Stop().Done()
	logger.Info("Maintenance stopped")
}

func setupLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)

	return logger
}
