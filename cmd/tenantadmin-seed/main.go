package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/platinummonkey/tenantadmin/pkg/auth"
	"github.com/platinummonkey/tenantadmin/pkg/config"
	"github.com/platinummonkey/tenantadmin/pkg/observability"
	"github.com/platinummonkey/tenantadmin/pkg/rbac"
	"github.com/platinummonkey/tenantadmin/pkg/storage/postgres"
	"github.com/platinummonkey/tenantadmin/pkg/validation"
)

var (
	seedFile      = flag.String("file", "", "RBAC seed file (defaults to TENANTADMIN_SEED_FILE)")
	migrate       = flag.Bool("migrate", true, "Apply schema migrations before seeding")
	adminEmail    = flag.String("admin-email", "", "Create or promote this account to super admin")
	adminName     = flag.String("admin-name", "Administrator", "Name of a newly created super admin")
	adminPassword = flag.String("admin-password", os.Getenv("TENANTADMIN_ADMIN_PASSWORD"), "Password of a newly created super admin")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	path := *seedFile
	if path == "" {
		path = cfg.SeedFile
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, path, logger); err != nil {
		logger.WithError(err).Error("seeding failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, path string, logger *observability.Logger) error {
	seed, err := rbac.LoadSeedFile(path)
	if err != nil {
		return err
	}

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if *migrate {
		if err := postgres.RunMigrations(ctx, db, logger); err != nil {
			return err
		}
	}

	result, err := rbac.ApplySeed(ctx, rbac.NewStore(db), seed, logger)
	if err != nil {
		return err
	}
	logger.WithFields(map[string]interface{}{
		"file":        path,
		"permissions": result.Permissions,
		"roles":       result.Roles,
	}).Info("RBAC seed applied")

	if *adminEmail == "" {
		return nil
	}
	user, err := ensureSuperAdmin(ctx, auth.NewStore(db), *adminEmail, *adminName, *adminPassword)
	if err != nil {
		return err
	}
	logger.WithField("user_id", user.ID).Infof("%s is a super admin", user.Email)
	return nil
}

// superAdmins is the part of auth.Store ensureSuperAdmin needs
type superAdmins interface {
	GetByEmail(ctx context.Context, email string) (*auth.User, error)
	Create(ctx context.Context, u *auth.User) error
	UpdateType(ctx context.Context, id int64, userType auth.UserType) error
}

// ensureSuperAdmin promotes the account with email, creating it when it
// does not exist yet
func ensureSuperAdmin(ctx context.Context, users superAdmins, email, name, password string) (*auth.User, error) {
	user, err := users.GetByEmail(ctx, email)
	if err == nil {
		if !user.IsSuperAdmin() {
			if err := users.UpdateType(ctx, user.ID, auth.UserTypeSuperAdmin); err != nil {
				return nil, err
			}
			user.Type = auth.UserTypeSuperAdmin
		}
		return user, nil
	}
	if !errors.Is(err, auth.ErrUserNotFound) {
		return nil, err
	}

	if len(password) < 8 {
		return nil, validation.NewFieldError("password", validation.RuleFormat, "password must be at least 8 characters")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	user = &auth.User{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Type:         auth.UserTypeSuperAdmin,
		Status:       auth.UserStatusActive,
	}
	if err := users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}
