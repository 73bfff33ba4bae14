package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/tenantadmin/pkg/observability"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns the schema migrations in apply order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					email VARCHAR(255) NOT NULL,
					password VARCHAR(255),
					type VARCHAR(20) NOT NULL DEFAULT 'user' CHECK (type IN ('super_admin', 'admin', 'user')),
					status VARCHAR(20) NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'inactive', 'suspended', 'banned')),
					plan VARCHAR(50) NOT NULL DEFAULT 'free',
					google_id VARCHAR(255),
					avatar TEXT NOT NULL DEFAULT '',
					last_login_at TIMESTAMP,
					deleted_at TIMESTAMP,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					CONSTRAINT users_email_key UNIQUE (email),
					CONSTRAINT users_google_id_key UNIQUE (google_id)
				);

				CREATE INDEX IF NOT EXISTS idx_users_type ON users(type);
				CREATE INDEX IF NOT EXISTS idx_users_status ON users(status);
			`,
		},
		{
			Version:     2,
			Description: "Create tenants and membership tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS tenants (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL REFERENCES users(id),
					name VARCHAR(255) NOT NULL,
					slug VARCHAR(255) NOT NULL,
					domain VARCHAR(255),
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					CONSTRAINT tenants_slug_key UNIQUE (slug),
					CONSTRAINT tenants_domain_key UNIQUE (domain)
				);

				CREATE INDEX IF NOT EXISTS idx_tenants_user_id ON tenants(user_id);

				CREATE TABLE IF NOT EXISTS tenant_user (
					id BIGSERIAL PRIMARY KEY,
					tenant_id BIGINT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					role VARCHAR(255) NOT NULL,
					permissions TEXT[],
					status VARCHAR(20) NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'pending')),
					invited_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
					invitation_token VARCHAR(128),
					invited_at TIMESTAMP,
					invitation_expires_at TIMESTAMP,
					joined_at TIMESTAMP,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					CONSTRAINT tenant_user_tenant_id_user_id_key UNIQUE (tenant_id, user_id),
					CONSTRAINT tenant_user_invitation_token_key UNIQUE (invitation_token)
				);

				CREATE INDEX IF NOT EXISTS idx_tenant_user_user_id ON tenant_user(user_id);
				CREATE INDEX IF NOT EXISTS idx_tenant_user_role ON tenant_user(role);
			`,
		},
		{
			Version:     3,
			Description: "Create roles and permissions tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					guard_name VARCHAR(20) NOT NULL DEFAULT 'web' CHECK (guard_name IN ('web', 'api')),
					label VARCHAR(255) NOT NULL DEFAULT '',
					description TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					CONSTRAINT roles_name_key UNIQUE (name)
				);

				CREATE TABLE IF NOT EXISTS permissions (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					guard_name VARCHAR(20) NOT NULL DEFAULT 'web' CHECK (guard_name IN ('web', 'api')),
					label VARCHAR(255) NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					CONSTRAINT permissions_name_guard_name_key UNIQUE (name, guard_name)
				);

				CREATE TABLE IF NOT EXISTS role_has_permissions (
					role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					permission_id BIGINT NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
					PRIMARY KEY (role_id, permission_id)
				);

				CREATE TABLE IF NOT EXISTS user_roles (
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE RESTRICT,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					PRIMARY KEY (user_id, role_id)
				);

				CREATE TABLE IF NOT EXISTS user_permissions (
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					permission_id BIGINT NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					PRIMARY KEY (user_id, permission_id)
				);

				CREATE INDEX IF NOT EXISTS idx_user_roles_role_id ON user_roles(role_id);
			`,
		},
		{
			Version:     4,
			Description: "Create settings tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS settings (
					id BIGSERIAL PRIMARY KEY,
					key VARCHAR(255) NOT NULL,
					value TEXT,
					type VARCHAR(20) NOT NULL DEFAULT 'string',
					group_name VARCHAR(100) NOT NULL DEFAULT 'general',
					description TEXT NOT NULL DEFAULT '',
					is_public BOOLEAN NOT NULL DEFAULT FALSE,
					is_encrypted BOOLEAN NOT NULL DEFAULT FALSE,
					is_editable BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					CONSTRAINT settings_key_key UNIQUE (key)
				);

				CREATE TABLE IF NOT EXISTS user_settings (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					key VARCHAR(255) NOT NULL,
					value TEXT,
					type VARCHAR(20) NOT NULL DEFAULT 'string',
					group_name VARCHAR(100) NOT NULL DEFAULT 'general',
					description TEXT NOT NULL DEFAULT '',
					is_public BOOLEAN NOT NULL DEFAULT FALSE,
					is_encrypted BOOLEAN NOT NULL DEFAULT FALSE,
					is_editable BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					CONSTRAINT user_settings_user_id_key_key UNIQUE (user_id, key)
				);

				CREATE TABLE IF NOT EXISTS tenant_settings (
					id BIGSERIAL PRIMARY KEY,
					tenant_id BIGINT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
					key VARCHAR(255) NOT NULL,
					value TEXT,
					type VARCHAR(20) NOT NULL DEFAULT 'string',
					group_name VARCHAR(100) NOT NULL DEFAULT 'general',
					description TEXT NOT NULL DEFAULT '',
					is_public BOOLEAN NOT NULL DEFAULT FALSE,
					is_encrypted BOOLEAN NOT NULL DEFAULT FALSE,
					is_editable BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					CONSTRAINT tenant_settings_tenant_id_key_key UNIQUE (tenant_id, key)
				);
			`,
		},
		{
			Version:     5,
			Description: "Create activity log table",
			SQL: `
				CREATE TABLE IF NOT EXISTS activity_log (
					id BIGSERIAL PRIMARY KEY,
					actor_id BIGINT,
					effective_user_id BIGINT,
					tenant_id BIGINT,
					action VARCHAR(100) NOT NULL,
					target_type VARCHAR(50) NOT NULL DEFAULT '',
					target_id VARCHAR(255) NOT NULL DEFAULT '',
					status VARCHAR(20) NOT NULL,
					message TEXT NOT NULL DEFAULT '',
					metadata JSONB,
					ip_address VARCHAR(64) NOT NULL DEFAULT '',
					user_agent TEXT NOT NULL DEFAULT '',
					request_id VARCHAR(64) NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_activity_log_created_at ON activity_log(created_at);
				CREATE INDEX IF NOT EXISTS idx_activity_log_actor_id ON activity_log(actor_id);
				CREATE INDEX IF NOT EXISTS idx_activity_log_tenant_id ON activity_log(tenant_id);
			`,
		},
	}
}

// RunMigrations executes all pending migrations
func RunMigrations(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}

		logger.Infof("Running migration %d: %s", migration.Version, migration.Description)

		if err := applyMigration(ctx, db, migration); err != nil {
			return err
		}
	}

	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	versions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		versions[version] = true
	}
	return versions, rows.Err()
}

func applyMigration(ctx context.Context, db *sql.DB, migration Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
		return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
		migration.Version, migration.Description,
	); err != nil {
		return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
	}
	return nil
}
