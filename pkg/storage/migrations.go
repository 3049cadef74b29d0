package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all schema migrations in apply order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create tenants and tenant_api_keys tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS tenants (
					id BIGSERIAL PRIMARY KEY,
					org_id VARCHAR(255) NOT NULL UNIQUE,
					name VARCHAR(255) NOT NULL,
					status VARCHAR(20) NOT NULL DEFAULT 'pending',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					CONSTRAINT tenants_status_check CHECK (status IN ('pending', 'active', 'suspended'))
				);

				CREATE TABLE IF NOT EXISTS tenant_api_keys (
					id BIGSERIAL PRIMARY KEY,
					tenant_id BIGINT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
					module VARCHAR(20) NOT NULL,
					key_hash CHAR(64) NOT NULL UNIQUE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE(tenant_id, module)
				);

				CREATE INDEX IF NOT EXISTS idx_tenant_api_keys_lookup ON tenant_api_keys(module, key_hash);
			`,
		},
		{
			Version:     2,
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id BIGSERIAL PRIMARY KEY,
					tenant_id BIGINT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
					email VARCHAR(320) NOT NULL,
					name VARCHAR(255) NOT NULL DEFAULT '',
					password_hash TEXT,
					status VARCHAR(20) NOT NULL DEFAULT 'active',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					last_login_at TIMESTAMPTZ,
					UNIQUE(tenant_id, email),
					CONSTRAINT users_status_check CHECK (status IN ('active', 'suspended'))
				);
			`,
		},
		{
			Version:     3,
			Description: "Create roles, user_roles and tenant_role_versions tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					id BIGSERIAL PRIMARY KEY,
					tenant_id BIGINT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
					name VARCHAR(255) NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					permissions TEXT NOT NULL DEFAULT '[]',
					priority INT NOT NULL DEFAULT 100,
					is_system_role BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE(tenant_id, name)
				);

				CREATE TABLE IF NOT EXISTS user_roles (
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					tenant_id BIGINT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
					assigned_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
					assigned_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					PRIMARY KEY (user_id, role_id)
				);

				CREATE INDEX IF NOT EXISTS idx_user_roles_tenant_user ON user_roles(tenant_id, user_id);
				CREATE INDEX IF NOT EXISTS idx_user_roles_role_id ON user_roles(role_id);

				CREATE TABLE IF NOT EXISTS tenant_role_versions (
					tenant_id BIGINT PRIMARY KEY REFERENCES tenants(id) ON DELETE CASCADE,
					version BIGINT NOT NULL DEFAULT 0
				);
			`,
		},
		{
			Version:     4,
			Description: "Create identity_provider_configs table",
			SQL: `
				CREATE TABLE IF NOT EXISTS identity_provider_configs (
					id BIGSERIAL PRIMARY KEY,
					tenant_id BIGINT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
					provider_type VARCHAR(20) NOT NULL,
					priority INT NOT NULL DEFAULT 100,
					enabled BOOLEAN NOT NULL DEFAULT TRUE,
					config JSONB NOT NULL DEFAULT '{}',
					user_mapping JSONB NOT NULL DEFAULT '{}',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					CONSTRAINT idp_provider_type_check CHECK (provider_type IN ('azure-ad', 'auth0', 'saml', 'local'))
				);

				CREATE INDEX IF NOT EXISTS idx_idp_configs_tenant ON identity_provider_configs(tenant_id, enabled, priority);
			`,
		},
		{
			Version:     5,
			Description: "Create revoked_sessions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS revoked_sessions (
					sid VARCHAR(64) PRIMARY KEY,
					revoked_until TIMESTAMPTZ NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_revoked_sessions_until ON revoked_sessions(revoked_until);
			`,
		},
		{
			Version:     6,
			Description: "Create audit_events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS audit_events (
					id BIGSERIAL PRIMARY KEY,
					event_type VARCHAR(100) NOT NULL,
					status VARCHAR(20) NOT NULL,
					tenant_id BIGINT,
					user_id BIGINT,
					resource VARCHAR(255),
					message TEXT,
					metadata JSONB,
					ip_address VARCHAR(64),
					user_agent TEXT,
					request_id VARCHAR(64),
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_audit_events_tenant_time ON audit_events(tenant_id, created_at);
				CREATE INDEX IF NOT EXISTS idx_audit_events_type ON audit_events(event_type);
			`,
		},
	}
}

// RunMigrations applies every migration not yet recorded in schema_migrations.
// Each migration runs in its own transaction.
func RunMigrations(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	if logger == nil {
		logger = observability.NopLogger()
	}

	// Create migration tracking table
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	// Get applied migrations
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("failed to read migrations: %w", err)
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}

		log := logger.WithField("version", migration.Version).WithField("description", migration.Description)
		log.Info("running migration")

		if err := applyMigration(ctx, db, migration); err != nil {
			return err
		}

		log.Info("migration completed")
	}

	return nil
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
