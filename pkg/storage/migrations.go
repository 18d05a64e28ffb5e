package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations returns the schema in apply order. The SQL sticks to types and
// syntax shared by Postgres and SQLite so tests run against the same schema.
func Migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users and workspaces",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id TEXT PRIMARY KEY,
					email TEXT NOT NULL UNIQUE,
					name TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL
				);

				CREATE TABLE IF NOT EXISTS workspaces (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					created_at TIMESTAMP NOT NULL
				);
			`,
		},
		{
			Version:     2,
			Description: "Create memberships",
			SQL: `
				CREATE TABLE IF NOT EXISTS memberships (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					workspace_id TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
					role TEXT NOT NULL CHECK (role IN ('OWNER', 'ANALYST')),
					created_at TIMESTAMP NOT NULL,
					UNIQUE (user_id, workspace_id)
				);

				CREATE INDEX IF NOT EXISTS idx_memberships_workspace_id ON memberships(workspace_id);
			`,
		},
		{
			Version:     3,
			Description: "Create sessions",
			SQL: `
				CREATE TABLE IF NOT EXISTS sessions (
					token_hash TEXT PRIMARY KEY,
					id TEXT NOT NULL UNIQUE,
					user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					workspace_id TEXT,
					created_at TIMESTAMP NOT NULL,
					expires_at TIMESTAMP NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id);
				CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);
			`,
		},
		{
			Version:     4,
			Description: "Create subscriptions",
			SQL: `
				CREATE TABLE IF NOT EXISTS subscriptions (
					workspace_id TEXT PRIMARY KEY REFERENCES workspaces(id) ON DELETE CASCADE,
					tier TEXT NOT NULL,
					status TEXT NOT NULL,
					seat_limit INTEGER,
					sku_limit INTEGER,
					competitor_limit INTEGER,
					import_limit INTEGER,
					feature_overrides TEXT,
					current_period_end TIMESTAMP,
					updated_at TIMESTAMP NOT NULL
				);
			`,
		},
		{
			Version:     5,
			Description: "Create tenant data tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS skus (
					id TEXT PRIMARY KEY,
					workspace_id TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
					sku TEXT NOT NULL,
					name TEXT NOT NULL,
					cost_cents INTEGER NOT NULL DEFAULT 0,
					price_cents INTEGER NOT NULL DEFAULT 0,
					created_at TIMESTAMP NOT NULL,
					UNIQUE (workspace_id, sku)
				);

				CREATE TABLE IF NOT EXISTS competitors (
					id TEXT PRIMARY KEY,
					workspace_id TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
					name TEXT NOT NULL,
					url TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL
				);

				CREATE TABLE IF NOT EXISTS repricing_rules (
					id TEXT PRIMARY KEY,
					workspace_id TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
					name TEXT NOT NULL,
					strategy TEXT NOT NULL,
					min_margin_bps INTEGER NOT NULL DEFAULT 0,
					enabled BOOLEAN NOT NULL DEFAULT TRUE,
					created_by TEXT NOT NULL,
					created_at TIMESTAMP NOT NULL
				);

				CREATE TABLE IF NOT EXISTS csv_imports (
					id TEXT PRIMARY KEY,
					workspace_id TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
					filename TEXT NOT NULL,
					row_count INTEGER NOT NULL DEFAULT 0,
					status TEXT NOT NULL,
					created_by TEXT NOT NULL,
					created_at TIMESTAMP NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_skus_workspace_id ON skus(workspace_id);
				CREATE INDEX IF NOT EXISTS idx_competitors_workspace_id ON competitors(workspace_id);
				CREATE INDEX IF NOT EXISTS idx_repricing_rules_workspace_id ON repricing_rules(workspace_id);
				CREATE INDEX IF NOT EXISTS idx_csv_imports_workspace_created ON csv_imports(workspace_id, created_at);
			`,
		},
		{
			Version:     6,
			Description: "Create audit_logs",
			SQL: `
				CREATE TABLE IF NOT EXISTS audit_logs (
					id TEXT PRIMARY KEY,
					event_type TEXT NOT NULL,
					status TEXT NOT NULL,
					user_id TEXT,
					workspace_id TEXT,
					route TEXT,
					request_id TEXT,
					ip_address TEXT,
					message TEXT NOT NULL DEFAULT '',
					metadata TEXT,
					created_at TIMESTAMP NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_audit_logs_created_at ON audit_logs(created_at);
				CREATE INDEX IF NOT EXISTS idx_audit_logs_workspace_id ON audit_logs(workspace_id);
			`,
		},
	}
}

// RunMigrations applies pending migrations, each in its own transaction.
// It returns the versions applied by this call.
func RunMigrations(ctx context.Context, db *sql.DB) ([]int, error) {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}

	var ran []int
	for _, m := range Migrations() {
		if applied[m.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return ran, fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			tx.Rollback()
			return ran, fmt.Errorf("failed to execute migration %d: %w", m.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, description, applied_at) VALUES ($1, $2, $3)",
			m.Version, m.Description, time.Now().UTC(),
		); err != nil {
			tx.Rollback()
			return ran, fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return ran, fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
		}
		ran = append(ran, m.Version)
	}

	return ran, nil
}
