package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/datawave/pkg/audit"
)

// Migration represents a database migration. {{ts}} in SQL is replaced with
// the dialect's timestamp type.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all RBAC migrations
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users, groups and members",
			SQL: `
				CREATE TABLE IF NOT EXISTS rbac_users (
					id TEXT PRIMARY KEY,
					email TEXT NOT NULL,
					display_name TEXT NOT NULL DEFAULT '',
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					is_verified BOOLEAN NOT NULL DEFAULT FALSE,
					mfa_enabled BOOLEAN NOT NULL DEFAULT FALSE,
					attributes TEXT,
					created_at {{ts}} NOT NULL,
					updated_at {{ts}} NOT NULL,
					deactivated_at {{ts}}
				);
				CREATE TABLE IF NOT EXISTS rbac_groups (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL UNIQUE,
					description TEXT NOT NULL DEFAULT '',
					created_at {{ts}} NOT NULL
				);
				CREATE TABLE IF NOT EXISTS rbac_group_members (
					group_id TEXT NOT NULL,
					user_id TEXT NOT NULL,
					PRIMARY KEY (group_id, user_id)
				);
				CREATE INDEX IF NOT EXISTS idx_rbac_group_members_user_id ON rbac_group_members(user_id);
			`,
		},
		{
			Version:     2,
			Description: "Create roles, permissions and their links",
			SQL: `
				CREATE TABLE IF NOT EXISTS rbac_permissions (
					id TEXT PRIMARY KEY,
					action TEXT NOT NULL,
					resource TEXT NOT NULL,
					conditions TEXT,
					description TEXT NOT NULL DEFAULT '',
					created_at {{ts}} NOT NULL
				);
				CREATE TABLE IF NOT EXISTS rbac_roles (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL UNIQUE,
					display_name TEXT NOT NULL DEFAULT '',
					description TEXT NOT NULL DEFAULT '',
					is_built_in BOOLEAN NOT NULL DEFAULT FALSE,
					created_at {{ts}} NOT NULL,
					updated_at {{ts}} NOT NULL,
					created_by TEXT NOT NULL DEFAULT ''
				);
				CREATE TABLE IF NOT EXISTS rbac_role_parents (
					role_id TEXT NOT NULL,
					parent_id TEXT NOT NULL,
					position INTEGER NOT NULL,
					PRIMARY KEY (role_id, parent_id)
				);
				CREATE TABLE IF NOT EXISTS rbac_role_permissions (
					role_id TEXT NOT NULL,
					permission_id TEXT NOT NULL,
					position INTEGER NOT NULL,
					PRIMARY KEY (role_id, permission_id)
				);
				CREATE INDEX IF NOT EXISTS idx_rbac_role_permissions_permission_id ON rbac_role_permissions(permission_id);
			`,
		},
		{
			Version:     3,
			Description: "Create resource hierarchy",
			SQL: `
				CREATE TABLE IF NOT EXISTS rbac_resources (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					type TEXT NOT NULL DEFAULT '',
					parent_id TEXT NOT NULL DEFAULT '',
					block_inheritance BOOLEAN NOT NULL DEFAULT FALSE,
					attributes TEXT,
					created_at {{ts}} NOT NULL
				);
				CREATE INDEX IF NOT EXISTS idx_rbac_resources_parent_id ON rbac_resources(parent_id);
			`,
		},
		{
			Version:     4,
			Description: "Create role and deny assignments",
			SQL: `
				CREATE TABLE IF NOT EXISTS rbac_role_assignments (
					id TEXT PRIMARY KEY,
					principal_type TEXT NOT NULL,
					principal_id TEXT NOT NULL,
					role_id TEXT NOT NULL,
					resource_id TEXT NOT NULL DEFAULT '',
					granted_by TEXT NOT NULL DEFAULT '',
					granted_at {{ts}} NOT NULL,
					expires_at {{ts}},
					source TEXT NOT NULL
				);
				CREATE INDEX IF NOT EXISTS idx_rbac_role_assignments_principal ON rbac_role_assignments(principal_type, principal_id);
				CREATE INDEX IF NOT EXISTS idx_rbac_role_assignments_role_id ON rbac_role_assignments(role_id);
				CREATE INDEX IF NOT EXISTS idx_rbac_role_assignments_expires_at ON rbac_role_assignments(expires_at);

				CREATE TABLE IF NOT EXISTS rbac_deny_assignments (
					id TEXT PRIMARY KEY,
					principal_type TEXT NOT NULL,
					principal_id TEXT NOT NULL,
					action TEXT NOT NULL,
					resource TEXT NOT NULL,
					conditions TEXT,
					reason TEXT NOT NULL DEFAULT '',
					created_by TEXT NOT NULL DEFAULT '',
					created_at {{ts}} NOT NULL
				);
				CREATE INDEX IF NOT EXISTS idx_rbac_deny_assignments_principal ON rbac_deny_assignments(principal_type, principal_id);
			`,
		},
		{
			Version:     5,
			Description: "Create access requests and condition templates",
			SQL: `
				CREATE TABLE IF NOT EXISTS rbac_access_requests (
					id TEXT PRIMARY KEY,
					requester_id TEXT NOT NULL,
					role_id TEXT NOT NULL,
					resource_id TEXT NOT NULL DEFAULT '',
					justification TEXT NOT NULL DEFAULT '',
					status TEXT NOT NULL,
					reviewer_id TEXT NOT NULL DEFAULT '',
					review_note TEXT NOT NULL DEFAULT '',
					assignment_id TEXT NOT NULL DEFAULT '',
					created_at {{ts}} NOT NULL,
					decided_at {{ts}},
					expires_at {{ts}} NOT NULL
				);
				CREATE INDEX IF NOT EXISTS idx_rbac_access_requests_status ON rbac_access_requests(status);

				CREATE TABLE IF NOT EXISTS rbac_condition_templates (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					category TEXT NOT NULL DEFAULT '',
					conditions TEXT NOT NULL,
					created_by TEXT NOT NULL DEFAULT '',
					created_at {{ts}} NOT NULL
				);
			`,
		},
	}
}

func timestampType(dialect audit.Dialect) string {
	if dialect == audit.DialectSQLite {
		return "TIMESTAMP"
	}
	return "TIMESTAMPTZ"
}

// RunMigrations executes all pending migrations. It is idempotent.
func RunMigrations(ctx context.Context, db *sql.DB, dialect audit.Dialect, log *logrus.Logger) error {
	if log == nil {
		log = logrus.New()
	}

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS rbac_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at `+timestampType(dialect)+` NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM rbac_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		appliedVersions[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if appliedVersions[migration.Version] {
			continue
		}

		entry := log.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		})
		entry.Info("running rbac migration")

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		ddl := strings.ReplaceAll(migration.SQL, "{{ts}}", timestampType(dialect))
		for _, stmt := range splitStatements(ddl) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
			}
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO rbac_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// splitStatements splits a migration into single statements. The DDL
// contains no string literals with semicolons.
func splitStatements(ddl string) []string {
	var out []string
	for _, stmt := range strings.Split(ddl, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
