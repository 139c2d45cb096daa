package hierarchy

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all hierarchy store migrations
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create principals table",
			SQL: `
				CREATE TABLE IF NOT EXISTS principals (
					ref TEXT PRIMARY KEY,
					kind TEXT NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_principals_kind ON principals(kind);
			`,
		},
		{
			Version:     2,
			Description: "Create principal_edges table",
			SQL: `
				CREATE TABLE IF NOT EXISTS principal_edges (
					parent_ref TEXT NOT NULL REFERENCES principals(ref) ON DELETE CASCADE,
					member_ref TEXT NOT NULL,
					PRIMARY KEY (parent_ref, member_ref)
				);

				CREATE INDEX IF NOT EXISTS idx_principal_edges_member ON principal_edges(member_ref);
			`,
		},
	}
}

// RunMigrations applies all pending hierarchy migrations
func RunMigrations(ctx context.Context, db *sql.DB) error {
	// Create migrations tracking table
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS hierarchy_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	for _, migration := range GetMigrations() {
		var count int
		err := db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM hierarchy_migrations WHERE version = $1",
			migration.Version,
		).Scan(&count)
		if err != nil {
			return fmt.Errorf("failed to check migration %d: %w", migration.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO hierarchy_migrations (version, description) VALUES ($1, $2)",
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
