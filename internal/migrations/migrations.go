package migrations

import (
	"database/sql"
	"errors"
	"fmt"
)

// Migration represents a single database migration
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// AllMigrations contains all database migrations in order
var AllMigrations = []Migration{
	{
		Version: 1,
		Name:    "Add profile and operation indices to calls",
		Up: `
			CREATE INDEX IF NOT EXISTS idx_calls_profile ON calls(profile_name);
			CREATE INDEX IF NOT EXISTS idx_calls_operation_timestamp ON calls(operation, timestamp DESC);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_calls_profile;
			DROP INDEX IF EXISTS idx_calls_operation_timestamp;
		`,
	},
	{
		Version: 2,
		Name:    "Add error kind column to calls",
		Up: `
			ALTER TABLE calls ADD COLUMN error_kind TEXT NOT NULL DEFAULT '';
			CREATE INDEX IF NOT EXISTS idx_calls_error_kind ON calls(error_kind);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_calls_error_kind;
		`,
	},
}

// InitSchema creates the base tables. Columns added later live in AllMigrations.
func InitSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS calls (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		call_id TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		operation TEXT NOT NULL,
		profile_name TEXT,
		method TEXT NOT NULL,
		url TEXT NOT NULL,
		status_code INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL,
		response_size INTEGER NOT NULL DEFAULT 0,
		error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_calls_timestamp ON calls(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_calls_operation ON calls(operation);
	CREATE INDEX IF NOT EXISTS idx_calls_status_code ON calls(status_code);
	`

	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// Run executes all pending migrations on the database
func Run(db *sql.DB) error {
	if err := InitSchema(db); err != nil {
		return err
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	currentVersion, err := GetCurrentVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	for _, migration := range AllMigrations {
		if migration.Version <= currentVersion {
			continue
		}
		if err := apply(db, migration); err != nil {
			return err
		}
	}

	return nil
}

// apply runs one migration and records it in the same transaction.
func apply(db *sql.DB, migration Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin migration %d: %w", migration.Version, err)
	}

	if _, err := tx.Exec(migration.Up); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to apply migration %d (%s): %w", migration.Version, migration.Name, err)
	}

	_, err = tx.Exec(
		"INSERT INTO schema_migrations (version, name) VALUES (?, ?)",
		migration.Version,
		migration.Name,
	)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
	}

	return tx.Commit()
}

// GetCurrentVersion returns the current database schema version
func GetCurrentVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow(`
		SELECT COALESCE(MAX(version), 0)
		FROM schema_migrations
	`).Scan(&version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	return version, nil
}
