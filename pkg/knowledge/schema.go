package knowledge

import (
	"database/sql"
	"fmt"
)

// CurrentSchemaVersion defines the current schema version for migration support.
const CurrentSchemaVersion = 1

// initializeSchemaWithMigrations ensures the schema is at the current version.
func initializeSchemaWithMigrations(db *sql.DB) error {
	currentVersion, err := getSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}

	if currentVersion == 0 {
		return createSchema(db)
	}
	if currentVersion == CurrentSchemaVersion {
		return nil
	}
	return runMigrations(db, currentVersion, CurrentSchemaVersion)
}

func getSchemaVersion(db *sql.DB) (int, error) {
	var exists int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'`,
	).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("failed to check schema_version table: %w", err)
	}
	if exists == 0 {
		return 0, nil
	}

	var version int
	if err := db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

func setSchemaVersion(db *sql.DB, version int) error {
	if _, err := db.Exec(`UPDATE schema_version SET version = ?`, version); err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}
	return nil
}

func runMigrations(db *sql.DB, fromVersion, toVersion int) error {
	for version := fromVersion + 1; version <= toVersion; version++ {
		if err := runMigration(db, version); err != nil {
			return fmt.Errorf("migration to version %d failed: %w", version, err)
		}
		if err := setSchemaVersion(db, version); err != nil {
			return fmt.Errorf("failed to update schema version to %d: %w", version, err)
		}
	}
	return nil
}

func runMigration(_ *sql.DB, version int) error {
	// No migrations yet; the switch grows with the schema.
	return fmt.Errorf("unknown migration version %d", version)
}

// createSchema creates the full schema at the current version.
func createSchema(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE schema_version (
			version INTEGER NOT NULL
		)`,
		`CREATE TABLE successful_queries (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			question TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			url TEXT NOT NULL,
			confidence REAL NOT NULL,
			use_count INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			last_used_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX idx_successful_queries_entity ON successful_queries(entity_type)`,
		`CREATE TABLE error_examples (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			url TEXT NOT NULL,
			url_shape TEXT NOT NULL,
			error_message TEXT NOT NULL,
			category TEXT NOT NULL,
			resolved_by TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX idx_error_examples_shape ON error_examples(url_shape)`,
		`CREATE INDEX idx_error_examples_category ON error_examples(category)`,
		`CREATE TABLE correction_rules (
			id TEXT PRIMARY KEY,
			error_pattern TEXT NOT NULL,
			rewrite_from TEXT NOT NULL,
			rewrite_to TEXT NOT NULL,
			learned INTEGER NOT NULL DEFAULT 0,
			success_count INTEGER NOT NULL DEFAULT 0,
			failure_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(error_pattern, rewrite_from, rewrite_to)
		)`,
		`CREATE TABLE prevention_events (
			id TEXT PRIMARY KEY,
			url_shape TEXT NOT NULL,
			fix_code TEXT NOT NULL,
			succeeded INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX idx_prevention_events_shape ON prevention_events(url_shape)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	if _, err := db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, CurrentSchemaVersion); err != nil {
		return fmt.Errorf("failed to set initial schema version: %w", err)
	}
	return nil
}
