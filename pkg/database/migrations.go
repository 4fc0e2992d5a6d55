package database

import (
	"database/sql"
	"fmt"
)

// Migration is one versioned schema change. Migrations are compiled
// into the binary so a deployment can never run against a schema it
// does not know about.
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// migrations are applied in slice order; versions are recorded in
// schema_migrations so reruns are no-ops.
var migrations = []Migration{
	{
		Version:     "001",
		Description: "chat schema",
		SQL: `
			CREATE TABLE IF NOT EXISTS users (
				username   TEXT PRIMARY KEY,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);

			CREATE TABLE IF NOT EXISTS rooms (
				id   TEXT PRIMARY KEY,
				name TEXT NOT NULL UNIQUE
			);

			CREATE TABLE IF NOT EXISTS sessions (
				id         TEXT PRIMARY KEY,
				room_id    TEXT NOT NULL REFERENCES rooms(id),
				started_at DATETIME NOT NULL,
				ended_at   DATETIME
			);

			-- One open session per room, enforced by the database rather
			-- than by application-level check-then-act.
			CREATE UNIQUE INDEX IF NOT EXISTS ux_sessions_open
				ON sessions(room_id) WHERE ended_at IS NULL;
			CREATE INDEX IF NOT EXISTS idx_sessions_room_started
				ON sessions(room_id, started_at);

			CREATE TABLE IF NOT EXISTS messages (
				id         TEXT PRIMARY KEY,
				session_id TEXT NOT NULL REFERENCES sessions(id),
				sender     TEXT NOT NULL,
				ciphertext BLOB NOT NULL,
				timestamp  DATETIME NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_messages_session_time
				ON messages(session_id, timestamp);
		`,
	},
}

// ApplyMigrations brings the database up to the current schema. Each
// migration runs in its own transaction and is recorded on success.
func ApplyMigrations(db *sql.DB) error {
	if err := createMigrationTable(db); err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}

	applied, err := appliedVersions(db)
	if err != nil {
		return fmt.Errorf("failed to read applied migrations: %w", err)
	}

	for _, migration := range migrations {
		if applied[migration.Version] {
			continue
		}
		if err := applyMigration(db, migration); err != nil {
			return fmt.Errorf("failed to apply migration %s (%s): %w",
				migration.Version, migration.Description, err)
		}
	}

	return nil
}

// ValidateSchema checks that the tables and indexes the store depends
// on actually exist, catching structural drift before runtime errors.
func ValidateSchema(db *sql.DB) error {
	for _, table := range []string{"users", "rooms", "sessions", "messages"} {
		exists, err := objectExists(db, "table", table)
		if err != nil {
			return fmt.Errorf("failed to check table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("required table %s does not exist", table)
		}
	}

	for _, index := range []string{"ux_sessions_open", "idx_sessions_room_started", "idx_messages_session_time"} {
		exists, err := objectExists(db, "index", index)
		if err != nil {
			return fmt.Errorf("failed to check index %s: %w", index, err)
		}
		if !exists {
			return fmt.Errorf("required index %s does not exist", index)
		}
	}

	return nil
}

func createMigrationTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

func appliedVersions(db *sql.DB) (map[string]bool, error) {
	rows, err := db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func applyMigration(db *sql.DB, migration Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(migration.SQL); err != nil {
		return err
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", migration.Version); err != nil {
		return err
	}
	return tx.Commit()
}

func objectExists(db *sql.DB, kind, name string) (bool, error) {
	var count int
	err := db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
