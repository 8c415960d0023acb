package journal

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database schema migration.
type Migration struct {
	Version     int
	Description string
	Up          string
}

// migrations contains all journal migrations in order.
var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema with runs, sessions and entries",
		Up:          migrationV1Up,
	},
	{
		Version:     2,
		Description: "Index entries by session",
		Up:          migrationV2Up,
	},
}

const migrationV1Up = `
CREATE TABLE IF NOT EXISTS runs (
    id          TEXT PRIMARY KEY,
    started_ns  INTEGER NOT NULL,
    version     TEXT
);

CREATE TABLE IF NOT EXISTS sessions (
    run         TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    id          INTEGER NOT NULL,
    focused_ns  INTEGER NOT NULL,
    blurred_ns  INTEGER,
    PRIMARY KEY (run, id)
);

CREATE TABLE IF NOT EXISTS entries (
    run         TEXT NOT NULL,
    session     INTEGER NOT NULL,
    ordinal     INTEGER NOT NULL,
    ts_ns       INTEGER NOT NULL,
    direction   TEXT NOT NULL CHECK (direction IN ('out', 'in')),
    kind        INTEGER NOT NULL,
    range_start INTEGER,
    range_end   INTEGER,
    text_len    INTEGER NOT NULL DEFAULT 0,
    text        TEXT,
    digest      BLOB,
    PRIMARY KEY (run, ordinal),
    FOREIGN KEY (run, session) REFERENCES sessions(run, id) ON DELETE CASCADE
);
`

const migrationV2Up = `
CREATE INDEX IF NOT EXISTS idx_entries_session ON entries(run, session, ordinal);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_ns);
`

// migrate applies all pending migrations to the database.
func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INTEGER PRIMARY KEY,
			applied_at  INTEGER NOT NULL,
			description TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var current int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
			m.Version, time.Now().UnixNano(), m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}

// SchemaVersion returns the latest applied migration.
func (s *Store) SchemaVersion() (int, error) {
	var v int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v)
	return v, err
}
