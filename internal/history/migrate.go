package history

import (
	"database/sql"
	"fmt"
	"log/slog"
)

// schemaVersion is the current expected schema version.
const schemaVersion = 2

type migration struct {
	Version     int
	Description string
	SQL         string
}

// Each migration is applied exactly once, tracked in schema_version.
var migrations = []migration{
	{
		Version:     1,
		Description: "base schema: deliveries, attempts",
		SQL: `
		CREATE TABLE IF NOT EXISTS deliveries (
			message_id   TEXT PRIMARY KEY,
			sender       TEXT NOT NULL DEFAULT '',
			recipient    TEXT NOT NULL,
			priority     TEXT NOT NULL DEFAULT 'NORMAL',
			hint         TEXT NOT NULL DEFAULT 'AUTO',
			outcome      TEXT NOT NULL,
			strategy     TEXT NOT NULL DEFAULT '',
			reason       TEXT NOT NULL DEFAULT '',
			error        TEXT NOT NULL DEFAULT '',
			completed_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_deliveries_time ON deliveries(completed_at);
		CREATE INDEX IF NOT EXISTS idx_deliveries_recipient ON deliveries(recipient, completed_at);

		CREATE TABLE IF NOT EXISTS attempts (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			message_id   TEXT NOT NULL REFERENCES deliveries(message_id) ON DELETE CASCADE,
			seq          INTEGER NOT NULL,
			strategy     TEXT NOT NULL,
			outcome      TEXT NOT NULL,
			error        TEXT NOT NULL DEFAULT '',
			try          INTEGER NOT NULL DEFAULT 0,
			attempted_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_attempts_message ON attempts(message_id, seq);
		`,
	},
	{
		Version:     2,
		Description: "v2: outcome index for stats",
		SQL: `
		CREATE INDEX IF NOT EXISTS idx_deliveries_outcome ON deliveries(outcome, strategy);
		`,
	},
}

// runMigrations applies all pending schema migrations, one transaction each.
func runMigrations(db *sql.DB, logger *slog.Logger) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current := 0
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("query schema version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		logger.Info("applying migration", "version", m.Version, "description", m.Description)

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration v%d: %w", m.Version, err)
		}
		if _, err := tx.Exec(
			"INSERT OR REPLACE INTO schema_version (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.Version, err)
		}
	}
	return nil
}

// SchemaVersion returns the applied schema version, or 0 for a fresh database.
func SchemaVersion(db *sql.DB) (int, error) {
	var name string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&name)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var version int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}
