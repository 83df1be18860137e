package storage

import (
	"database/sql"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// Migration represents a database migration.
type Migration struct {
	Version int
	Name    string
	Up      string
}

// migrations holds all database migrations in order.
var migrations = []Migration{
	{
		Version: 1,
		Name:    "alert_log",
		Up: `
			-- seq keeps insertion order independent of clock resolution
			CREATE TABLE IF NOT EXISTS alerts (
				seq INTEGER PRIMARY KEY AUTOINCREMENT,
				id TEXT UNIQUE NOT NULL,
				symptom_text TEXT NOT NULL,
				symptom_type TEXT NOT NULL,
				severity_score INTEGER NOT NULL CHECK (severity_score BETWEEN 1 AND 5),
				rule TEXT,
				detected_at_ns INTEGER NOT NULL,
				acknowledged INTEGER NOT NULL DEFAULT 0
			);

			CREATE INDEX IF NOT EXISTS idx_alerts_detected_at ON alerts(detected_at_ns);
			CREATE INDEX IF NOT EXISTS idx_alerts_symptom_type ON alerts(symptom_type);
		`,
	},
	{
		Version: 2,
		Name:    "notification_history",
		Up: `
			CREATE TABLE IF NOT EXISTS notification_history (
				id TEXT PRIMARY KEY,
				alert_id TEXT NOT NULL,
				symptom_type TEXT NOT NULL,
				severity_score INTEGER NOT NULL,
				critical INTEGER NOT NULL DEFAULT 0,
				visible_at_ns INTEGER NOT NULL,
				resolved_at_ns INTEGER NOT NULL,
				reason TEXT NOT NULL,
				FOREIGN KEY (alert_id) REFERENCES alerts(id) ON DELETE CASCADE
			);

			CREATE INDEX IF NOT EXISTS idx_notification_history_alert ON notification_history(alert_id);
			CREATE INDEX IF NOT EXISTS idx_notification_history_resolved ON notification_history(resolved_at_ns);
		`,
	},
	{
		Version: 3,
		Name:    "notification_history_state",
		Up: `
			-- records are written on visible; resolved_at_ns stays 0 until resolution
			ALTER TABLE notification_history ADD COLUMN state TEXT NOT NULL DEFAULT 'visible';
			UPDATE notification_history SET state = reason WHERE reason != '';

			CREATE INDEX IF NOT EXISTS idx_notification_history_visible ON notification_history(visible_at_ns);
		`,
	},
}

func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return goerr.Wrap(err, "create migrations table")
	}

	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return goerr.Wrap(err, "get current version")
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}
		if err := applyMigration(db, m); err != nil {
			return err
		}
	}
	return nil
}

func applyMigration(db *sql.DB, m Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return goerr.Wrap(err, "begin migration", goerr.V("version", m.Version))
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.Up); err != nil {
		return goerr.Wrap(err, "execute migration", goerr.V("version", m.Version), goerr.V("name", m.Name))
	}
	if _, err := tx.Exec(
		"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
		m.Version, m.Name, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return goerr.Wrap(err, "record migration", goerr.V("version", m.Version))
	}
	if err := tx.Commit(); err != nil {
		return goerr.Wrap(err, "commit migration", goerr.V("version", m.Version))
	}
	return nil
}
