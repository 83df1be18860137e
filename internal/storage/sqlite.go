package storage

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/m-mizutani/goerr/v2"
	_ "modernc.org/sqlite"

	"github.com/good-yellow-bee/carealert/internal/errs"
	"github.com/good-yellow-bee/carealert/internal/metrics"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	path string
	db   *sql.DB

	alerts        *sqliteAlertRepo
	notifications *sqliteNotificationRepo
}

// NewSQLiteStorage creates a new SQLite storage.
func NewSQLiteStorage(path string) *SQLiteStorage {
	return &SQLiteStorage{path: path}
}

// Open initializes the database connection.
func (s *SQLiteStorage) Open() error {
	ctx := context.Background()

	if s.path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
			return goerr.Wrap(err, "create database directory", goerr.V("path", s.path))
		}
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return goerr.Wrap(err, "open database", goerr.V("path", s.path))
	}

	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return goerr.Wrap(err, "ping database", goerr.V("path", s.path))
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return goerr.Wrap(err, "execute pragma", goerr.V("pragma", pragma))
		}
	}

	s.db = db
	s.alerts = &sqliteAlertRepo{db: db}
	s.notifications = &sqliteNotificationRepo{db: db}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying database connection for health checks.
func (s *SQLiteStorage) DB() *sql.DB {
	return s.db
}

// Migrate runs database migrations.
func (s *SQLiteStorage) Migrate() error {
	return runMigrations(s.db)
}

// Alerts returns the alert repository.
func (s *SQLiteStorage) Alerts() AlertRepository {
	return s.alerts
}

// Notifications returns the notification history repository.
func (s *SQLiteStorage) Notifications() NotificationRepository {
	return s.notifications
}

// observe records query latency and failures. Not-found lookups are normal
// results, not storage errors.
func observe(operation string, start time.Time, err *error) {
	metrics.StorageQueryDuration.WithLabelValues(operation, "sqlite").Observe(time.Since(start).Seconds())
	if *err != nil && !errs.IsNotFound(*err) {
		metrics.StorageErrors.WithLabelValues(operation, "sqlite").Inc()
	}
}
