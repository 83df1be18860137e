// Package storage persists alerts and notification history in SQLite.
package storage

import (
	"context"
	"time"

	"github.com/good-yellow-bee/carealert/internal/models"
)

// Storage is the main interface for database operations.
type Storage interface {
	// Open initializes the database connection.
	Open() error
	// Close closes the database connection.
	Close() error
	// Migrate runs database migrations.
	Migrate() error

	Alerts() AlertRepository
	Notifications() NotificationRepository
}

// AlertRepository stores the alert log. It satisfies store.Backend.
type AlertRepository interface {
	InsertAlert(ctx context.Context, alert *models.Alert) error
	AcknowledgeAlert(ctx context.Context, id string) error
	// ListAlerts returns every alert in insertion order.
	ListAlerts(ctx context.Context) ([]*models.Alert, error)
	GetAlert(ctx context.Context, id string) (*models.Alert, error)
	Count(ctx context.Context) (int64, error)
}

// NotificationRepository stores the history of dispatcher notifications.
type NotificationRepository interface {
	Create(ctx context.Context, record *models.NotificationRecord) error
	Resolve(ctx context.Context, id string, resolvedAt time.Time, reason models.ResolveReason) error
	List(ctx context.Context, limit, offset int) ([]*models.NotificationRecord, int64, error)
	ListByAlert(ctx context.Context, alertID string) ([]*models.NotificationRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
