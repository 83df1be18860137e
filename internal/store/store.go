// Package store is the append-only alert log.
//
// Insertion order is time order: detected_at never decreases along the log.
// Append and Acknowledge are the only mutators; every read returns copies.
package store

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"github.com/good-yellow-bee/carealert/internal/clock"
	"github.com/good-yellow-bee/carealert/internal/errs"
	"github.com/good-yellow-bee/carealert/internal/models"
)

// Backend persists the log. Calls are made while the store lock is held, so
// the backend sees mutations in exactly the order the log does.
type Backend interface {
	InsertAlert(ctx context.Context, alert *models.Alert) error
	AcknowledgeAlert(ctx context.Context, id string) error
	ListAlerts(ctx context.Context) ([]*models.Alert, error)
}

// Observer receives each appended alert after the append commits.
type Observer func(alert models.Alert)

// Options configures a Store.
type Options struct {
	Clock   clock.Clock
	Backend Backend
	// NewID overrides id generation. Defaults to UUIDv7.
	NewID func() (string, error)
}

// Store is the alert log.
type Store struct {
	mu     sync.RWMutex
	alerts []models.Alert
	index  map[string]int

	// notifyMu serialises observer delivery so observers see append order.
	notifyMu  sync.Mutex
	observers []Observer

	clock   clock.Clock
	backend Backend
	newID   func() (string, error)
}

// New creates an empty store.
func New(opts *Options) *Store {
	if opts == nil {
		opts = &Options{}
	}
	s := &Store{
		index:   make(map[string]int),
		clock:   opts.Clock,
		backend: opts.Backend,
		newID:   opts.NewID,
	}
	if s.clock == nil {
		s.clock = clock.Real{}
	}
	if s.newID == nil {
		s.newID = newUUIDv7
	}
	return s
}

func newUUIDv7() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate alert id")
	}
	return id.String(), nil
}

// Load replaces the in-memory log with the backend contents. It is meant
// to run once at startup, before any Append.
func (s *Store) Load(ctx context.Context) (int, error) {
	if s.backend == nil {
		return 0, nil
	}
	persisted, err := s.backend.ListAlerts(ctx)
	if err != nil {
		return 0, errs.Storage(err, "failed to load alerts")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.alerts = make([]models.Alert, 0, len(persisted))
	s.index = make(map[string]int, len(persisted))
	for _, a := range persisted {
		if _, dup := s.index[a.ID]; dup {
			return 0, errs.Conflict(a.ID)
		}
		if n := len(s.alerts); n > 0 && a.DetectedAt.Before(s.alerts[n-1].DetectedAt) {
			a.DetectedAt = s.alerts[n-1].DetectedAt
		}
		s.index[a.ID] = len(s.alerts)
		s.alerts = append(s.alerts, *a)
	}
	return len(s.alerts), nil
}

// OnAppend registers an observer. Observers run synchronously on the
// appending goroutine and must not call Append.
func (s *Store) OnAppend(fn Observer) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.observers = append(s.observers, fn)
}

// Append validates alert, assigns an id and detection time if absent and
// adds it to the end of the log. A detection time earlier than the last
// entry is raised to the last entry's time.
func (s *Store) Append(ctx context.Context, alert models.Alert) (string, error) {
	if err := alert.Validate(); err != nil {
		return "", err
	}
	alert.Acknowledged = false

	s.mu.Lock()

	if alert.ID == "" {
		id, err := s.newID()
		if err != nil {
			s.mu.Unlock()
			return "", err
		}
		alert.ID = id
	}
	if _, dup := s.index[alert.ID]; dup {
		s.mu.Unlock()
		return "", errs.Conflict(alert.ID)
	}
	if alert.DetectedAt.IsZero() {
		alert.DetectedAt = s.clock.Now()
	}
	if n := len(s.alerts); n > 0 && alert.DetectedAt.Before(s.alerts[n-1].DetectedAt) {
		alert.DetectedAt = s.alerts[n-1].DetectedAt
	}

	if s.backend != nil {
		if err := s.backend.InsertAlert(ctx, &alert); err != nil {
			s.mu.Unlock()
			return "", errs.Storage(err, "failed to persist alert", goerr.V("alert_id", alert.ID))
		}
	}

	s.index[alert.ID] = len(s.alerts)
	s.alerts = append(s.alerts, alert)

	// Take notifyMu before releasing mu so concurrent appends notify in log order.
	s.notifyMu.Lock()
	s.mu.Unlock()
	for _, fn := range s.observers {
		fn(alert)
	}
	s.notifyMu.Unlock()

	return alert.ID, nil
}

// Get returns a copy of the alert with the given id.
func (s *Store) Get(id string) (models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[id]
	if !ok {
		return models.Alert{}, errs.NotFound(id)
	}
	return s.alerts[i], nil
}

// Acknowledge marks the alert acknowledged. Acknowledging twice is a no-op.
func (s *Store) Acknowledge(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok {
		return errs.NotFound(id)
	}
	if s.alerts[i].Acknowledged {
		return nil
	}
	if s.backend != nil {
		if err := s.backend.AcknowledgeAlert(ctx, id); err != nil {
			return errs.Storage(err, "failed to persist acknowledgement", goerr.V("alert_id", id))
		}
	}
	s.alerts[i].Acknowledged = true
	return nil
}

// List returns a copy of the log in insertion order.
func (s *Store) List() []models.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Alert, len(s.alerts))
	copy(out, s.alerts)
	return out
}

// Len returns the number of stored alerts.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.alerts)
}
