package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/carealert/internal/clock"
	"github.com/good-yellow-bee/carealert/internal/logging"
	"github.com/good-yellow-bee/carealert/internal/models"
)

// HistoryWriter persists notification transitions.
type HistoryWriter interface {
	Create(ctx context.Context, record *models.NotificationRecord) error
	Resolve(ctx context.Context, id string, resolvedAt time.Time, reason models.ResolveReason) error
}

// HistoryRecorder is a Subscriber that writes a visible record when a
// notification appears and completes it when the notification resolves.
type HistoryRecorder struct {
	writer  HistoryWriter
	clock   clock.Clock
	timeout time.Duration

	mu sync.Mutex
	// records maps alert id to the id of its open history record.
	records map[string]string
}

// NewHistoryRecorder creates a recorder. A nil clock uses the system clock.
func NewHistoryRecorder(w HistoryWriter, c clock.Clock) *HistoryRecorder {
	if c == nil {
		c = clock.Real{}
	}
	return &HistoryRecorder{
		writer:  w,
		clock:   c,
		timeout: 5 * time.Second,
		records: make(map[string]string),
	}
}

func (r *HistoryRecorder) OnVisible(n Notification) {
	record := &models.NotificationRecord{
		ID:          uuid.NewString(),
		AlertID:     n.AlertID,
		SymptomType: n.Alert.SymptomType,
		Severity:    n.Alert.SeverityScore,
		Critical:    n.Critical,
		State:       models.StateVisible,
		VisibleAt:   n.VisibleAt,
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.writer.Create(ctx, record); err != nil {
		logging.Default().Error("failed to record visible notification",
			"alert_id", n.AlertID, logging.ErrAttr(err))
		return
	}

	r.mu.Lock()
	r.records[n.AlertID] = record.ID
	r.mu.Unlock()
}

func (r *HistoryRecorder) OnResolved(alertID string, reason models.ResolveReason) {
	r.mu.Lock()
	id, ok := r.records[alertID]
	delete(r.records, alertID)
	r.mu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.writer.Resolve(ctx, id, r.clock.Now(), reason); err != nil {
		logging.Default().Error("failed to record notification resolution",
			"alert_id", alertID, "reason", reason, logging.ErrAttr(err))
	}
}
