package dispatch

import (
	"time"

	"github.com/good-yellow-bee/carealert/internal/models"
)

// State is the lifecycle position of a notification. Active notifications
// are always visible; terminal states appear in history records.
type State = models.NotificationState

const (
	StatePending = models.StatePending
	StateVisible = models.StateVisible
)

// Notification surfaces one high-severity alert to subscribers.
type Notification struct {
	AlertID string       `json:"alert_id"`
	Alert   models.Alert `json:"alert"`
	State   State        `json:"state"`
	// Critical marks severity-5 alerts for distinct presentation.
	Critical  bool      `json:"critical"`
	VisibleAt time.Time `json:"visible_at"`
	// ExpiresAt is zero when auto-expire is off for this notification.
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// Subscriber receives dispatcher events. Calls are made synchronously and in
// event order; implementations must not call back into the dispatcher.
type Subscriber interface {
	OnVisible(n Notification)
	OnResolved(alertID string, reason models.ResolveReason)
}

// SubscriberFuncs adapts plain functions to Subscriber. Nil fields are skipped.
type SubscriberFuncs struct {
	Visible  func(n Notification)
	Resolved func(alertID string, reason models.ResolveReason)
}

func (f SubscriberFuncs) OnVisible(n Notification) {
	if f.Visible != nil {
		f.Visible(n)
	}
}

func (f SubscriberFuncs) OnResolved(alertID string, reason models.ResolveReason) {
	if f.Resolved != nil {
		f.Resolved(alertID, reason)
	}
}
