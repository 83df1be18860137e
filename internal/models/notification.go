package models

import "time"

// NotificationState is the lifecycle position of a dispatcher notification.
type NotificationState string

const (
	StatePending      NotificationState = "pending"
	StateVisible      NotificationState = "visible"
	StateAcknowledged NotificationState = "acknowledged"
	StateExpired      NotificationState = "expired"
)

// Terminal reports whether no further transition is possible.
func (s NotificationState) Terminal() bool {
	return s == StateAcknowledged || s == StateExpired
}

// ResolveReason is how a visible notification left the active set.
type ResolveReason string

const (
	ReasonAcknowledged ResolveReason = "acknowledged"
	ReasonExpired      ResolveReason = "expired"
)

// State returns the terminal state reached for reason r.
func (r ResolveReason) State() NotificationState {
	switch r {
	case ReasonAcknowledged:
		return StateAcknowledged
	case ReasonExpired:
		return StateExpired
	}
	return ""
}

// NotificationRecord is the history entry for one notification. It is
// written when the notification becomes visible and completed when it
// resolves.
type NotificationRecord struct {
	ID          string            `json:"id"`
	AlertID     string            `json:"alert_id"`
	SymptomType SymptomType       `json:"symptom_type"`
	Severity    int               `json:"severity_score"`
	Critical    bool              `json:"critical"`
	State       NotificationState `json:"state"`
	VisibleAt   time.Time         `json:"visible_at"`
	ResolvedAt  time.Time         `json:"resolved_at,omitzero"`
	Reason      ResolveReason     `json:"reason,omitempty"`
}
