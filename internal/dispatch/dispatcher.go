// Package dispatch surfaces newly stored high-severity alerts to subscribers
// and resolves them by operator acknowledgement or auto-expiry.
//
// Each notification moves pending -> visible -> {acknowledged, expired}.
// Both terminal transitions happen at most once: the expiry timer is
// cancelled on acknowledgement, and a timer that fires anyway re-checks that
// it still owns the notification before resolving it.
package dispatch

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/good-yellow-bee/carealert/internal/clock"
	"github.com/good-yellow-bee/carealert/internal/models"
)

// Defaults.
const (
	DefaultThreshold        = 3
	DefaultCriticalSeverity = 5
	DefaultTimeout          = 30 * time.Second
)

// Acknowledger records acknowledgement on the stored alert.
type Acknowledger interface {
	Acknowledge(ctx context.Context, id string) error
}

// Options configures a Dispatcher.
type Options struct {
	// Threshold is the minimum severity that is dispatched.
	Threshold int
	// CriticalSeverity is the minimum severity flagged critical.
	CriticalSeverity int
	// AutoExpire and Timeout are the defaults for Dispatch.
	AutoExpire bool
	Timeout    time.Duration
	Clock      clock.Clock
}

// DefaultOptions returns default dispatcher options.
func DefaultOptions() *Options {
	return &Options{
		Threshold:        DefaultThreshold,
		CriticalSeverity: DefaultCriticalSeverity,
		AutoExpire:       true,
		Timeout:          DefaultTimeout,
		Clock:            clock.Real{},
	}
}

// DispatchOptions overrides the expiry policy of a single notification.
type DispatchOptions struct {
	AutoExpire bool
	Timeout    time.Duration
}

// Stats tracks dispatcher statistics using atomic operations for lock-free access.
type Stats struct {
	Dispatched   atomic.Int64
	BelowThresh  atomic.Int64
	Acknowledged atomic.Int64
	Expired      atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Dispatched     int64 `json:"dispatched"`
	BelowThreshold int64 `json:"below_threshold"`
	Acknowledged   int64 `json:"acknowledged"`
	Expired        int64 `json:"expired"`
	Active         int   `json:"active"`
}

type entry struct {
	n     Notification
	seq   uint64
	timer clock.Timer
}

type event struct {
	visible  *Notification
	resolved string
	reason   models.ResolveReason
}

// Dispatcher owns the set of visible notifications.
type Dispatcher struct {
	mu     sync.Mutex
	active map[string]*entry
	seq    uint64
	closed bool

	// deliverMu keeps subscriber delivery in state-change order.
	deliverMu sync.Mutex
	subs      []Subscriber

	opts  Options
	acker Acknowledger
	stats *Stats
}

// New creates a dispatcher. acker is called by Acknowledge before the
// notification resolves; it is normally the alert store.
func New(acker Acknowledger, opts *Options) *Dispatcher {
	o := *DefaultOptions()
	if opts != nil {
		o = *opts
		if o.Threshold <= 0 {
			o.Threshold = DefaultThreshold
		}
		if o.CriticalSeverity <= 0 {
			o.CriticalSeverity = DefaultCriticalSeverity
		}
		if o.Timeout <= 0 {
			o.Timeout = DefaultTimeout
		}
		if o.Clock == nil {
			o.Clock = clock.Real{}
		}
	}
	return &Dispatcher{
		active: make(map[string]*entry),
		opts:   o,
		acker:  acker,
		stats:  &Stats{},
	}
}

// Subscribe registers s for all future events.
func (d *Dispatcher) Subscribe(s Subscriber) {
	d.deliverMu.Lock()
	defer d.deliverMu.Unlock()
	d.subs = append(d.subs, s)
}

// Threshold returns the minimum dispatched severity.
func (d *Dispatcher) Threshold() int { return d.opts.Threshold }

// Dispatch surfaces alert with the default expiry policy. It returns false
// when the alert is below threshold or already visible.
func (d *Dispatcher) Dispatch(alert models.Alert) (Notification, bool) {
	return d.DispatchWith(alert, DispatchOptions{AutoExpire: d.opts.AutoExpire, Timeout: d.opts.Timeout})
}

// DispatchWith surfaces alert with an explicit expiry policy.
func (d *Dispatcher) DispatchWith(alert models.Alert, o DispatchOptions) (Notification, bool) {
	if alert.SeverityScore < d.opts.Threshold {
		d.stats.BelowThresh.Add(1)
		return Notification{}, false
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return Notification{}, false
	}
	if existing, ok := d.active[alert.ID]; ok {
		n := existing.n
		d.mu.Unlock()
		return n, false
	}

	d.seq++
	e := &entry{
		seq: d.seq,
		n: Notification{
			AlertID:  alert.ID,
			Alert:    alert,
			State:    StatePending,
			Critical: alert.SeverityScore >= d.opts.CriticalSeverity,
		},
	}

	now := d.opts.Clock.Now()
	e.n.State = StateVisible
	e.n.VisibleAt = now
	if o.AutoExpire {
		timeout := o.Timeout
		if timeout <= 0 {
			timeout = d.opts.Timeout
		}
		e.n.ExpiresAt = now.Add(timeout)
		e.timer = d.opts.Clock.AfterFunc(timeout, func() { d.expire(alert.ID, e) })
	}
	d.active[alert.ID] = e
	d.stats.Dispatched.Add(1)

	n := e.n
	d.emitLocked(event{visible: &n})
	return n, true
}

// expire resolves the notification if e still owns it.
func (d *Dispatcher) expire(alertID string, e *entry) {
	d.mu.Lock()
	cur, ok := d.active[alertID]
	if !ok || cur != e {
		d.mu.Unlock()
		return
	}
	delete(d.active, alertID)
	d.stats.Expired.Add(1)
	d.emitLocked(event{resolved: alertID, reason: models.ReasonExpired})
}

// Acknowledge marks the stored alert acknowledged and resolves its visible
// notification, if any. It is idempotent; unknown ids are a NotFoundError
// from the Acknowledger.
//
// The notification is claimed before the Acknowledger runs so an expiry
// timer firing meanwhile finds nothing to resolve. If the Acknowledger fails
// the claim is returned.
func (d *Dispatcher) Acknowledge(ctx context.Context, alertID string) error {
	d.mu.Lock()
	e, claimed := d.active[alertID]
	if claimed {
		delete(d.active, alertID)
	}
	d.mu.Unlock()

	if d.acker != nil {
		if err := d.acker.Acknowledge(ctx, alertID); err != nil {
			if claimed {
				d.restore(alertID, e)
			}
			return err
		}
	}
	if !claimed {
		return nil
	}

	if e.timer != nil {
		e.timer.Stop()
	}
	d.mu.Lock()
	d.stats.Acknowledged.Add(1)
	d.emitLocked(event{resolved: alertID, reason: models.ReasonAcknowledged})
	return nil
}

// restore puts a claimed entry back after a failed acknowledgement. An
// entry whose expiry passed while it was claimed expires now.
func (d *Dispatcher) restore(alertID string, e *entry) {
	d.mu.Lock()
	if _, taken := d.active[alertID]; d.closed || taken {
		d.mu.Unlock()
		if e.timer != nil {
			e.timer.Stop()
		}
		return
	}
	d.active[alertID] = e
	overdue := e.timer != nil && !d.opts.Clock.Now().Before(e.n.ExpiresAt)
	d.mu.Unlock()

	if overdue {
		d.expire(alertID, e)
	}
}

// emitLocked releases d.mu and delivers ev to subscribers. Taking deliverMu
// before unlocking keeps delivery in the order state changed.
func (d *Dispatcher) emitLocked(ev event) {
	d.deliverMu.Lock()
	d.mu.Unlock()
	defer d.deliverMu.Unlock()

	for _, s := range d.subs {
		if ev.visible != nil {
			s.OnVisible(*ev.visible)
		} else {
			s.OnResolved(ev.resolved, ev.reason)
		}
	}
}

// Get returns the visible notification for alertID.
func (d *Dispatcher) Get(alertID string) (Notification, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.active[alertID]
	if !ok {
		return Notification{}, false
	}
	return e.n, true
}

// Active returns visible notifications in the order they became visible.
func (d *Dispatcher) Active() []Notification {
	d.mu.Lock()
	entries := make([]*entry, 0, len(d.active))
	for _, e := range d.active {
		entries = append(entries, e)
	}
	d.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]Notification, len(entries))
	for i, e := range entries {
		out[i] = e.n
	}
	return out
}

// Stats returns a snapshot of dispatcher statistics.
func (d *Dispatcher) Stats() StatsSnapshot {
	d.mu.Lock()
	active := len(d.active)
	d.mu.Unlock()
	return StatsSnapshot{
		Dispatched:     d.stats.Dispatched.Load(),
		BelowThreshold: d.stats.BelowThresh.Load(),
		Acknowledged:   d.stats.Acknowledged.Load(),
		Expired:        d.stats.Expired.Load(),
		Active:         active,
	}
}

// Close cancels every pending expiry. Visible notifications are dropped
// without events and later Dispatch calls are ignored.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	for id, e := range d.active {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(d.active, id)
	}
}
