// Package notifier delivers dispatcher events to external channels such as
// Slack, Teams, or a generic JSON webhook.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/good-yellow-bee/carealert/internal/clock"
	"github.com/good-yellow-bee/carealert/internal/dispatch"
	"github.com/good-yellow-bee/carealert/internal/errs"
	"github.com/good-yellow-bee/carealert/internal/logging"
	"github.com/good-yellow-bee/carealert/internal/models"
)

// Event identifies the dispatcher transition a Message reports.
type Event string

const (
	EventVisible  Event = "visible"
	EventResolved Event = "resolved"
)

// Message is the channel-neutral payload handed to every Notifier.
type Message struct {
	Event       Event                `json:"event"`
	AlertID     string               `json:"alert_id"`
	SymptomType models.SymptomType   `json:"symptom_type"`
	Severity    int                  `json:"severity"`
	Critical    bool                 `json:"critical"`
	Rule        string               `json:"rule,omitempty"`
	DetectedAt  time.Time            `json:"detected_at"`
	ExpiresAt   time.Time            `json:"expires_at,omitzero"`
	Reason      models.ResolveReason `json:"reason,omitempty"`
	At          time.Time            `json:"at"`
	// SymptomText is only populated when the fan-out is configured to share it.
	SymptomText string `json:"symptom_text,omitempty" masq:"secret"`
}

// Notifier is the interface for all notification channels.
type Notifier interface {
	// Name returns the notifier name (e.g., "slack", "webhook").
	Name() string
	// Send delivers a single message.
	Send(ctx context.Context, msg Message) error
	// Close releases any resources.
	Close() error
}

// FanoutOptions configures a Fanout.
type FanoutOptions struct {
	// QueueSize bounds the number of messages waiting for delivery.
	QueueSize int
	// SendTimeout bounds each notifier call.
	SendTimeout time.Duration
	// RateLimit applies to visible events; resolutions are never limited.
	RateLimit RateLimitConfig
	// NotifyResolved also delivers acknowledgement and expiry events.
	NotifyResolved bool
	// IncludeText copies the patient's symptom text into messages.
	IncludeText bool
	Clock       clock.Clock
	// OnResult is called after every notifier call.
	OnResult func(notifier string, err error)
	// OnDrop is called for every message that is not delivered.
	OnDrop func(msg Message, err error)
}

// DefaultFanoutOptions returns default fan-out options.
func DefaultFanoutOptions() *FanoutOptions {
	return &FanoutOptions{
		QueueSize:      256,
		SendTimeout:    10 * time.Second,
		RateLimit:      DefaultRateLimitConfig(),
		NotifyResolved: true,
		Clock:          clock.Real{},
	}
}

// FanoutStats tracks delivery counters.
type FanoutStats struct {
	Queued      atomic.Int64
	Delivered   atomic.Int64
	Failed      atomic.Int64
	Dropped     atomic.Int64
	RateLimited atomic.Int64
}

// FanoutStatsSnapshot is a point-in-time copy of FanoutStats.
type FanoutStatsSnapshot struct {
	Queued      int64 `json:"queued"`
	Delivered   int64 `json:"delivered"`
	Failed      int64 `json:"failed"`
	Dropped     int64 `json:"dropped"`
	RateLimited int64 `json:"rate_limited"`
}

// Fanout is a dispatch.Subscriber that forwards events to registered
// notifiers from a background worker, so slow channels never hold up the
// dispatcher.
type Fanout struct {
	mu        sync.RWMutex
	notifiers map[string]Notifier

	opts    FanoutOptions
	limiter *RateLimiter
	queue   chan Message
	stats   FanoutStats

	// visible holds alerts awaiting resolution, resolving those whose
	// resolved message is queued, and suppressed those whose visible message
	// was rate limited. An alert leaves all three once its resolution is
	// processed or can no longer arrive.
	trackMu    sync.Mutex
	visible    map[string]Message
	resolving  map[string]struct{}
	suppressed map[string]struct{}

	done      chan struct{}
	closeOnce sync.Once
}

var _ dispatch.Subscriber = (*Fanout)(nil)

// NewFanout creates a fan-out. A nil opts uses DefaultFanoutOptions.
func NewFanout(opts *FanoutOptions) *Fanout {
	if opts == nil {
		opts = DefaultFanoutOptions()
	}
	o := *opts
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 10 * time.Second
	}
	if o.Clock == nil {
		o.Clock = clock.Real{}
	}
	return &Fanout{
		notifiers:  make(map[string]Notifier),
		opts:       o,
		limiter:    NewRateLimiter(o.RateLimit, o.Clock),
		queue:      make(chan Message, o.QueueSize),
		visible:    make(map[string]Message),
		resolving:  make(map[string]struct{}),
		suppressed: make(map[string]struct{}),
		done:       make(chan struct{}),
	}
}

// Register adds a notifier, replacing any notifier with the same name.
func (f *Fanout) Register(n Notifier) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifiers[n.Name()] = n
}

// Unregister removes a notifier.
func (f *Fanout) Unregister(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.notifiers, name)
}

// Get returns a notifier by name.
func (f *Fanout) Get(name string) (Notifier, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n, ok := f.notifiers[name]
	return n, ok
}

// Names returns the registered notifier names in sorted order.
func (f *Fanout) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.notifiers))
	for name := range f.notifiers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OnVisible queues a visible event.
func (f *Fanout) OnVisible(n dispatch.Notification) {
	msg := Message{
		Event:       EventVisible,
		AlertID:     n.AlertID,
		SymptomType: n.Alert.SymptomType,
		Severity:    n.Alert.SeverityScore,
		Critical:    n.Critical,
		Rule:        n.Alert.Rule,
		DetectedAt:  n.Alert.DetectedAt,
		ExpiresAt:   n.ExpiresAt,
		At:          n.VisibleAt,
	}
	if f.opts.IncludeText {
		msg.SymptomText = n.Alert.SymptomText
	}

	f.trackMu.Lock()
	f.visible[n.AlertID] = msg
	f.trackMu.Unlock()

	f.enqueue(msg)
}

// OnResolved queues a resolved event for a previously visible alert.
func (f *Fanout) OnResolved(alertID string, reason models.ResolveReason) {
	f.trackMu.Lock()
	msg, ok := f.visible[alertID]
	delete(f.visible, alertID)
	if !ok || !f.opts.NotifyResolved {
		delete(f.suppressed, alertID)
		f.trackMu.Unlock()
		return
	}
	f.resolving[alertID] = struct{}{}
	f.trackMu.Unlock()

	msg.Event = EventResolved
	msg.Reason = reason
	msg.At = f.opts.Clock.Now()
	if !f.enqueue(msg) {
		f.forget(alertID)
	}
}

// Tracked returns how many alerts the fan-out is still holding state for.
func (f *Fanout) Tracked() int {
	f.trackMu.Lock()
	defer f.trackMu.Unlock()
	return len(f.visible) + len(f.resolving) + len(f.suppressed)
}

func (f *Fanout) forget(alertID string) {
	f.trackMu.Lock()
	delete(f.resolving, alertID)
	delete(f.suppressed, alertID)
	f.trackMu.Unlock()
}

func (f *Fanout) enqueue(msg Message) bool {
	select {
	case <-f.done:
		f.drop(msg, goerr.New("notifier fan-out is closed", goerr.V("alert_id", msg.AlertID)))
		return false
	default:
	}

	select {
	case f.queue <- msg:
		f.stats.Queued.Add(1)
		return true
	default:
		f.drop(msg, goerr.New("notification queue is full",
			goerr.V("alert_id", msg.AlertID), goerr.V("queue_size", f.opts.QueueSize)))
		return false
	}
}

func (f *Fanout) drop(msg Message, err error) {
	f.stats.Dropped.Add(1)
	if f.opts.OnDrop != nil {
		f.opts.OnDrop(msg, err)
	}
}

// Run delivers queued messages until ctx is cancelled or the fan-out is closed.
func (f *Fanout) Run(ctx context.Context) error {
	logger := logging.From(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-f.done:
			return nil
		case msg := <-f.queue:
			if err := f.process(ctx, msg); err != nil {
				logger.Warn("notification not delivered",
					"alert_id", msg.AlertID,
					"event", msg.Event,
					logging.ErrAttr(err),
				)
			}
		}
	}
}

func (f *Fanout) process(ctx context.Context, msg Message) error {
	switch msg.Event {
	case EventVisible:
		if !f.limiter.Allow() {
			// Only remember the suppression while a resolved message can
			// still follow.
			f.trackMu.Lock()
			_, open := f.visible[msg.AlertID]
			_, pending := f.resolving[msg.AlertID]
			if open || pending {
				f.suppressed[msg.AlertID] = struct{}{}
			}
			f.trackMu.Unlock()

			err := errs.RateLimited("notification rate limited", goerr.V("alert_id", msg.AlertID))
			f.stats.RateLimited.Add(1)
			f.drop(msg, err)
			return err
		}
	case EventResolved:
		f.trackMu.Lock()
		_, skip := f.suppressed[msg.AlertID]
		delete(f.suppressed, msg.AlertID)
		delete(f.resolving, msg.AlertID)
		f.trackMu.Unlock()
		if skip {
			return nil
		}
	}
	return f.Deliver(ctx, msg)
}

// Deliver sends msg to every registered notifier synchronously. It bypasses
// the queue and the rate limiter.
func (f *Fanout) Deliver(ctx context.Context, msg Message) error {
	f.mu.RLock()
	targets := make([]Notifier, 0, len(f.notifiers))
	for _, n := range f.notifiers {
		targets = append(targets, n)
	}
	f.mu.RUnlock()
	sort.Slice(targets, func(i, j int) bool { return targets[i].Name() < targets[j].Name() })

	var failures []error
	for _, n := range targets {
		sendCtx, cancel := context.WithTimeout(ctx, f.opts.SendTimeout)
		err := n.Send(sendCtx, msg)
		cancel()

		if f.opts.OnResult != nil {
			f.opts.OnResult(n.Name(), err)
		}
		if err != nil {
			f.stats.Failed.Add(1)
			failures = append(failures, fmt.Errorf("%s: %w", n.Name(), err))
			continue
		}
		f.stats.Delivered.Add(1)
	}

	if len(failures) > 0 {
		return goerr.Wrap(errors.Join(failures...), "notification delivery failed",
			goerr.V("alert_id", msg.AlertID), goerr.V("failed", len(failures)))
	}
	return nil
}

// Stats returns a snapshot of the delivery counters.
func (f *Fanout) Stats() FanoutStatsSnapshot {
	return FanoutStatsSnapshot{
		Queued:      f.stats.Queued.Load(),
		Delivered:   f.stats.Delivered.Load(),
		Failed:      f.stats.Failed.Load(),
		Dropped:     f.stats.Dropped.Load(),
		RateLimited: f.stats.RateLimited.Load(),
	}
}

// RateLimitStats returns the rate limiter statistics.
func (f *Fanout) RateLimitStats() RateLimitStats {
	return f.limiter.Stats()
}

// Close stops the worker and closes all registered notifiers. Messages still
// queued are discarded.
func (f *Fanout) Close() error {
	f.closeOnce.Do(func() { close(f.done) })

	f.mu.Lock()
	defer f.mu.Unlock()

	var failures []error
	for name, n := range f.notifiers {
		if err := n.Close(); err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", name, err))
		}
	}
	f.notifiers = make(map[string]Notifier)

	if len(failures) > 0 {
		return goerr.Wrap(errors.Join(failures...), "close notifiers")
	}
	return nil
}
