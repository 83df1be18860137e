package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/good-yellow-bee/carealert/internal/clock"
	"github.com/good-yellow-bee/carealert/internal/dispatch"
	"github.com/good-yellow-bee/carealert/internal/errs"
	"github.com/good-yellow-bee/carealert/internal/models"
)

var testStart = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// recordingNotifier records messages and can be configured to fail.
type recordingNotifier struct {
	name      string
	shouldErr bool

	mu   sync.Mutex
	msgs []Message
	sent chan Message
}

func newRecordingNotifier(name string) *recordingNotifier {
	return &recordingNotifier{name: name, sent: make(chan Message, 16)}
}

func (m *recordingNotifier) Name() string { return m.name }

func (m *recordingNotifier) Send(ctx context.Context, msg Message) error {
	m.mu.Lock()
	m.msgs = append(m.msgs, msg)
	m.mu.Unlock()
	m.sent <- msg
	if m.shouldErr {
		return errors.New("mock send error")
	}
	return nil
}

func (m *recordingNotifier) Close() error { return nil }

func (m *recordingNotifier) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.msgs)
}

func (m *recordingNotifier) next(t *testing.T) Message {
	t.Helper()
	select {
	case msg := <-m.sent:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
		return Message{}
	}
}

func testNotification(id string, severity int) dispatch.Notification {
	return dispatch.Notification{
		AlertID: id,
		Alert: models.Alert{
			ID:            id,
			SymptomText:   "severe chest pain",
			SymptomType:   models.SymptomChestPain,
			SeverityScore: severity,
			DetectedAt:    testStart,
			Rule:          "cardiac-chest-pain",
		},
		State:     dispatch.StateVisible,
		Critical:  severity >= 5,
		VisibleAt: testStart,
		ExpiresAt: testStart.Add(30 * time.Second),
	}
}

func testFanout(opts *FanoutOptions) (*Fanout, context.CancelFunc) {
	f := NewFanout(opts)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = f.Run(ctx) }()
	return f, cancel
}

func TestFanoutDeliversVisibleAndResolved(t *testing.T) {
	fake := clock.NewFake(testStart)
	opts := DefaultFanoutOptions()
	opts.Clock = fake

	f, cancel := testFanout(opts)
	defer cancel()

	rec := newRecordingNotifier("rec")
	f.Register(rec)

	f.OnVisible(testNotification("a-1", 5))
	visible := rec.next(t)
	if visible.Event != EventVisible {
		t.Errorf("event = %q, want %q", visible.Event, EventVisible)
	}
	if !visible.Critical || visible.Severity != 5 {
		t.Errorf("critical = %v severity = %d, want true 5", visible.Critical, visible.Severity)
	}
	if visible.SymptomText != "" {
		t.Errorf("symptom text leaked without IncludeText: %q", visible.SymptomText)
	}

	fake.Advance(4 * time.Second)
	f.OnResolved("a-1", models.ReasonAcknowledged)
	resolved := rec.next(t)
	if resolved.Event != EventResolved || resolved.Reason != models.ReasonAcknowledged {
		t.Errorf("resolved = %+v", resolved)
	}
	if !resolved.At.Equal(testStart.Add(4 * time.Second)) {
		t.Errorf("resolved at = %v, want %v", resolved.At, testStart.Add(4*time.Second))
	}
	if resolved.SymptomType != models.SymptomChestPain {
		t.Errorf("resolved symptom type = %q", resolved.SymptomType)
	}
}

func TestFanoutIncludeText(t *testing.T) {
	opts := DefaultFanoutOptions()
	opts.IncludeText = true
	f, cancel := testFanout(opts)
	defer cancel()

	rec := newRecordingNotifier("rec")
	f.Register(rec)

	f.OnVisible(testNotification("a-1", 4))
	if got := rec.next(t).SymptomText; got != "severe chest pain" {
		t.Errorf("symptom text = %q", got)
	}
}

func TestFanoutResolvedUnknownIsIgnored(t *testing.T) {
	f := NewFanout(nil)
	f.OnResolved("never-visible", models.ReasonExpired)
	if got := f.Stats().Queued; got != 0 {
		t.Errorf("queued = %d, want 0", got)
	}
}

func TestFanoutNotifyResolvedDisabled(t *testing.T) {
	opts := DefaultFanoutOptions()
	opts.NotifyResolved = false
	f := NewFanout(opts)

	f.OnVisible(testNotification("a-1", 4))
	f.OnResolved("a-1", models.ReasonExpired)
	if got := f.Stats().Queued; got != 1 {
		t.Errorf("queued = %d, want 1", got)
	}
}

func TestFanoutRateLimitSuppressesResolution(t *testing.T) {
	fake := clock.NewFake(testStart)
	opts := DefaultFanoutOptions()
	opts.Clock = fake
	opts.RateLimit = RateLimitConfig{MaxPerWindow: 1, Window: time.Minute, Enabled: true}

	var dropMu sync.Mutex
	var dropped []error
	opts.OnDrop = func(msg Message, err error) {
		dropMu.Lock()
		dropped = append(dropped, err)
		dropMu.Unlock()
	}

	f := NewFanout(opts)
	rec := newRecordingNotifier("rec")
	f.Register(rec)
	ctx := context.Background()

	f.OnVisible(testNotification("a-1", 4))
	f.OnVisible(testNotification("a-2", 4))
	f.OnResolved("a-2", models.ReasonAcknowledged)

	for i := 0; i < 3; i++ {
		_ = f.process(ctx, <-f.queue)
	}

	if got := rec.count(); got != 1 {
		t.Errorf("delivered = %d, want 1", got)
	}
	stats := f.Stats()
	if stats.RateLimited != 1 {
		t.Errorf("rate limited = %d, want 1", stats.RateLimited)
	}
	dropMu.Lock()
	defer dropMu.Unlock()
	if len(dropped) != 1 || !errs.IsRateLimited(dropped[0]) {
		t.Errorf("dropped = %v, want one rate limit error", dropped)
	}
}

func TestFanoutForgetsResolvedAlerts(t *testing.T) {
	tests := []struct {
		name           string
		notifyResolved bool
		queueSize      int
		// processFirst drains the visible message before the alert resolves.
		processFirst bool
	}{
		{name: "resolved not sent, processed late", queueSize: 256},
		{name: "resolved not sent, processed early", queueSize: 256, processFirst: true},
		{name: "resolved sent", notifyResolved: true, queueSize: 256},
		{name: "resolved dropped on full queue", notifyResolved: true, queueSize: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultFanoutOptions()
			opts.Clock = clock.NewFake(testStart)
			opts.NotifyResolved = tt.notifyResolved
			opts.QueueSize = tt.queueSize
			opts.RateLimit = RateLimitConfig{MaxPerWindow: 1, Window: time.Hour, Enabled: true}
			f := NewFanout(opts)
			f.Register(newRecordingNotifier("rec"))
			ctx := context.Background()

			drain := func() {
				for {
					select {
					case msg := <-f.queue:
						_ = f.process(ctx, msg)
					default:
						return
					}
				}
			}

			for i := 0; i < 100; i++ {
				id := fmt.Sprintf("a-%d", i)
				f.OnVisible(testNotification(id, 4))
				if tt.processFirst {
					drain()
				}
				f.OnResolved(id, models.ReasonExpired)
				drain()
			}

			if got := f.Tracked(); got != 0 {
				t.Errorf("tracked alerts after all resolved = %d, want 0", got)
			}
			if got := f.Stats().RateLimited; got != 99 {
				t.Errorf("rate limited = %d, want 99", got)
			}
		})
	}
}

func TestFanoutQueueFull(t *testing.T) {
	opts := DefaultFanoutOptions()
	opts.QueueSize = 1
	f := NewFanout(opts)

	f.OnVisible(testNotification("a-1", 4))
	f.OnVisible(testNotification("a-2", 4))

	stats := f.Stats()
	if stats.Queued != 1 || stats.Dropped != 1 {
		t.Errorf("queued = %d dropped = %d, want 1 1", stats.Queued, stats.Dropped)
	}
}

func TestFanoutDeliverPartialFailure(t *testing.T) {
	var results []string
	opts := DefaultFanoutOptions()
	opts.OnResult = func(name string, err error) {
		status := "ok"
		if err != nil {
			status = "error"
		}
		results = append(results, name+":"+status)
	}
	f := NewFanout(opts)

	failing := newRecordingNotifier("failing")
	failing.shouldErr = true
	f.Register(failing)
	f.Register(newRecordingNotifier("success"))

	err := f.Deliver(context.Background(), Message{Event: EventVisible, AlertID: "a-1"})
	if err == nil {
		t.Fatal("expected error due to partial failure")
	}

	want := []string{"failing:error", "success:ok"}
	if len(results) != len(want) {
		t.Fatalf("results = %v, want %v", results, want)
	}
	for i := range want {
		if results[i] != want[i] {
			t.Errorf("results[%d] = %q, want %q", i, results[i], want[i])
		}
	}

	stats := f.Stats()
	if stats.Delivered != 1 || stats.Failed != 1 {
		t.Errorf("delivered = %d failed = %d, want 1 1", stats.Delivered, stats.Failed)
	}
}

func TestFanoutRegistry(t *testing.T) {
	f := NewFanout(nil)
	f.Register(newRecordingNotifier("slack"))
	f.Register(newRecordingNotifier("teams"))

	if _, ok := f.Get("slack"); !ok {
		t.Error("slack should be registered")
	}
	names := f.Names()
	if len(names) != 2 || names[0] != "slack" || names[1] != "teams" {
		t.Errorf("names = %v", names)
	}

	f.Unregister("slack")
	if _, ok := f.Get("slack"); ok {
		t.Error("slack should be unregistered")
	}
}

func TestFanoutClose(t *testing.T) {
	f, cancel := testFanout(nil)
	defer cancel()
	f.Register(newRecordingNotifier("rec"))

	if err := f.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if len(f.Names()) != 0 {
		t.Error("notifiers should be cleared after Close")
	}

	f.OnVisible(testNotification("a-1", 4))
	if got := f.Stats().Dropped; got != 1 {
		t.Errorf("dropped after close = %d, want 1", got)
	}
}
