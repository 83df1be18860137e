package metrics

import (
	"strconv"
	"sync"

	"github.com/good-yellow-bee/carealert/internal/clock"
	"github.com/good-yellow-bee/carealert/internal/dispatch"
	"github.com/good-yellow-bee/carealert/internal/errs"
	"github.com/good-yellow-bee/carealert/internal/models"
	"github.com/good-yellow-bee/carealert/internal/notifier"
)

// DispatchObserver mirrors dispatcher events into the dispatch metrics.
type DispatchObserver struct {
	clock clock.Clock

	mu      sync.Mutex
	visible map[string]dispatch.Notification
}

var _ dispatch.Subscriber = (*DispatchObserver)(nil)

// NewDispatchObserver creates an observer. A nil clock uses the system clock.
func NewDispatchObserver(c clock.Clock) *DispatchObserver {
	if c == nil {
		c = clock.Real{}
	}
	return &DispatchObserver{clock: c, visible: make(map[string]dispatch.Notification)}
}

func (o *DispatchObserver) OnVisible(n dispatch.Notification) {
	o.mu.Lock()
	o.visible[n.AlertID] = n
	o.mu.Unlock()

	NotificationsActive.Inc()
	NotificationsDispatchedTotal.WithLabelValues(strconv.FormatBool(n.Critical)).Inc()
}

func (o *DispatchObserver) OnResolved(alertID string, reason models.ResolveReason) {
	o.mu.Lock()
	n, ok := o.visible[alertID]
	delete(o.visible, alertID)
	o.mu.Unlock()

	NotificationsResolvedTotal.WithLabelValues(string(reason)).Inc()
	if !ok {
		return
	}
	NotificationsActive.Dec()
	NotificationLatency.WithLabelValues(string(reason)).Observe(o.clock.Now().Sub(n.VisibleAt).Seconds())
}

// ObserveReport records one stored alert.
func ObserveReport(a models.Alert) {
	ReportsTotal.WithLabelValues(string(a.SymptomType)).Inc()
	ReportSeverity.Observe(float64(a.SeverityScore))
}

// ObserveRejected counts a report refused before classification.
func ObserveRejected(error) {
	ReportsRejectedTotal.Inc()
}

// ObserveDelivery is a notifier.FanoutOptions.OnResult hook.
func ObserveDelivery(name string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	NotifierDeliveriesTotal.WithLabelValues(name, result).Inc()
}

// ObserveDrop is a notifier.FanoutOptions.OnDrop hook.
func ObserveDrop(_ notifier.Message, err error) {
	reason := "queue_full"
	if errs.IsRateLimited(err) {
		reason = "rate_limited"
	}
	NotifierDroppedTotal.WithLabelValues(reason).Inc()
}

// ObserveRuleReload records a rule table reload attempt.
func ObserveRuleReload(enabledRules int, err error) {
	if err != nil {
		RuleReloadsTotal.WithLabelValues("failure").Inc()
		return
	}
	RuleReloadsTotal.WithLabelValues("success").Inc()
	RulesLoaded.Set(float64(enabledRules))
}
