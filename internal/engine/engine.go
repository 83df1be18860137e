// Package engine wires classification, storage, and dispatch into the
// report and acknowledge operations exposed to transports.
package engine

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/good-yellow-bee/carealert/internal/classifier"
	"github.com/good-yellow-bee/carealert/internal/clock"
	"github.com/good-yellow-bee/carealert/internal/dispatch"
	"github.com/good-yellow-bee/carealert/internal/filter"
	"github.com/good-yellow-bee/carealert/internal/logging"
	"github.com/good-yellow-bee/carealert/internal/models"
	"github.com/good-yellow-bee/carealert/internal/query"
	"github.com/good-yellow-bee/carealert/internal/store"
	"github.com/good-yellow-bee/carealert/internal/trends"
)

// Engine is the triage core shared by the HTTP API and the CLI.
type Engine struct {
	classifier *classifier.Classifier
	store      *store.Store
	dispatcher *dispatch.Dispatcher
	clock      clock.Clock
	compiler   *query.Compiler

	// onReport is called after an alert is stored.
	onReport func(models.Alert)
	onReject func(error)

	stats *Stats
}

// Stats tracks engine statistics using atomic operations for lock-free access.
type Stats struct {
	Reports  atomic.Int64
	Rejected atomic.Int64
	Failed   atomic.Int64
	byType   []atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Reports  int64                        `json:"reports"`
	Rejected int64                        `json:"rejected"`
	Failed   int64                        `json:"failed"`
	ByType   map[models.SymptomType]int64 `json:"by_type"`
}

// Options configures an Engine.
type Options struct {
	Clock clock.Clock
	// OnReport is called with every stored alert, for metrics.
	OnReport func(models.Alert)
	// OnReject is called when a report is refused before storage.
	OnReject func(error)
}

// New creates an engine. The dispatcher may be nil when acknowledgement is
// not needed, as in the CLI.
func New(c *classifier.Classifier, s *store.Store, d *dispatch.Dispatcher, opts *Options) *Engine {
	if opts == nil {
		opts = &Options{}
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	return &Engine{
		classifier: c,
		store:      s,
		dispatcher: d,
		clock:      clk,
		compiler:   query.NewCompiler(query.AlertFields, clk.Now),
		onReport:   opts.OnReport,
		onReject:   opts.OnReject,
		stats:      &Stats{byType: make([]atomic.Int64, len(models.SymptomTypes))},
	}
}

// Classify runs the classifier without storing anything.
func (e *Engine) Classify(text string) (classifier.Result, error) {
	return e.classifier.Classify(text)
}

// Report classifies text and appends the resulting alert. Dispatch follows
// through the store observer when a dispatcher watches the store.
func (e *Engine) Report(ctx context.Context, text string) (models.Alert, error) {
	res, err := e.classifier.Classify(text)
	if err != nil {
		e.stats.Rejected.Add(1)
		if e.onReject != nil {
			e.onReject(err)
		}
		return models.Alert{}, err
	}

	id, err := e.store.Append(ctx, models.Alert{
		SymptomText:   strings.TrimSpace(text),
		SymptomType:   res.SymptomType,
		SeverityScore: res.Severity,
		Rule:          res.Rule,
	})
	if err != nil {
		e.stats.Failed.Add(1)
		return models.Alert{}, err
	}

	alert, err := e.store.Get(id)
	if err != nil {
		return models.Alert{}, err
	}

	e.stats.Reports.Add(1)
	e.stats.byType[typeIndex(alert.SymptomType)].Add(1)
	if e.onReport != nil {
		e.onReport(alert)
	}

	logging.From(ctx).Info("alert stored",
		"alert_id", alert.ID,
		"symptom_type", alert.SymptomType,
		"severity", alert.SeverityScore,
		"rule", alert.Rule,
		"modifiers", res.Modifiers,
	)
	return alert, nil
}

// Acknowledge marks the alert acknowledged and resolves its notification.
func (e *Engine) Acknowledge(ctx context.Context, id string) error {
	if e.dispatcher == nil {
		return e.store.Acknowledge(ctx, id)
	}
	return e.dispatcher.Acknowledge(ctx, id)
}

// Get returns one alert.
func (e *Engine) Get(id string) (models.Alert, error) {
	return e.store.Get(id)
}

// Alerts returns every stored alert in insertion order.
func (e *Engine) Alerts() []models.Alert {
	return e.store.List()
}

// Search applies a filter state and an optional query expression.
func (e *Engine) Search(state filter.State, expression string) ([]models.Alert, error) {
	alerts, err := filter.Apply(e.store.List(), state)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(expression) == "" {
		return alerts, nil
	}

	q, err := e.compiler.Compile(expression)
	if err != nil {
		return nil, err
	}
	return q.Filter(alerts)
}

// Trends summarises the alerts selected by state as of now.
func (e *Engine) Trends(state filter.State) (trends.Snapshot, error) {
	alerts, err := filter.Apply(e.store.List(), state)
	if err != nil {
		return trends.Snapshot{}, err
	}
	return trends.Summarize(alerts, e.clock.Now()), nil
}

// Notifications returns visible notifications, oldest first.
func (e *Engine) Notifications() []dispatch.Notification {
	if e.dispatcher == nil {
		return nil
	}
	return e.dispatcher.Active()
}

// Rules returns the active rule table.
func (e *Engine) Rules() *classifier.Table {
	return e.classifier.Table()
}

// Stats returns a snapshot of engine statistics.
func (e *Engine) Stats() StatsSnapshot {
	snap := StatsSnapshot{
		Reports:  e.stats.Reports.Load(),
		Rejected: e.stats.Rejected.Load(),
		Failed:   e.stats.Failed.Load(),
		ByType:   make(map[models.SymptomType]int64, len(models.SymptomTypes)),
	}
	for i, t := range models.SymptomTypes {
		if n := e.stats.byType[i].Load(); n > 0 {
			snap.ByType[t] = n
		}
	}
	return snap
}

func typeIndex(t models.SymptomType) int {
	for i, s := range models.SymptomTypes {
		if s == t {
			return i
		}
	}
	return len(models.SymptomTypes) - 1
}
