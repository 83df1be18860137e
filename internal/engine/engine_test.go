package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/good-yellow-bee/carealert/internal/classifier"
	"github.com/good-yellow-bee/carealert/internal/clock"
	"github.com/good-yellow-bee/carealert/internal/dispatch"
	"github.com/good-yellow-bee/carealert/internal/engine"
	"github.com/good-yellow-bee/carealert/internal/errs"
	"github.com/good-yellow-bee/carealert/internal/filter"
	"github.com/good-yellow-bee/carealert/internal/models"
	"github.com/good-yellow-bee/carealert/internal/store"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	clock  *clock.Fake
	store  *store.Store
	disp   *dispatch.Dispatcher
	engine *engine.Engine
	stored []models.Alert
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{clock: clock.NewFake(t0)}
	f.store = store.New(&store.Options{Clock: f.clock})
	f.disp = dispatch.New(f.store, &dispatch.Options{
		AutoExpire: true,
		Timeout:    30 * time.Second,
		Clock:      f.clock,
	})
	f.disp.Watch(f.store)
	f.engine = engine.New(classifier.New(nil), f.store, f.disp, &engine.Options{
		Clock:    f.clock,
		OnReport: func(a models.Alert) { f.stored = append(f.stored, a) },
	})
	t.Cleanup(f.disp.Close)
	return f
}

func TestReport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alert, err := f.engine.Report(ctx, "  I have severe chest pain and can't breathe  ")
	gt.NoError(t, err)
	gt.Equal(t, alert.SymptomType, models.SymptomChestPain)
	gt.Equal(t, alert.SeverityScore, 5)
	gt.Equal(t, alert.SymptomText, "I have severe chest pain and can't breathe")
	gt.Equal(t, alert.DetectedAt, t0)
	gt.False(t, alert.Acknowledged)
	gt.A(t, f.stored).Length(1)

	n, ok := f.disp.Get(alert.ID)
	gt.True(t, ok)
	gt.True(t, n.Critical)
	gt.A(t, f.engine.Notifications()).Length(1)
}

func TestReportBelowThresholdIsNotDispatched(t *testing.T) {
	f := newFixture(t)

	alert, err := f.engine.Report(context.Background(), "my knee hurts a little")
	gt.NoError(t, err)
	gt.Equal(t, alert.SymptomType, models.SymptomOther)
	gt.Equal(t, alert.SeverityScore, 1)
	gt.Equal(t, f.store.Len(), 1)
	gt.A(t, f.engine.Notifications()).Length(0)
}

func TestReportEmptyText(t *testing.T) {
	f := newFixture(t)
	var rejected []error
	f.engine = engine.New(classifier.New(nil), f.store, f.disp, &engine.Options{
		Clock:    f.clock,
		OnReject: func(err error) { rejected = append(rejected, err) },
	})

	_, err := f.engine.Report(context.Background(), "   \n\t ")
	gt.Error(t, err)
	gt.True(t, errs.IsInvalidInput(err))
	gt.Equal(t, f.store.Len(), 0)
	gt.Equal(t, f.engine.Stats().Rejected, int64(1))
	gt.A(t, rejected).Length(1)
}

func TestAcknowledge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alert, err := f.engine.Report(ctx, "he is unconscious and not responding")
	gt.NoError(t, err)

	gt.NoError(t, f.engine.Acknowledge(ctx, alert.ID))
	got, err := f.engine.Get(alert.ID)
	gt.NoError(t, err)
	gt.True(t, got.Acknowledged)
	gt.A(t, f.engine.Notifications()).Length(0)

	err = f.engine.Acknowledge(ctx, "missing")
	gt.True(t, errs.IsNotFound(err))
}

func TestAcknowledgeWithoutDispatcher(t *testing.T) {
	s := store.New(nil)
	e := engine.New(classifier.New(nil), s, nil, nil)
	ctx := context.Background()

	alert, err := e.Report(ctx, "high fever since last night")
	gt.NoError(t, err)
	gt.NoError(t, e.Acknowledge(ctx, alert.ID))

	got, err := e.Get(alert.ID)
	gt.NoError(t, err)
	gt.True(t, got.Acknowledged)
	gt.V(t, e.Notifications()).Nil()
}

func TestSearch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, text := range []string{
		"severe chest pain",
		"mild fever",
		"she is having a seizure",
		"difficulty breathing after climbing stairs",
	} {
		_, err := f.engine.Report(ctx, text)
		gt.NoError(t, err)
		f.clock.Advance(time.Minute)
	}

	t.Run("default filter returns everything", func(t *testing.T) {
		got, err := f.engine.Search(filter.Default(), "")
		gt.NoError(t, err)
		gt.A(t, got).Length(4)
	})

	t.Run("severity filter", func(t *testing.T) {
		state, err := filter.Default().WithSeverityRange(4, 5)
		gt.NoError(t, err)
		got, err := f.engine.Search(state, "")
		gt.NoError(t, err)
		for _, a := range got {
			gt.True(t, a.SeverityScore >= 4)
		}
	})

	t.Run("query expression narrows", func(t *testing.T) {
		got, err := f.engine.Search(filter.Default(), `text contains "breath"`)
		gt.NoError(t, err)
		gt.A(t, got).Length(1)
		gt.Equal(t, got[0].SymptomType, models.SymptomBreathingDifficulty)
	})

	t.Run("invalid query", func(t *testing.T) {
		_, err := f.engine.Search(filter.Default(), `patient.name == "x"`)
		gt.True(t, errs.IsInvalidFilter(err))
	})

	t.Run("invalid filter", func(t *testing.T) {
		_, err := f.engine.Search(filter.State{SeverityMin: 5, SeverityMax: 1, SymptomType: filter.AnyType}, "")
		gt.True(t, errs.IsInvalidFilter(err))
	})
}

func TestTrendsAndStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Report(ctx, "severe chest pain")
	gt.NoError(t, err)
	_, err = f.engine.Report(ctx, "chest pain when walking")
	gt.NoError(t, err)
	_, err = f.engine.Report(ctx, "nothing specific")
	gt.NoError(t, err)

	snap, err := f.engine.Trends(filter.Default())
	gt.NoError(t, err)
	gt.Equal(t, snap.Count24h, 3)
	gt.V(t, snap.MostCommon).NotNil()
	gt.Equal(t, *snap.MostCommon, models.SymptomChestPain)

	stats := f.engine.Stats()
	gt.Equal(t, stats.Reports, int64(3))
	gt.Equal(t, stats.ByType[models.SymptomChestPain], int64(2))
	gt.Equal(t, stats.ByType[models.SymptomOther], int64(1))
}
