package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/good-yellow-bee/carealert/internal/clock"
	"github.com/good-yellow-bee/carealert/internal/errs"
	"github.com/good-yellow-bee/carealert/internal/models"
)

var t0 = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func newAlert(sev int, st models.SymptomType) models.Alert {
	return models.Alert{SymptomText: "report", SymptomType: st, SeverityScore: sev}
}

func TestAppendGetRoundTrip(t *testing.T) {
	s := New(&Options{Clock: clock.NewFake(t0)})
	ctx := context.Background()

	for sev := models.SeverityMin; sev <= models.SeverityMax; sev++ {
		for _, st := range models.SymptomTypes {
			id, err := s.Append(ctx, newAlert(sev, st))
			if err != nil {
				t.Fatalf("Append(%d, %s): %v", sev, st, err)
			}
			got, err := s.Get(id)
			if err != nil {
				t.Fatalf("Get(%s): %v", id, err)
			}
			if got.SeverityScore != sev || got.SymptomType != st {
				t.Errorf("Get(%s) = (%d, %s), want (%d, %s)", id, got.SeverityScore, got.SymptomType, sev, st)
			}
			if got.ID != id || got.DetectedAt.IsZero() || got.Acknowledged {
				t.Errorf("unexpected stored alert %+v", got)
			}
		}
	}
}

func TestListPreservesAppendOrder(t *testing.T) {
	for _, n := range []int{0, 1, 2, 17, 100} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			fc := clock.NewFake(t0)
			s := New(&Options{Clock: fc})
			var ids []string
			for i := 0; i < n; i++ {
				id, err := s.Append(context.Background(), newAlert(1+i%5, models.SymptomOther))
				if err != nil {
					t.Fatal(err)
				}
				ids = append(ids, id)
				fc.Advance(time.Second)
			}

			list := s.List()
			if len(list) != n || s.Len() != n {
				t.Fatalf("List() len = %d, Len() = %d, want %d", len(list), s.Len(), n)
			}
			for i, a := range list {
				if a.ID != ids[i] {
					t.Errorf("list[%d].ID = %s, want %s", i, a.ID, ids[i])
				}
			}
		})
	}
}

func TestListReturnsCopy(t *testing.T) {
	s := New(nil)
	id, _ := s.Append(context.Background(), newAlert(3, models.SymptomSeizure))

	list := s.List()
	list[0].SeverityScore = 1
	list[0].Acknowledged = true

	got, _ := s.Get(id)
	if got.SeverityScore != 3 || got.Acknowledged {
		t.Error("mutating List() output must not change the store")
	}
}

func TestAppendValidation(t *testing.T) {
	s := New(nil)
	_, err := s.Append(context.Background(), models.Alert{SymptomType: models.SymptomOther, SeverityScore: 1})
	if !errs.IsInvalidInput(err) {
		t.Errorf("expected invalid input, got %v", err)
	}
	if s.Len() != 0 {
		t.Error("rejected alert must not be stored")
	}
}

func TestAppendDuplicateID(t *testing.T) {
	s := New(nil)
	a := newAlert(2, models.SymptomOther)
	a.ID = "fixed"
	if _, err := s.Append(context.Background(), a); err != nil {
		t.Fatal(err)
	}
	_, err := s.Append(context.Background(), a)
	if !errs.IsConflict(err) {
		t.Errorf("expected conflict, got %v", err)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestAppendClampsDetectedAt(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	late := newAlert(2, models.SymptomOther)
	late.DetectedAt = t0
	early := newAlert(2, models.SymptomOther)
	early.DetectedAt = t0.Add(-time.Hour)

	s.Append(ctx, late)
	id, _ := s.Append(ctx, early)

	got, _ := s.Get(id)
	if !got.DetectedAt.Equal(t0) {
		t.Errorf("DetectedAt = %v, want clamped to %v", got.DetectedAt, t0)
	}
}

func TestAppendIgnoresAcknowledgedFlag(t *testing.T) {
	s := New(nil)
	a := newAlert(4, models.SymptomChestPain)
	a.Acknowledged = true
	id, _ := s.Append(context.Background(), a)
	got, _ := s.Get(id)
	if got.Acknowledged {
		t.Error("new alerts start unacknowledged")
	}
}

func TestAcknowledge(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	id, _ := s.Append(ctx, newAlert(4, models.SymptomChestPain))

	if err := s.Acknowledge(ctx, id); err != nil {
		t.Fatal(err)
	}
	once := s.List()

	if err := s.Acknowledge(ctx, id); err != nil {
		t.Fatalf("second Acknowledge: %v", err)
	}
	twice := s.List()

	if len(once) != len(twice) || once[0] != twice[0] || !twice[0].Acknowledged {
		t.Errorf("acknowledge is not idempotent: %+v vs %+v", once, twice)
	}

	if err := s.Acknowledge(ctx, "missing"); !errs.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestGetNotFound(t *testing.T) {
	s := New(nil)
	if _, err := s.Get("nope"); !errs.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestObserversSeeAppendOrder(t *testing.T) {
	s := New(nil)
	var (
		mu  sync.Mutex
		got []string
	)
	s.OnAppend(func(a models.Alert) {
		mu.Lock()
		got = append(got, a.ID)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Append(context.Background(), newAlert(3, models.SymptomOther)); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	list := s.List()
	if len(got) != len(list) {
		t.Fatalf("observed %d appends, want %d", len(got), len(list))
	}
	seen := map[string]bool{}
	for i, a := range list {
		if got[i] != a.ID {
			t.Errorf("observer[%d] = %s, want %s", i, got[i], a.ID)
		}
		if seen[a.ID] {
			t.Errorf("duplicate id %s", a.ID)
		}
		seen[a.ID] = true
		if i > 0 && a.DetectedAt.Before(list[i-1].DetectedAt) {
			t.Errorf("detected_at decreased at %d", i)
		}
	}
}

type memBackend struct {
	alerts    []*models.Alert
	acked     map[string]bool
	insertErr error
}

func (b *memBackend) InsertAlert(_ context.Context, a *models.Alert) error {
	if b.insertErr != nil {
		return b.insertErr
	}
	cp := *a
	b.alerts = append(b.alerts, &cp)
	return nil
}

func (b *memBackend) AcknowledgeAlert(_ context.Context, id string) error {
	if b.acked == nil {
		b.acked = map[string]bool{}
	}
	b.acked[id] = true
	for _, a := range b.alerts {
		if a.ID == id {
			a.Acknowledged = true
		}
	}
	return nil
}

func (b *memBackend) ListAlerts(context.Context) ([]*models.Alert, error) {
	return b.alerts, nil
}

func TestBackendWriteThroughAndLoad(t *testing.T) {
	ctx := context.Background()
	backend := &memBackend{}
	s := New(&Options{Backend: backend})

	id1, _ := s.Append(ctx, newAlert(5, models.SymptomStrokeSigns))
	id2, _ := s.Append(ctx, newAlert(2, models.SymptomOther))
	if err := s.Acknowledge(ctx, id1); err != nil {
		t.Fatal(err)
	}
	if len(backend.alerts) != 2 || !backend.acked[id1] {
		t.Fatalf("backend not written through: %+v", backend)
	}

	restored := New(&Options{Backend: backend})
	n, err := restored.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("Load() = %d, want 2", n)
	}
	list := restored.List()
	if list[0].ID != id1 || list[1].ID != id2 || !list[0].Acknowledged {
		t.Errorf("restored log mismatch: %+v", list)
	}
}

func TestBackendFailureRejectsAppend(t *testing.T) {
	backend := &memBackend{insertErr: errors.New("disk full")}
	s := New(&Options{Backend: backend})

	called := false
	s.OnAppend(func(models.Alert) { called = true })

	_, err := s.Append(context.Background(), newAlert(3, models.SymptomOther))
	if !errs.IsStorage(err) {
		t.Errorf("expected storage error, got %v", err)
	}
	if s.Len() != 0 || called {
		t.Error("failed append must leave the log and observers untouched")
	}
}
