package alerts

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/good-yellow-bee/carealert/internal/classifier"
	"github.com/good-yellow-bee/carealert/internal/clock"
	"github.com/good-yellow-bee/carealert/internal/dispatch"
	"github.com/good-yellow-bee/carealert/internal/engine"
	"github.com/good-yellow-bee/carealert/internal/errs"
	"github.com/good-yellow-bee/carealert/internal/export"
	"github.com/good-yellow-bee/carealert/internal/models"
	"github.com/good-yellow-bee/carealert/internal/store"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type mockHistoryRepository struct {
	records   []*models.NotificationRecord
	listError error
}

func (m *mockHistoryRepository) Create(ctx context.Context, r *models.NotificationRecord) error {
	m.records = append(m.records, r)
	return nil
}

func (m *mockHistoryRepository) Resolve(ctx context.Context, id string, at time.Time, reason models.ResolveReason) error {
	for _, r := range m.records {
		if r.ID == id {
			r.State, r.ResolvedAt, r.Reason = reason.State(), at, reason
			return nil
		}
	}
	return errs.NotFound(id)
}

func (m *mockHistoryRepository) List(ctx context.Context, limit, offset int) ([]*models.NotificationRecord, int64, error) {
	if m.listError != nil {
		return nil, 0, m.listError
	}
	if offset >= len(m.records) {
		return nil, int64(len(m.records)), nil
	}
	end := min(offset+limit, len(m.records))
	return m.records[offset:end], int64(len(m.records)), nil
}

func (m *mockHistoryRepository) ListByAlert(ctx context.Context, alertID string) ([]*models.NotificationRecord, error) {
	var out []*models.NotificationRecord
	for _, r := range m.records {
		if r.AlertID == alertID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockHistoryRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

type testEnv struct {
	clock   *clock.Fake
	engine  *engine.Engine
	history *mockHistoryRepository
	router  chi.Router
}

func setupTest(t *testing.T) *testEnv {
	t.Helper()
	fake := clock.NewFake(t0)
	s := store.New(&store.Options{Clock: fake})
	d := dispatch.New(s, &dispatch.Options{AutoExpire: true, Timeout: time.Hour, Clock: fake})
	d.Watch(s)
	t.Cleanup(d.Close)

	env := &testEnv{
		clock:   fake,
		engine:  engine.New(classifier.New(nil), s, d, &engine.Options{Clock: fake}),
		history: &mockHistoryRepository{},
	}
	h := NewHandler(env.engine, env.history)

	r := chi.NewRouter()
	r.Post("/reports", h.Report)
	r.Post("/classify", h.Classify)
	r.Get("/alerts", h.List)
	r.Get("/alerts/export", h.Export)
	r.Get("/alerts/{id}", h.GetByID)
	r.Post("/alerts/{id}/ack", h.Acknowledge)
	r.Get("/alerts/{id}/history", h.AlertHistory)
	r.Get("/trends", h.Trends)
	r.Get("/notifications", h.Notifications)
	r.Get("/notifications/history", h.History)
	r.Get("/rules", h.Rules)
	env.router = r
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) report(t *testing.T, text string) models.Alert {
	t.Helper()
	a, err := e.engine.Report(context.Background(), text)
	if err != nil {
		t.Fatalf("Report(%q) error = %v", text, err)
	}
	e.clock.Advance(time.Minute)
	return a
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var resp struct {
		Data T `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.Data
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return resp.Error.Code
}

func TestReport(t *testing.T) {
	env := setupTest(t)

	tests := []struct {
		name       string
		body       any
		wantStatus int
		wantCode   string
		wantType   models.SymptomType
	}{
		{
			name:       "critical report",
			body:       ReportRequest{Text: "severe chest pain and can't breathe"},
			wantStatus: http.StatusCreated,
			wantType:   models.SymptomChestPain,
		},
		{
			name:       "unmatched report",
			body:       ReportRequest{Text: "my toe itches"},
			wantStatus: http.StatusCreated,
			wantType:   models.SymptomOther,
		},
		{
			name:       "empty text",
			body:       ReportRequest{Text: "   "},
			wantStatus: http.StatusBadRequest,
			wantCode:   errCodeValidationFailed,
		},
		{
			name:       "too long",
			body:       ReportRequest{Text: strings.Repeat("a", MaxTextLength+1)},
			wantStatus: http.StatusBadRequest,
			wantCode:   errCodeValidationFailed,
		},
		{
			name:       "malformed body",
			body:       "not an object",
			wantStatus: http.StatusBadRequest,
			wantCode:   errCodeBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/reports", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantCode != "" {
				if code := errorCode(t, rec); code != tt.wantCode {
					t.Errorf("error code = %q, want %q", code, tt.wantCode)
				}
				return
			}
			alert := decodeData[models.Alert](t, rec)
			if alert.ID == "" {
				t.Error("alert id is empty")
			}
			if alert.SymptomType != tt.wantType {
				t.Errorf("symptom_type = %q, want %q", alert.SymptomType, tt.wantType)
			}
		})
	}
}

func TestClassifyDoesNotStore(t *testing.T) {
	env := setupTest(t)

	rec := env.do(t, http.MethodPost, "/classify", ReportRequest{Text: "she is having a seizure right now"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	got := decodeData[ClassifyResponse](t, rec)
	if got.SymptomType != models.SymptomSeizure {
		t.Errorf("symptom_type = %q, want seizure", got.SymptomType)
	}
	if !got.Critical {
		t.Error("seizure should be critical")
	}
	if n := len(env.engine.Alerts()); n != 0 {
		t.Errorf("stored alerts = %d, want 0", n)
	}
}

func TestList(t *testing.T) {
	env := setupTest(t)
	env.report(t, "severe chest pain")
	env.report(t, "mild fever")
	env.report(t, "difficulty breathing")

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantTotal  int
	}{
		{"no filter", "", http.StatusOK, 3},
		{"severity range", "?severity_min=4", http.StatusOK, 2},
		{"symptom type", "?symptom_type=chest_pain", http.StatusOK, 1},
		{"query expression", "?q=" + url.QueryEscape(`text contains "breath"`), http.StatusOK, 1},
		{"date range excludes", "?to=2025-02-28", http.StatusOK, 0},
		{"inverted severity", "?severity_min=5&severity_max=2", http.StatusBadRequest, 0},
		{"unknown type", "?symptom_type=broken_leg", http.StatusBadRequest, 0},
		{"bad query", "?q=patient.name", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, "/alerts"+tt.query, nil)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				if code := errorCode(t, rec); code != errCodeInvalidFilter {
					t.Errorf("error code = %q, want %q", code, errCodeInvalidFilter)
				}
				return
			}
			got := decodeData[AlertListResponse](t, rec)
			if got.Total != tt.wantTotal || len(got.Items) != tt.wantTotal {
				t.Errorf("total = %d (items %d), want %d", got.Total, len(got.Items), tt.wantTotal)
			}
		})
	}
}

func TestGetAndAcknowledge(t *testing.T) {
	env := setupTest(t)
	alert := env.report(t, "he collapsed and is unconscious")

	rec := env.do(t, http.MethodGet, "/alerts/"+alert.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/notifications", nil)
	if got := decodeData[[]dispatch.Notification](t, rec); len(got) != 1 {
		t.Fatalf("notifications = %d, want 1", len(got))
	}

	for i := 0; i < 2; i++ {
		rec = env.do(t, http.MethodPost, "/alerts/"+alert.ID+"/ack", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("ack #%d status = %d", i+1, rec.Code)
		}
		if got := decodeData[models.Alert](t, rec); !got.Acknowledged {
			t.Errorf("ack #%d: alert not acknowledged", i+1)
		}
	}

	rec = env.do(t, http.MethodGet, "/notifications", nil)
	if got := decodeData[[]dispatch.Notification](t, rec); len(got) != 0 {
		t.Errorf("notifications after ack = %d, want 0", len(got))
	}

	rec = env.do(t, http.MethodPost, "/alerts/missing/ack", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("ack missing status = %d, want 404", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/alerts/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get missing status = %d, want 404", rec.Code)
	}
}

func TestNotificationsExpireOverHTTP(t *testing.T) {
	env := setupTest(t)
	env.report(t, "he collapsed and is unconscious")

	rec := env.do(t, http.MethodGet, "/notifications", nil)
	if got := decodeData[[]dispatch.Notification](t, rec); len(got) != 1 {
		t.Fatalf("notifications = %d, want 1", len(got))
	}

	env.clock.Advance(time.Hour)
	rec = env.do(t, http.MethodGet, "/notifications", nil)
	if got := decodeData[[]dispatch.Notification](t, rec); len(got) != 0 {
		t.Errorf("notifications after timeout = %d, want 0", len(got))
	}
}

func TestExport(t *testing.T) {
	env := setupTest(t)
	env.report(t, "severe chest pain")
	env.report(t, "mild headache")

	rec := env.do(t, http.MethodGet, "/alerts/export?format=csv&severity_min=3", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != export.FormatCSV.ContentType() {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, ".csv") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	records, err := csv.NewReader(rec.Body).ReadAll()
	if err != nil {
		t.Fatalf("invalid csv: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("csv rows = %d, want header + 1", len(records))
	}

	rec = env.do(t, http.MethodGet, "/alerts/export?format=xml", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unsupported format status = %d, want 400", rec.Code)
	}
}

func TestTrends(t *testing.T) {
	env := setupTest(t)
	env.report(t, "severe chest pain")
	env.report(t, "chest pain again")
	env.report(t, "nothing specific")

	rec := env.do(t, http.MethodGet, "/trends", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Data map[string]any `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Data["most_common"] != string(models.SymptomChestPain) {
		t.Errorf("most_common = %v", resp.Data["most_common"])
	}

	rec = env.do(t, http.MethodGet, "/trends?format=csv", nil)
	if !strings.Contains(rec.Body.String(), "# Summary") {
		t.Errorf("csv trends missing summary: %s", rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/trends?severity_min=9", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid filter status = %d, want 400", rec.Code)
	}
}

func TestHistory(t *testing.T) {
	env := setupTest(t)
	alert := env.report(t, "severe bleeding from the arm")
	env.history.records = []*models.NotificationRecord{
		{ID: "n-1", AlertID: alert.ID, Reason: models.ReasonAcknowledged},
		{ID: "n-2", AlertID: "other", Reason: models.ReasonExpired},
	}

	rec := env.do(t, http.MethodGet, "/notifications/history?per_page=1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	page := decodeData[HistoryListResponse](t, rec)
	if page.Total != 2 || len(page.Items) != 1 || page.PerPage != 1 {
		t.Errorf("page = %+v", page)
	}

	rec = env.do(t, http.MethodGet, "/alerts/"+alert.ID+"/history", nil)
	if got := decodeData[[]models.NotificationRecord](t, rec); len(got) != 1 {
		t.Errorf("alert history = %d records, want 1", len(got))
	}

	env.history.listError = errors.New("disk on fire")
	rec = env.do(t, http.MethodGet, "/notifications/history", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "disk on fire") {
		t.Error("internal error leaked to client")
	}
}

func TestHistoryDisabled(t *testing.T) {
	h := NewHandler(engine.New(classifier.New(nil), store.New(nil), nil, nil), nil)
	rec := httptest.NewRecorder()
	h.History(rec, httptest.NewRequest(http.MethodGet, "/notifications/history", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestRules(t *testing.T) {
	env := setupTest(t)

	rec := env.do(t, http.MethodGet, "/rules", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	got := decodeData[RulesResponse](t, rec)
	if got.Enabled == 0 || len(got.Rules) == 0 {
		t.Errorf("rules = %+v", got)
	}
}
