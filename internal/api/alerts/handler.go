// Package alerts serves symptom reports, the alert log, and the derived
// views over it.
package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/good-yellow-bee/carealert/internal/api/middleware"
	"github.com/good-yellow-bee/carealert/internal/classifier"
	"github.com/good-yellow-bee/carealert/internal/dispatch"
	"github.com/good-yellow-bee/carealert/internal/errs"
	"github.com/good-yellow-bee/carealert/internal/export"
	"github.com/good-yellow-bee/carealert/internal/filter"
	"github.com/good-yellow-bee/carealert/internal/logging"
	"github.com/good-yellow-bee/carealert/internal/models"
	"github.com/good-yellow-bee/carealert/internal/storage"
	"github.com/good-yellow-bee/carealert/internal/trends"
)

// Response helpers
type errorResponse struct {
	Error errorBody `json:"error"`
}
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
type dataResponse struct {
	Data any `json:"data"`
}

const (
	errCodeBadRequest       = "BAD_REQUEST"
	errCodeValidationFailed = "VALIDATION_FAILED"
	errCodeInvalidFilter    = "INVALID_FILTER"
	errCodeNotFound         = "NOT_FOUND"
	errCodeConflict         = "CONFLICT"
	errCodeInternalError    = "INTERNAL_ERROR"
)

func jsonError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errorResponse{Error: errorBody{Code: code, Message: message}}); err != nil {
		logging.From(r.Context()).Error("json encode error", logging.ErrAttr(err))
	}
}

func jsonStatus(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(dataResponse{Data: data}); err != nil {
		logging.From(r.Context()).Error("json encode error", logging.ErrAttr(err))
	}
}

func jsonOK(w http.ResponseWriter, r *http.Request, data any) {
	jsonStatus(w, r, http.StatusOK, data)
}

func jsonCreated(w http.ResponseWriter, r *http.Request, data any) {
	jsonStatus(w, r, http.StatusCreated, data)
}

// handleError maps the error taxonomy onto HTTP statuses. Internal errors
// are logged and never echoed to the client.
func handleError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errs.IsInvalidInput(err):
		jsonError(w, r, http.StatusBadRequest, errCodeValidationFailed, err.Error())
	case errs.IsInvalidFilter(err):
		jsonError(w, r, http.StatusBadRequest, errCodeInvalidFilter, err.Error())
	case errs.IsNotFound(err):
		jsonError(w, r, http.StatusNotFound, errCodeNotFound, "alert not found")
	case errs.IsConflict(err):
		jsonError(w, r, http.StatusConflict, errCodeConflict, err.Error())
	default:
		logging.From(r.Context()).Error(op+" failed", logging.ErrAttr(err))
		jsonError(w, r, http.StatusInternalServerError, errCodeInternalError, "internal server error")
	}
}

// Triage is the engine surface the handlers need.
type Triage interface {
	Classify(text string) (classifier.Result, error)
	Report(ctx context.Context, text string) (models.Alert, error)
	Acknowledge(ctx context.Context, id string) error
	Get(id string) (models.Alert, error)
	Search(state filter.State, expression string) ([]models.Alert, error)
	Trends(state filter.State) (trends.Snapshot, error)
	Notifications() []dispatch.Notification
	Rules() *classifier.Table
}

// Handler handles report and alert endpoints.
type Handler struct {
	triage  Triage
	history storage.NotificationRepository
}

// NewHandler creates a handler. history may be nil when persistence is off.
func NewHandler(t Triage, history storage.NotificationRepository) *Handler {
	return &Handler{triage: t, history: history}
}

// Request types
type ReportRequest struct {
	Text string `json:"text"`
}

// ClassifyResponse is the classification of a report that was not stored.
type ClassifyResponse struct {
	SymptomType models.SymptomType `json:"symptom_type"`
	Severity    int                `json:"severity_score"`
	Critical    bool               `json:"critical"`
	Rule        string             `json:"rule,omitempty"`
	Modifiers   []string           `json:"modifiers,omitempty"`
}

// AlertListResponse wraps a filtered alert list with the filter applied.
type AlertListResponse struct {
	Items  []models.Alert `json:"items"`
	Total  int            `json:"total"`
	Filter filter.State   `json:"filter"`
	Query  string         `json:"query,omitempty"`
}

func decodeReport(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req ReportRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		jsonError(w, r, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return "", false
	}
	if err := ValidateText(req.Text); err != nil {
		jsonError(w, r, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return "", false
	}
	return req.Text, true
}

// Report classifies a symptom report and stores the resulting alert.
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	text, ok := decodeReport(w, r)
	if !ok {
		return
	}

	alert, err := h.triage.Report(r.Context(), text)
	if err != nil {
		handleError(w, r, "report", err)
		return
	}
	jsonCreated(w, r, alert)
}

// Classify classifies a report without storing it.
func (h *Handler) Classify(w http.ResponseWriter, r *http.Request) {
	text, ok := decodeReport(w, r)
	if !ok {
		return
	}

	res, err := h.triage.Classify(text)
	if err != nil {
		handleError(w, r, "classify", err)
		return
	}
	jsonOK(w, r, ClassifyResponse{
		SymptomType: res.SymptomType,
		Severity:    res.Severity,
		Critical:    res.Severity >= models.SeverityCritical,
		Rule:        res.Rule,
		Modifiers:   res.Modifiers,
	})
}

// search parses filter parameters and the q expression and runs them.
func (h *Handler) search(r *http.Request) ([]models.Alert, filter.State, error) {
	q := r.URL.Query()
	state, err := filter.FromValues(q)
	if err != nil {
		return nil, state, err
	}
	alerts, err := h.triage.Search(state, q.Get("q"))
	return alerts, state, err
}

// List returns the alerts selected by the filter parameters.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	alerts, state, err := h.search(r)
	if err != nil {
		handleError(w, r, "list alerts", err)
		return
	}
	if alerts == nil {
		alerts = []models.Alert{}
	}
	jsonOK(w, r, AlertListResponse{
		Items:  alerts,
		Total:  len(alerts),
		Filter: state,
		Query:  r.URL.Query().Get("q"),
	})
}

// GetByID returns an alert by ID.
func (h *Handler) GetByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		jsonError(w, r, http.StatusBadRequest, errCodeBadRequest, "alert id required")
		return
	}

	alert, err := h.triage.Get(id)
	if err != nil {
		handleError(w, r, "get alert", err)
		return
	}
	jsonOK(w, r, alert)
}

// Acknowledge marks an alert acknowledged and resolves its notification.
// Repeating the call is harmless.
func (h *Handler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		jsonError(w, r, http.StatusBadRequest, errCodeBadRequest, "alert id required")
		return
	}

	ctx := r.Context()
	if err := h.triage.Acknowledge(ctx, id); err != nil {
		handleError(w, r, "acknowledge alert", err)
		return
	}
	alert, err := h.triage.Get(id)
	if err != nil {
		handleError(w, r, "acknowledge alert", err)
		return
	}

	logging.From(ctx).Info("alert acknowledged",
		"alert_id", id,
		"operator", middleware.GetSubject(ctx),
	)
	jsonOK(w, r, alert)
}

// Export streams the filtered alerts as CSV or JSON.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		handleError(w, r, "export alerts", err)
		return
	}
	alerts, _, err := h.search(r)
	if err != nil {
		handleError(w, r, "export alerts", err)
		return
	}
	if alerts == nil {
		alerts = []models.Alert{}
	}

	filename := "alerts-" + time.Now().UTC().Format("20060102-150405") + "." + format.Extension()
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)

	if err := export.NewExporter(format, w).ExportAlerts(alerts); err != nil {
		logging.From(r.Context()).Error("export alerts failed", logging.ErrAttr(err))
	}
}

// Trends returns the trend snapshot over the filtered alerts.
func (h *Handler) Trends(w http.ResponseWriter, r *http.Request) {
	state, err := filter.FromValues(r.URL.Query())
	if err != nil {
		handleError(w, r, "trends", err)
		return
	}
	snap, err := h.triage.Trends(state)
	if err != nil {
		handleError(w, r, "trends", err)
		return
	}

	if r.URL.Query().Get("format") == string(export.FormatCSV) {
		w.Header().Set("Content-Type", export.FormatCSV.ContentType())
		w.WriteHeader(http.StatusOK)
		if err := export.NewExporter(export.FormatCSV, w).ExportTrends(snap); err != nil {
			logging.From(r.Context()).Error("export trends failed", logging.ErrAttr(err))
		}
		return
	}
	jsonOK(w, r, snap)
}

// Notifications returns visible notifications, oldest first.
func (h *Handler) Notifications(w http.ResponseWriter, r *http.Request) {
	active := h.triage.Notifications()
	if active == nil {
		active = []dispatch.Notification{}
	}
	jsonOK(w, r, active)
}

// HistoryListResponse is a page of resolved notifications.
type HistoryListResponse struct {
	Items   []*models.NotificationRecord `json:"items"`
	Total   int64                        `json:"total"`
	Page    int                          `json:"page"`
	PerPage int                          `json:"per_page"`
}

// History lists resolved notifications, newest first.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		jsonError(w, r, http.StatusNotFound, errCodeNotFound, "notification history is not enabled")
		return
	}

	page, perPage := parsePagination(r)
	records, total, err := h.history.List(r.Context(), perPage, (page-1)*perPage)
	if err != nil {
		handleError(w, r, "list notification history", err)
		return
	}
	if records == nil {
		records = []*models.NotificationRecord{}
	}
	jsonOK(w, r, HistoryListResponse{
		Items:   records,
		Total:   total,
		Page:    page,
		PerPage: perPage,
	})
}

// AlertHistory lists resolved notifications for one alert.
func (h *Handler) AlertHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		jsonError(w, r, http.StatusNotFound, errCodeNotFound, "notification history is not enabled")
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := h.triage.Get(id); err != nil {
		handleError(w, r, "alert history", err)
		return
	}

	records, err := h.history.ListByAlert(r.Context(), id)
	if err != nil {
		handleError(w, r, "alert history", err)
		return
	}
	if records == nil {
		records = []*models.NotificationRecord{}
	}
	jsonOK(w, r, records)
}

// RulesResponse describes the active rule table.
type RulesResponse struct {
	Enabled   int                    `json:"enabled"`
	Rules     []*classifier.Rule     `json:"rules"`
	Modifiers []*classifier.Modifier `json:"modifiers"`
}

// Rules returns the active rule table in precedence order.
func (h *Handler) Rules(w http.ResponseWriter, r *http.Request) {
	table := h.triage.Rules()
	if table == nil {
		handleError(w, r, "rules", errors.New("no rule table loaded"))
		return
	}
	jsonOK(w, r, RulesResponse{
		Enabled:   table.EnabledRules(),
		Rules:     table.Rules,
		Modifiers: table.Modifiers,
	})
}

func parsePagination(r *http.Request) (page, perPage int) {
	page, perPage = 1, 50
	if p := r.URL.Query().Get("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			page = v
		}
	}
	if pp := r.URL.Query().Get("per_page"); pp != "" {
		if v, err := strconv.Atoi(pp); err == nil && v > 0 && v <= 100 {
			perPage = v
		}
	}
	return page, perPage
}
