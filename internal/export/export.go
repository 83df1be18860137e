// Package export serialises alerts and trend snapshots as CSV or JSON.
package export

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/good-yellow-bee/carealert/internal/errs"
	"github.com/good-yellow-bee/carealert/internal/models"
	"github.com/good-yellow-bee/carealert/internal/trends"
)

// Format defines the output format for exports.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// AlertColumns is the CSV header for alert exports.
var AlertColumns = []string{"id", "detected_at", "symptom_type", "severity_score", "acknowledged", "rule", "symptom_text"}

// ParseFormat parses a format name. Empty selects JSON.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	default:
		return "", errs.InvalidInput("unsupported export format", goerr.V("format", s))
	}
}

// ContentType returns the MIME type for the format.
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv; charset=utf-8"
	}
	return "application/json"
}

// Extension returns the file extension for the format, without a dot.
func (f Format) Extension() string {
	return string(f)
}

// Exporter writes exports in one format.
type Exporter struct {
	format Format
	writer io.Writer
}

// NewExporter creates an exporter for the given format.
func NewExporter(format Format, w io.Writer) *Exporter {
	return &Exporter{
		format: format,
		writer: w,
	}
}

// ExportAlerts writes alerts in their given order.
func (e *Exporter) ExportAlerts(alerts []models.Alert) error {
	switch e.format {
	case FormatCSV:
		return e.exportAlertsCSV(alerts)
	default:
		return e.exportJSON(alerts)
	}
}

func (e *Exporter) exportJSON(v any) error {
	encoder := json.NewEncoder(e.writer)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return goerr.Wrap(err, "encode json export")
	}
	return nil
}

func (e *Exporter) exportAlertsCSV(alerts []models.Alert) error {
	w := csv.NewWriter(e.writer)
	if err := w.Write(AlertColumns); err != nil {
		return goerr.Wrap(err, "write csv header")
	}
	for _, a := range alerts {
		if err := w.Write(AlertRecord(a)); err != nil {
			return goerr.Wrap(err, "write csv row", goerr.V("alert_id", a.ID))
		}
	}
	w.Flush()
	return w.Error()
}

// AlertRecord flattens an alert into CSV fields ordered as AlertColumns.
// Free-text fields are escaped with safeCell.
func AlertRecord(a models.Alert) []string {
	return []string{
		a.ID,
		a.DetectedAt.UTC().Format(time.RFC3339Nano),
		string(a.SymptomType),
		strconv.Itoa(a.SeverityScore),
		strconv.FormatBool(a.Acknowledged),
		safeCell(a.Rule),
		safeCell(a.SymptomText),
	}
}

// safeCell prefixes a quote to values a spreadsheet would read as a
// formula.
func safeCell(s string) string {
	if s != "" && strings.ContainsRune("=+-@\t\r", rune(s[0])) {
		return "'" + s
	}
	return s
}

// ExportTrends writes a trend snapshot.
func (e *Exporter) ExportTrends(s trends.Snapshot) error {
	switch e.format {
	case FormatCSV:
		return e.exportTrendsCSV(s)
	default:
		return e.exportJSON(s)
	}
}

func (e *Exporter) exportTrendsCSV(s trends.Snapshot) error {
	w := csv.NewWriter(e.writer)

	mostCommon := ""
	if s.MostCommon != nil {
		mostCommon = string(*s.MostCommon)
	}

	rows := [][]string{
		{"# Summary"},
		{"generated_at", s.GeneratedAt.UTC().Format(time.RFC3339)},
		{"total", strconv.Itoa(s.Total)},
		{"count_24h", strconv.Itoa(s.Count24h)},
		{"critical", strconv.Itoa(s.Critical)},
		{"avg_severity", strconv.FormatFloat(s.AvgSeverity, 'f', 1, 64)},
		{"most_common", mostCommon},
		{"acknowledged", strconv.Itoa(s.Acknowledged)},
		{"unacknowledged", strconv.Itoa(s.Unacknowledged)},
		{},
		{"# Symptom Types"},
		{"symptom_type", "count", "percent"},
	}
	for _, b := range s.Histogram {
		rows = append(rows, []string{string(b.SymptomType), strconv.Itoa(b.Count), strconv.Itoa(b.Percent)})
	}

	rows = append(rows, []string{}, []string{"# Severity"}, []string{"severity", "count"})
	for i, n := range s.BySeverity {
		rows = append(rows, []string{strconv.Itoa(i + models.SeverityMin), strconv.Itoa(n)})
	}

	rows = append(rows, []string{}, []string{"# Hourly"}, []string{"hour_start", "count"})
	for _, slot := range s.Hourly {
		rows = append(rows, []string{slot.Start.UTC().Format(time.RFC3339), strconv.Itoa(slot.Count)})
	}

	if err := w.WriteAll(rows); err != nil {
		return goerr.Wrap(err, "write trends csv")
	}
	return nil
}
