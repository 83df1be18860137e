// Package filter narrows an alert sequence by severity range, category and
// detection date. Filtering never reorders its input.
package filter

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/good-yellow-bee/carealert/internal/errs"
	"github.com/good-yellow-bee/carealert/internal/models"
)

// AnyType matches every symptom category.
const AnyType models.SymptomType = "any"

// State is a complete filter. Edits produce a new State; an edit that would
// be invalid returns an error and the caller keeps the previous value.
type State struct {
	SeverityMin int                `json:"severity_min"`
	SeverityMax int                `json:"severity_max"`
	SymptomType models.SymptomType `json:"symptom_type"`
	// DateFrom and DateTo are inclusive. The zero time means unbounded.
	DateFrom time.Time `json:"date_from,omitzero"`
	DateTo   time.Time `json:"date_to,omitzero"`
}

// Default returns the identity filter.
func Default() State {
	return State{
		SeverityMin: models.SeverityMin,
		SeverityMax: models.SeverityMax,
		SymptomType: AnyType,
	}
}

// Clear resets every bound. It is the same as Default.
func Clear() State { return Default() }

// IsDefault reports whether s filters nothing out.
func (s State) IsDefault() bool {
	return s == Default()
}

// Validate rejects states that cannot be applied. Ranges are never swapped.
func (s State) Validate() error {
	if s.SeverityMin < models.SeverityMin || s.SeverityMin > models.SeverityMax {
		return errs.InvalidFilter("severity_min out of range", goerr.V("severity_min", s.SeverityMin))
	}
	if s.SeverityMax < models.SeverityMin || s.SeverityMax > models.SeverityMax {
		return errs.InvalidFilter("severity_max out of range", goerr.V("severity_max", s.SeverityMax))
	}
	if s.SeverityMin > s.SeverityMax {
		return errs.InvalidFilter("severity_min is greater than severity_max",
			goerr.V("severity_min", s.SeverityMin), goerr.V("severity_max", s.SeverityMax))
	}
	if s.SymptomType != AnyType && !s.SymptomType.Valid() {
		return errs.InvalidFilter("unknown symptom type", goerr.V("symptom_type", s.SymptomType))
	}
	if !s.DateFrom.IsZero() && !s.DateTo.IsZero() && s.DateFrom.After(s.DateTo) {
		return errs.InvalidFilter("date_from is after date_to",
			goerr.V("date_from", s.DateFrom), goerr.V("date_to", s.DateTo))
	}
	return nil
}

// WithSeverityRange returns s with a new severity range. On error s is
// returned unchanged.
func (s State) WithSeverityRange(min, max int) (State, error) {
	next := s
	next.SeverityMin, next.SeverityMax = min, max
	return s.commit(next)
}

// WithSymptomType returns s restricted to one category, or AnyType.
func (s State) WithSymptomType(t models.SymptomType) (State, error) {
	next := s
	next.SymptomType = t
	return s.commit(next)
}

// WithDateRange returns s with new date bounds. Zero times are unbounded.
func (s State) WithDateRange(from, to time.Time) (State, error) {
	next := s
	next.DateFrom, next.DateTo = from, to
	return s.commit(next)
}

// commit returns next if it is valid, otherwise s unchanged and the error.
func (s State) commit(next State) (State, error) {
	if err := next.Validate(); err != nil {
		return s, err
	}
	return next, nil
}

// Matches evaluates the predicate for one alert. s must be valid.
func (s State) Matches(a models.Alert) bool {
	if a.SeverityScore < s.SeverityMin || a.SeverityScore > s.SeverityMax {
		return false
	}
	if s.SymptomType != AnyType && a.SymptomType != s.SymptomType {
		return false
	}
	if !s.DateFrom.IsZero() && a.DetectedAt.Before(s.DateFrom) {
		return false
	}
	if !s.DateTo.IsZero() && a.DetectedAt.After(s.DateTo) {
		return false
	}
	return true
}

// Apply returns the alerts matching s in their original relative order.
func Apply(alerts []models.Alert, s State) ([]models.Alert, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	out := make([]models.Alert, 0, len(alerts))
	for _, a := range alerts {
		if s.Matches(a) {
			out = append(out, a)
		}
	}
	return out, nil
}

// FromValues builds a State from query parameters severity_min,
// severity_max, symptom_type, from and to. Missing parameters keep defaults.
func FromValues(v url.Values) (State, error) {
	s := Default()

	min, max := s.SeverityMin, s.SeverityMax
	var err error
	if raw := v.Get("severity_min"); raw != "" {
		if min, err = strconv.Atoi(raw); err != nil {
			return Default(), errs.InvalidFilter("severity_min must be an integer", goerr.V("severity_min", raw))
		}
	}
	if raw := v.Get("severity_max"); raw != "" {
		if max, err = strconv.Atoi(raw); err != nil {
			return Default(), errs.InvalidFilter("severity_max must be an integer", goerr.V("severity_max", raw))
		}
	}
	if s, err = s.WithSeverityRange(min, max); err != nil {
		return Default(), err
	}

	if raw := strings.TrimSpace(v.Get("symptom_type")); raw != "" {
		if s, err = s.WithSymptomType(models.SymptomType(strings.ToLower(raw))); err != nil {
			return Default(), err
		}
	}

	from, err := ParseDate(v.Get("from"))
	if err != nil {
		return Default(), err
	}
	to, err := ParseDateEndOfDay(v.Get("to"))
	if err != nil {
		return Default(), err
	}
	if s, err = s.WithDateRange(from, to); err != nil {
		return Default(), err
	}
	return s, nil
}

// ParseDate parses RFC 3339 or YYYY-MM-DD (start of day, UTC).
func ParseDate(s string) (time.Time, error) {
	return parseDate(s, false)
}

// ParseDateEndOfDay is ParseDate, but YYYY-MM-DD yields the last instant of that day.
func ParseDateEndOfDay(s string) (time.Time, error) {
	return parseDate(s, true)
}

func parseDate(s string, endOfDay bool) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, errs.InvalidFilter("invalid date (expected YYYY-MM-DD or RFC3339)", goerr.V("date", s))
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}
