package classifier

import (
	"strings"
	"sync/atomic"

	"github.com/good-yellow-bee/carealert/internal/errs"
	"github.com/good-yellow-bee/carealert/internal/models"
)

// Result is the outcome of classifying one report.
type Result struct {
	SymptomType models.SymptomType `json:"symptom_type"`
	Severity    int                `json:"severity_score"`
	// Rule is the name of the matched rule, empty when nothing matched.
	Rule string `json:"rule,omitempty"`
	// Modifiers lists the modifiers that adjusted the severity.
	Modifiers []string `json:"modifiers,omitempty"`
}

// Matched reports whether a rule matched.
func (r Result) Matched() bool { return r.Rule != "" }

// Classifier evaluates reports against a rule table. The table can be
// swapped at any time; each Classify call sees one consistent table.
type Classifier struct {
	table atomic.Pointer[Table]
	stats *Stats
}

// Stats tracks classifier statistics using atomic operations for lock-free access.
type Stats struct {
	Classified   atomic.Int64
	Unclassified atomic.Int64
	Rejected     atomic.Int64
	Reloads      atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Classified   int64 `json:"classified"`
	Unclassified int64 `json:"unclassified"`
	Rejected     int64 `json:"rejected"`
	Reloads      int64 `json:"reloads"`
}

// New creates a classifier over a validated table. A nil table selects the
// built-in default.
func New(table *Table) *Classifier {
	if table == nil {
		table = DefaultTable()
	}
	c := &Classifier{stats: &Stats{}}
	c.table.Store(table)
	return c
}

// Classify maps text to a category and severity.
//
// Empty or whitespace-only text is an InvalidInputError. Text no rule
// recognises is not an error: it yields "other" with severity 1.
func (c *Classifier) Classify(text string) (Result, error) {
	normalized := Normalize(text)
	if normalized == "" {
		c.stats.Rejected.Add(1)
		return Result{}, errs.InvalidInput("symptom text is empty")
	}

	res := Evaluate(c.table.Load(), normalized)
	if res.Matched() {
		c.stats.Classified.Add(1)
	} else {
		c.stats.Unclassified.Add(1)
	}
	return res, nil
}

// Evaluate runs the table against already-normalised text.
func Evaluate(table *Table, normalized string) Result {
	for _, rule := range table.Rules {
		if !rule.IsEnabled() || !rule.Match(normalized) {
			continue
		}
		res := Result{
			SymptomType: rule.SymptomType,
			Severity:    rule.Severity,
			Rule:        rule.Name,
		}
		for _, mod := range table.Modifiers {
			if mod.Match(normalized) {
				res.Severity += mod.Delta
				res.Modifiers = append(res.Modifiers, mod.Name)
			}
		}
		res.Severity = models.ClampSeverity(res.Severity)
		return res
	}
	return Result{SymptomType: models.SymptomOther, Severity: models.SeverityMin}
}

// Reload atomically replaces the rule table. The table must already be
// validated (LoadTable* does this).
func (c *Classifier) Reload(table *Table) {
	c.table.Store(table)
	c.stats.Reloads.Add(1)
}

// Table returns the active rule table. Callers must not modify it.
func (c *Classifier) Table() *Table {
	return c.table.Load()
}

// Stats returns a snapshot of classifier statistics.
func (c *Classifier) Stats() StatsSnapshot {
	return StatsSnapshot{
		Classified:   c.stats.Classified.Load(),
		Unclassified: c.stats.Unclassified.Load(),
		Rejected:     c.stats.Rejected.Load(),
		Reloads:      c.stats.Reloads.Load(),
	}
}

var apostrophes = strings.NewReplacer("'", "", "’", "", "‘", "", "`", "", "´", "")

// Normalize lower-cases text, drops apostrophes and collapses whitespace,
// so "Can’t  BREATHE" and "cant breathe" match the same patterns.
func Normalize(text string) string {
	return strings.Join(strings.Fields(apostrophes.Replace(strings.ToLower(text))), " ")
}
