// Package classifier maps free-text symptom reports to a symptom category and
// a severity score using an ordered table of regex rules.
//
// Rules are evaluated top to bottom and the first rule with a matching
// pattern wins, so the table order is the precedence order. Modifiers then
// nudge the base severity up or down; the result is clamped to [1,5].
package classifier

import (
	"regexp"

	"github.com/m-mizutani/goerr/v2"

	"github.com/good-yellow-bee/carealert/internal/models"
)

// Rule maps a set of phrasings to one symptom category.
type Rule struct {
	// Name is the unique identifier for the rule.
	Name string `yaml:"name" json:"name"`
	// Description is shown by `carealertctl rules check` and GET /rules.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	// SymptomType is the category assigned on match.
	SymptomType models.SymptomType `yaml:"symptom_type" json:"symptom_type"`
	// Severity is the base score before modifiers.
	Severity int `yaml:"severity" json:"severity"`
	// Patterns are case-insensitive regular expressions. Any one matching is enough.
	Patterns []string `yaml:"patterns" json:"patterns"`
	// Enabled controls whether the rule is evaluated.
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	compiled []*regexp.Regexp
}

// IsEnabled returns whether the rule is enabled.
func (r *Rule) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// Validate checks the rule and compiles its patterns.
func (r *Rule) Validate() error {
	if r.Name == "" {
		return goerr.New("rule name is required")
	}
	if !r.SymptomType.Valid() || r.SymptomType == models.SymptomOther {
		return goerr.New("rule must target a known symptom type other than \"other\"",
			goerr.V("rule", r.Name), goerr.V("symptom_type", r.SymptomType))
	}
	if r.Severity < models.SeverityMin || r.Severity > models.SeverityMax {
		return goerr.New("rule severity out of range",
			goerr.V("rule", r.Name), goerr.V("severity", r.Severity))
	}
	compiled, err := compilePatterns(r.Patterns)
	if err != nil {
		return goerr.Wrap(err, "invalid rule", goerr.V("rule", r.Name))
	}
	r.compiled = compiled
	return nil
}

// Match reports whether any pattern matches the normalised text.
func (r *Rule) Match(normalized string) bool {
	return matchAny(r.compiled, normalized)
}

// Modifier adjusts the severity of a matched rule when one of its patterns
// is present, e.g. intensity or mildness wording.
type Modifier struct {
	Name     string   `yaml:"name" json:"name"`
	Patterns []string `yaml:"patterns" json:"patterns"`
	// Delta is added to the base severity once, however many patterns match.
	Delta int `yaml:"delta" json:"delta"`

	compiled []*regexp.Regexp
}

// Validate checks the modifier and compiles its patterns.
func (m *Modifier) Validate() error {
	if m.Name == "" {
		return goerr.New("modifier name is required")
	}
	if m.Delta == 0 {
		return goerr.New("modifier delta must be non-zero", goerr.V("modifier", m.Name))
	}
	compiled, err := compilePatterns(m.Patterns)
	if err != nil {
		return goerr.Wrap(err, "invalid modifier", goerr.V("modifier", m.Name))
	}
	m.compiled = compiled
	return nil
}

// Match reports whether any pattern matches the normalised text.
func (m *Modifier) Match(normalized string) bool {
	return matchAny(m.compiled, normalized)
}

// Table is the full rule set. Rules are ordered by precedence.
type Table struct {
	Rules     []*Rule     `yaml:"rules" json:"rules"`
	Modifiers []*Modifier `yaml:"modifiers,omitempty" json:"modifiers,omitempty"`
}

// Validate validates every rule and modifier and rejects duplicate names.
func (t *Table) Validate() error {
	if len(t.Rules) == 0 {
		return goerr.New("rule table has no rules")
	}
	seen := make(map[string]struct{}, len(t.Rules))
	for i, rule := range t.Rules {
		if err := rule.Validate(); err != nil {
			return goerr.Wrap(err, "invalid rule", goerr.V("index", i))
		}
		if _, dup := seen[rule.Name]; dup {
			return goerr.New("duplicate rule name", goerr.V("rule", rule.Name))
		}
		seen[rule.Name] = struct{}{}
	}
	for i, mod := range t.Modifiers {
		if err := mod.Validate(); err != nil {
			return goerr.Wrap(err, "invalid modifier", goerr.V("index", i))
		}
	}
	return nil
}

// EnabledRules returns the number of rules that will be evaluated.
func (t *Table) EnabledRules() int {
	n := 0
	for _, r := range t.Rules {
		if r.IsEnabled() {
			n++
		}
	}
	return n
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	if len(patterns) == 0 {
		return nil, goerr.New("at least one pattern is required")
	}
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		// Input text has its apostrophes removed by Normalize, so patterns
		// are compiled the same way: "can't breathe" matches "cant breathe".
		re, err := regexp.Compile("(?i)" + apostrophes.Replace(p))
		if err != nil {
			return nil, goerr.Wrap(err, "invalid pattern", goerr.V("pattern", p))
		}
		out = append(out, re)
	}
	return out, nil
}

func matchAny(patterns []*regexp.Regexp, s string) bool {
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
