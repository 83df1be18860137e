package classifier

import (
	"strings"
	"testing"

	"github.com/good-yellow-bee/carealert/internal/errs"
	"github.com/good-yellow-bee/carealert/internal/models"
)

func TestClassifyDefaultTable(t *testing.T) {
	c := New(nil)

	tests := []struct {
		name      string
		text      string
		wantType  models.SymptomType
		wantSev   int
		wantRule  string
		modifiers []string
	}{
		{
			name:      "chest pain outranks breathing",
			text:      "I have severe chest pain and can't breathe",
			wantType:  models.SymptomChestPain,
			wantSev:   5,
			wantRule:  "cardiac-chest-pain",
			modifiers: []string{"intensity"},
		},
		{
			name:     "breathing",
			text:     "I can't breathe",
			wantType: models.SymptomBreathingDifficulty,
			wantSev:  4,
			wantRule: "breathing",
		},
		{
			name:     "typographic apostrophe",
			text:     "I can’t  BREATHE",
			wantType: models.SymptomBreathingDifficulty,
			wantSev:  4,
			wantRule: "breathing",
		},
		{
			name:     "unconscious",
			text:     "My father fainted and is not responding",
			wantType: models.SymptomLossOfConsciousness,
			wantSev:  5,
			wantRule: "unresponsive",
		},
		{
			name:     "loss of consciousness outranks chest pain",
			text:     "chest pain and then I passed out",
			wantType: models.SymptomLossOfConsciousness,
			wantSev:  5,
			wantRule: "unresponsive",
		},
		{
			name:      "mildness lowers severity",
			text:      "Mild chest pain since morning",
			wantType:  models.SymptomChestPain,
			wantSev:   3,
			wantRule:  "cardiac-chest-pain",
			modifiers: []string{"mildness"},
		},
		{
			name:      "severity clamped at five",
			text:      "Severe bleeding from the leg",
			wantType:  models.SymptomSevereBleeding,
			wantSev:   5,
			wantRule:  "severe-bleeding",
			modifiers: []string{"intensity"},
		},
		{
			name:     "stroke signs",
			text:     "Her face is drooping and her speech is slurred",
			wantType: models.SymptomStrokeSigns,
			wantSev:  5,
			wantRule: "stroke",
		},
		{
			name:     "seizure",
			text:     "He is having a seizure",
			wantType: models.SymptomSeizure,
			wantSev:  4,
			wantRule: "seizure",
		},
		{
			name:     "fits as seizure",
			text:     "my son had fits this morning",
			wantType: models.SymptomSeizure,
			wantSev:  4,
			wantRule: "seizure",
		},
		{
			name:     "fits in ordinary speech",
			text:     "the new shoe fits well",
			wantType: models.SymptomOther,
			wantSev:  1,
		},
		{
			name:     "self harm",
			text:     "I want to kill myself",
			wantType: models.SymptomMentalHealthCrisis,
			wantSev:  5,
			wantRule: "self-harm",
		},
		{
			name:      "wheezing slightly",
			text:      "slight wheezing at night",
			wantType:  models.SymptomBreathingDifficulty,
			wantSev:   3,
			wantRule:  "breathing",
			modifiers: []string{"mildness"},
		},
		{
			name:     "hinglish chest pain",
			text:     "Seene mein dard ho raha hai",
			wantType: models.SymptomChestPain,
			wantSev:  4,
			wantRule: "cardiac-chest-pain",
		},
		{
			name:     "hinglish breathing",
			text:     "saans nahi aa rahi",
			wantType: models.SymptomBreathingDifficulty,
			wantSev:  4,
			wantRule: "breathing",
		},
		{
			name:      "hinglish fever with intensity",
			text:      "bahut tez bukhar hai",
			wantType:  models.SymptomHighFever,
			wantSev:   4,
			wantRule:  "fever",
			modifiers: []string{"intensity"},
		},
		{
			name:     "unrecognised text",
			text:     "I have a headache",
			wantType: models.SymptomOther,
			wantSev:  1,
		},
		{
			name:     "modifiers ignored without rule match",
			text:     "mild fever",
			wantType: models.SymptomOther,
			wantSev:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Classify(tt.text)
			if err != nil {
				t.Fatalf("Classify(%q) error: %v", tt.text, err)
			}
			if got.SymptomType != tt.wantType {
				t.Errorf("SymptomType = %q, want %q", got.SymptomType, tt.wantType)
			}
			if got.Severity != tt.wantSev {
				t.Errorf("Severity = %d, want %d", got.Severity, tt.wantSev)
			}
			if got.Rule != tt.wantRule {
				t.Errorf("Rule = %q, want %q", got.Rule, tt.wantRule)
			}
			if strings.Join(got.Modifiers, ",") != strings.Join(tt.modifiers, ",") {
				t.Errorf("Modifiers = %v, want %v", got.Modifiers, tt.modifiers)
			}
		})
	}
}

func TestClassifyEmptyInput(t *testing.T) {
	c := New(nil)
	for _, text := range []string{"", "   ", "\t\n"} {
		_, err := c.Classify(text)
		if !errs.IsInvalidInput(err) {
			t.Errorf("Classify(%q) error = %v, want invalid input", text, err)
		}
	}
	if got := c.Stats().Rejected; got != 3 {
		t.Errorf("Rejected = %d, want 3", got)
	}
}

func TestClassifyDeterministic(t *testing.T) {
	c := New(nil)
	first, _ := c.Classify("crushing chest pressure")
	for i := 0; i < 50; i++ {
		got, _ := c.Classify("crushing chest pressure")
		if got.SymptomType != first.SymptomType || got.Severity != first.Severity {
			t.Fatalf("iteration %d: got %+v, want %+v", i, got, first)
		}
	}
}

const overlapYAML = `
rules:
  - name: first
    symptom_type: breathing_difficulty
    severity: 4
    patterns: ['breathe']
  - name: second
    symptom_type: chest_pain
    severity: 2
    patterns: ['chest']
`

func TestTableOrderIsPrecedence(t *testing.T) {
	table, err := LoadTableFromBytes([]byte(overlapYAML))
	if err != nil {
		t.Fatalf("LoadTableFromBytes: %v", err)
	}
	c := New(table)

	got, _ := c.Classify("chest hurts and cannot breathe")
	if got.Rule != "first" {
		t.Errorf("Rule = %q, want first", got.Rule)
	}

	// Reversing the table reverses the outcome.
	table.Rules[0], table.Rules[1] = table.Rules[1], table.Rules[0]
	got, _ = c.Classify("chest hurts and cannot breathe")
	if got.Rule != "second" || got.Severity != 2 {
		t.Errorf("got %+v, want rule second severity 2", got)
	}
}

func TestDisabledRuleSkipped(t *testing.T) {
	table, err := LoadTableFromBytes([]byte(`
rules:
  - name: off
    symptom_type: seizure
    severity: 5
    enabled: false
    patterns: ['shaking']
  - name: on
    symptom_type: high_fever
    severity: 3
    patterns: ['shaking']
`))
	if err != nil {
		t.Fatalf("LoadTableFromBytes: %v", err)
	}
	if table.EnabledRules() != 1 {
		t.Errorf("EnabledRules = %d, want 1", table.EnabledRules())
	}
	got, _ := New(table).Classify("shaking all over")
	if got.Rule != "on" {
		t.Errorf("Rule = %q, want on", got.Rule)
	}
}

func TestTableValidation(t *testing.T) {
	tests := []struct {
		name   string
		yaml   string
		errMsg string
	}{
		{"empty table", `rules: []`, "no rules"},
		{"missing name", `rules: [{symptom_type: seizure, severity: 3, patterns: ['x']}]`, "name is required"},
		{"unknown type", `rules: [{name: a, symptom_type: headache, severity: 3, patterns: ['x']}]`, "known symptom type"},
		{"other type", `rules: [{name: a, symptom_type: other, severity: 3, patterns: ['x']}]`, "known symptom type"},
		{"severity range", `rules: [{name: a, symptom_type: seizure, severity: 6, patterns: ['x']}]`, "severity out of range"},
		{"no patterns", `rules: [{name: a, symptom_type: seizure, severity: 3}]`, "invalid rule"},
		{"bad regex", `rules: [{name: a, symptom_type: seizure, severity: 3, patterns: ['[oops']}]`, "invalid rule"},
		{
			"duplicate",
			`rules: [{name: a, symptom_type: seizure, severity: 3, patterns: ['x']}, {name: a, symptom_type: seizure, severity: 3, patterns: ['y']}]`,
			"duplicate rule name",
		},
		{
			"zero delta modifier",
			`{rules: [{name: a, symptom_type: seizure, severity: 3, patterns: ['x']}], modifiers: [{name: m, delta: 0, patterns: ['y']}]}`,
			"delta must be non-zero",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadTableFromBytes([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("error %q should contain %q", err.Error(), tt.errMsg)
			}
		})
	}
}

func TestLoadTableRejectsUnknownFields(t *testing.T) {
	_, err := LoadTable(strings.NewReader(`
rules:
  - name: a
    symptom_type: seizure
    severity: 3
    pattern: 'x'
`))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestPatternApostrophesMatchNormalizedText(t *testing.T) {
	table, err := LoadTable(strings.NewReader(`
rules:
  - name: cannot-breathe
    symptom_type: breathing_difficulty
    severity: 4
    patterns:
      - "\\bcan't breathe\\b"
      - "\\bdon’t feel my arm\\b"
`))
	if err != nil {
		t.Fatalf("LoadTable() error = %v", err)
	}
	c := New(table)

	for _, text := range []string{"I can't breathe", "i cant breathe", "I don't feel my arm"} {
		got, err := c.Classify(text)
		if err != nil {
			t.Fatalf("Classify(%q) error = %v", text, err)
		}
		if got.Rule != "cannot-breathe" {
			t.Errorf("Classify(%q) rule = %q, want cannot-breathe", text, got.Rule)
		}
	}
}

func TestDefaultTableCoversEveryCategory(t *testing.T) {
	table := DefaultTable()
	covered := map[models.SymptomType]bool{}
	for _, r := range table.Rules {
		covered[r.SymptomType] = true
	}
	for _, st := range models.SymptomTypes {
		if st == models.SymptomOther {
			continue
		}
		if !covered[st] {
			t.Errorf("no default rule for %q", st)
		}
	}
}

func TestReload(t *testing.T) {
	c := New(nil)
	table, err := LoadTableFromBytes([]byte(overlapYAML))
	if err != nil {
		t.Fatalf("LoadTableFromBytes: %v", err)
	}

	c.Reload(table)
	got, _ := c.Classify("I passed out")
	if got.SymptomType != models.SymptomOther {
		t.Errorf("after reload SymptomType = %q, want other", got.SymptomType)
	}
	if c.Stats().Reloads != 1 {
		t.Errorf("Reloads = %d, want 1", c.Stats().Reloads)
	}
	if c.Table() != table {
		t.Error("Table() should return the reloaded table")
	}
}

func TestNormalize(t *testing.T) {
	tests := map[string]string{
		"  Can’t   Breathe\n": "cant breathe",
		"WON'T wake up":      "wont wake up",
		"":                   "",
	}
	for in, want := range tests {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}
