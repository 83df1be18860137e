// Package models defines the domain records of the triage core.
package models

import (
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/good-yellow-bee/carealert/internal/errs"
)

// SymptomType is the closed set of categories a report can be classified into.
type SymptomType string

const (
	SymptomChestPain           SymptomType = "chest_pain"
	SymptomBreathingDifficulty SymptomType = "breathing_difficulty"
	SymptomLossOfConsciousness SymptomType = "loss_of_consciousness"
	SymptomStrokeSigns         SymptomType = "stroke_signs"
	SymptomSevereBleeding      SymptomType = "severe_bleeding"
	SymptomSeizure             SymptomType = "seizure"
	SymptomAllergicReaction    SymptomType = "allergic_reaction"
	SymptomMentalHealthCrisis  SymptomType = "mental_health_crisis"
	SymptomHighFever           SymptomType = "high_fever"
	SymptomOther               SymptomType = "other"
)

// SymptomTypes lists every recognized category in a stable order.
var SymptomTypes = []SymptomType{
	SymptomChestPain,
	SymptomBreathingDifficulty,
	SymptomLossOfConsciousness,
	SymptomStrokeSigns,
	SymptomSevereBleeding,
	SymptomSeizure,
	SymptomAllergicReaction,
	SymptomMentalHealthCrisis,
	SymptomHighFever,
	SymptomOther,
}

// Valid reports whether t is a recognized category.
func (t SymptomType) Valid() bool {
	for _, known := range SymptomTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseSymptomType converts a string to SymptomType.
func ParseSymptomType(s string) (SymptomType, bool) {
	t := SymptomType(strings.ToLower(strings.TrimSpace(s)))
	return t, t.Valid()
}

// Severity bounds. 5 is the most critical.
const (
	SeverityMin      = 1
	SeverityMax      = 5
	SeverityCritical = 4
)

// ClampSeverity forces s into [SeverityMin, SeverityMax].
func ClampSeverity(s int) int {
	if s < SeverityMin {
		return SeverityMin
	}
	if s > SeverityMax {
		return SeverityMax
	}
	return s
}

// Alert is a classified symptom report.
// Only Acknowledged changes after the alert is stored.
type Alert struct {
	ID            string      `json:"id"`
	SymptomText   string      `json:"symptom_text" masq:"secret"`
	SymptomType   SymptomType `json:"symptom_type"`
	SeverityScore int         `json:"severity_score"`
	DetectedAt    time.Time   `json:"detected_at"`
	Acknowledged  bool        `json:"acknowledged"`
	// Rule is the classifier rule that produced the category. Empty for "other".
	Rule string `json:"rule,omitempty"`
}

// IsCritical reports whether the alert counts as critical in trend summaries.
func (a Alert) IsCritical() bool {
	return a.SeverityScore >= SeverityCritical
}

// Validate checks the invariants every stored alert must satisfy.
// ID and DetectedAt may be empty; the store assigns them.
func (a Alert) Validate() error {
	if strings.TrimSpace(a.SymptomText) == "" {
		return errs.InvalidInput("symptom text is required")
	}
	if !a.SymptomType.Valid() {
		return errs.InvalidInput("unknown symptom type", goerr.V("symptom_type", a.SymptomType))
	}
	if a.SeverityScore < SeverityMin || a.SeverityScore > SeverityMax {
		return errs.InvalidInput("severity score out of range", goerr.V("severity_score", a.SeverityScore))
	}
	return nil
}
