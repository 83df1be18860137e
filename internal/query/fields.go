// Package query compiles expr-lang filter expressions over alert fields,
// e.g. `severity >= 4 and text contains "breath"`.
package query

// FieldType represents the data type of a queryable field.
type FieldType int

const (
	FieldTypeString FieldType = iota
	FieldTypeInt
	FieldTypeBool
	FieldTypeTime
)

// FieldDef defines a queryable field with its allowed operators.
type FieldDef struct {
	Name      string
	Type      FieldType
	Operators []string
}

// AlertFields contains all queryable alert fields.
var AlertFields = map[string]FieldDef{
	"severity": {
		Name:      "severity",
		Type:      FieldTypeInt,
		Operators: []string{"==", "!=", ">=", "<=", ">", "<", "in"},
	},
	"type": {
		Name:      "type",
		Type:      FieldTypeString,
		Operators: []string{"==", "!=", "in"},
	},
	// text is the report lower-cased, so matching is case-insensitive.
	"text": {
		Name:      "text",
		Type:      FieldTypeString,
		Operators: []string{"contains", "startsWith", "endsWith", "matches"},
	},
	"rule": {
		Name:      "rule",
		Type:      FieldTypeString,
		Operators: []string{"==", "!=", "in", "startsWith"},
	},
	"acknowledged": {
		Name:      "acknowledged",
		Type:      FieldTypeBool,
		Operators: []string{"==", "!=", "and", "or", "&&", "||"},
	},
	"detected_at": {
		Name:      "detected_at",
		Type:      FieldTypeTime,
		Operators: []string{">=", "<=", ">", "<"},
	},
}

// IsOperatorAllowed checks if an operator is valid for a field.
func (f FieldDef) IsOperatorAllowed(op string) bool {
	for _, allowed := range f.Operators {
		if allowed == op {
			return true
		}
	}
	return false
}

// AllowedFunctions lists the functions an expression may call.
var AllowedFunctions = map[string]bool{
	"now":      true,
	"duration": true,
	"date":     true,
	"len":      true,
	"lower":    true,
	"upper":    true,
	"trim":     true,
	"abs":      true,
	"min":      true,
	"max":      true,
}
