package query

import (
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/vm"
	"github.com/m-mizutani/goerr/v2"

	"github.com/good-yellow-bee/carealert/internal/errs"
	"github.com/good-yellow-bee/carealert/internal/models"
)

// Query is a compiled, validated expression.
type Query struct {
	program *vm.Program
	raw     string
	now     func() time.Time
}

// Raw returns the original expression string.
func (q *Query) Raw() string { return q.raw }

// Compiler parses expressions against a field set.
type Compiler struct {
	fields map[string]FieldDef
	now    func() time.Time
}

// NewCompiler creates a compiler. now backs the now() function; nil means time.Now.
func NewCompiler(fields map[string]FieldDef, now func() time.Time) *Compiler {
	if now == nil {
		now = time.Now
	}
	return &Compiler{fields: fields, now: now}
}

// Compile parses an expression over AlertFields using the wall clock.
func Compile(expression string) (*Query, error) {
	return NewCompiler(AlertFields, nil).Compile(expression)
}

// Compile compiles and validates an expression. Any failure is an
// InvalidFilterError.
func (c *Compiler) Compile(expression string) (*Query, error) {
	if strings.TrimSpace(expression) == "" {
		return nil, errs.InvalidFilter("empty query expression")
	}

	program, err := expr.Compile(expression, expr.Env(c.sampleEnv()), expr.AsBool())
	if err != nil {
		return nil, errs.InvalidFilter("invalid query expression",
			goerr.V("query", expression), goerr.V("cause", err.Error()))
	}

	node := program.Node()
	v := &validationVisitor{fields: c.fields}
	ast.Walk(&node, v)
	if v.err != nil {
		return nil, v.err
	}

	return &Query{program: program, raw: expression, now: c.now}, nil
}

func (c *Compiler) sampleEnv() map[string]any {
	env := make(map[string]any, len(c.fields)+2)
	for name, field := range c.fields {
		switch field.Type {
		case FieldTypeString:
			env[name] = ""
		case FieldTypeInt:
			env[name] = 0
		case FieldTypeBool:
			env[name] = false
		case FieldTypeTime:
			env[name] = time.Time{}
		}
	}
	addFunctions(env, c.now)
	return env
}

func addFunctions(env map[string]any, now func() time.Time) {
	env["now"] = now
	env["duration"] = func(s string) time.Duration {
		d, _ := time.ParseDuration(s)
		return d
	}
}

func alertEnv(a models.Alert, now func() time.Time) map[string]any {
	env := map[string]any{
		"severity":     a.SeverityScore,
		"type":         string(a.SymptomType),
		"text":         strings.ToLower(a.SymptomText),
		"rule":         a.Rule,
		"acknowledged": a.Acknowledged,
		"detected_at":  a.DetectedAt,
	}
	addFunctions(env, now)
	return env
}

// Match evaluates the query against one alert.
func (q *Query) Match(a models.Alert) (bool, error) {
	out, err := expr.Run(q.program, alertEnv(a, q.now))
	if err != nil {
		return false, goerr.Wrap(err, "evaluate query", goerr.V("query", q.raw), goerr.V("alert_id", a.ID))
	}
	matched, ok := out.(bool)
	if !ok {
		return false, goerr.New("query did not return bool", goerr.V("query", q.raw))
	}
	return matched, nil
}

// Filter returns the alerts matching q in their original order.
func (q *Query) Filter(alerts []models.Alert) ([]models.Alert, error) {
	out := make([]models.Alert, 0, len(alerts))
	for _, a := range alerts {
		ok, err := q.Match(a)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, a)
		}
	}
	return out, nil
}

// validationVisitor rejects unknown identifiers, disallowed calls and
// operators a field does not support.
type validationVisitor struct {
	fields map[string]FieldDef
	err    error
}

func (v *validationVisitor) Visit(node *ast.Node) {
	if v.err != nil {
		return
	}

	switch n := (*node).(type) {
	case *ast.IdentifierNode:
		if _, ok := v.fields[n.Value]; !ok && !AllowedFunctions[n.Value] {
			v.err = errs.InvalidFilter("unknown field", goerr.V("field", n.Value))
		}

	case *ast.BinaryNode:
		if ident, ok := n.Left.(*ast.IdentifierNode); ok {
			if field, ok := v.fields[ident.Value]; ok && !field.IsOperatorAllowed(n.Operator) {
				v.err = errs.InvalidFilter("operator not allowed for field",
					goerr.V("field", ident.Value), goerr.V("operator", n.Operator))
			}
		}

	case *ast.MemberNode:
		if ident, ok := n.Node.(*ast.IdentifierNode); ok {
			v.err = errs.InvalidFilter("member access is not supported", goerr.V("field", ident.Value))
		}

	case *ast.BuiltinNode:
		if !AllowedFunctions[n.Name] {
			v.err = errs.InvalidFilter("function is not allowed", goerr.V("function", n.Name))
		}

	case *ast.CallNode:
		if ident, ok := n.Callee.(*ast.IdentifierNode); ok && !AllowedFunctions[ident.Value] {
			v.err = errs.InvalidFilter("function is not allowed", goerr.V("function", ident.Value))
		}
	}
}
