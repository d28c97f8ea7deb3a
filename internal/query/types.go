package query

import (
	"fmt"
	"strings"

	"github.com/roach88/realm/internal/ir"
)

// Predicate represents a filter condition over the fields of one object.
//
// This is a sealed interface - only types in this package implement it.
type Predicate interface {
	predicateNode() // Marker method - seals interface to this package
	String() string
}

// Op is a comparison operator.
type Op string

// Comparison operators.
const (
	OpEq Op = "=="
	OpNe Op = "!="
	OpLt Op = "<"
	OpLe Op = "<="
	OpGt Op = ">"
	OpGe Op = ">="
)

// Ordering reports whether the operator orders values rather than testing
// equality.
func (o Op) Ordering() bool {
	switch o {
	case OpLt, OpLe, OpGt, OpGe:
		return true
	}
	return false
}

// True matches every object.
type True struct{}

func (True) predicateNode() {}

func (True) String() string { return "TRUEPREDICATE" }

// False matches no object.
type False struct{}

func (False) predicateNode() {}

func (False) String() string { return "FALSEPREDICATE" }

// Comparison compares one field against a literal value.
//
// Example:
//
//	Comparison{Field: "status", Op: OpEq, Value: ir.String("active")}
type Comparison struct {
	Field string
	Op    Op
	Value ir.Value // nil is treated as Null
}

func (Comparison) predicateNode() {}

func (c Comparison) String() string {
	return fmt.Sprintf("%s %s %s", c.Field, c.Op, literal(c.Value))
}

// And represents a conjunction. An empty And matches everything.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

func (a And) String() string {
	return join(a.Predicates, " AND ", "TRUEPREDICATE")
}

// Or represents a disjunction. An empty Or matches nothing.
type Or struct {
	Predicates []Predicate
}

func (Or) predicateNode() {}

func (o Or) String() string {
	return join(o.Predicates, " OR ", "FALSEPREDICATE")
}

// Not negates a predicate.
type Not struct {
	Predicate Predicate
}

func (Not) predicateNode() {}

func (n Not) String() string {
	return "NOT (" + n.Predicate.String() + ")"
}

// Eq is shorthand for an equality comparison.
func Eq(field string, v ir.Value) Comparison {
	return Comparison{Field: field, Op: OpEq, Value: v}
}

func join(preds []Predicate, sep, empty string) string {
	if len(preds) == 0 {
		return empty
	}
	parts := make([]string, len(preds))
	for i, p := range preds {
		s := p.String()
		switch p.(type) {
		case And, Or:
			s = "(" + s + ")"
		}
		parts[i] = s
	}
	return strings.Join(parts, sep)
}

// literal renders a value in predicate syntax. Strings use single quotes.
func literal(v ir.Value) string {
	switch val := v.(type) {
	case nil, ir.Null:
		return "null"
	case ir.String:
		r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
		return "'" + r.Replace(string(val)) + "'"
	case ir.Int:
		return fmt.Sprintf("%d", int64(val))
	case ir.Bool:
		return fmt.Sprintf("%t", bool(val))
	default:
		return string(ir.MustMarshalCanonical(v))
	}
}
