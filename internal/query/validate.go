package query

import (
	"fmt"

	"github.com/roach88/realm/internal/ir"
)

// Validate checks that every field a predicate references is declared on
// the class and that ordering comparisons use orderable property types.
// Returns all problems found (does not fail-fast).
func Validate(p Predicate, class ir.Class) []error {
	v := &validator{class: class}
	v.walk(p)
	return v.errs
}

type validator struct {
	class ir.Class
	errs  []error
}

func (v *validator) addError(format string, args ...any) {
	v.errs = append(v.errs, fmt.Errorf(format, args...))
}

func (v *validator) walk(p Predicate) {
	switch pred := p.(type) {
	case nil, True, False:
	case Comparison:
		prop, ok := v.class.Property(pred.Field)
		if !ok {
			v.addError("%s has no property %q", v.class.Name, pred.Field)
			return
		}
		if pred.Op.Ordering() {
			switch prop.Type {
			case ir.TypeString, ir.TypeInt, ir.TypeBool:
			default:
				v.addError("%s.%s: %s property cannot be ordered", v.class.Name, pred.Field, prop.Type)
			}
		}
	case And:
		for _, sub := range pred.Predicates {
			v.walk(sub)
		}
	case Or:
		for _, sub := range pred.Predicates {
			v.walk(sub)
		}
	case Not:
		v.walk(pred.Predicate)
	default:
		v.addError("unsupported predicate type: %T", p)
	}
}
