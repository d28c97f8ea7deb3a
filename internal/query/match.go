package query

import "github.com/roach88/realm/internal/ir"

// Match evaluates a predicate against an object. Engines that keep objects
// in memory filter with Match; the SQL backend must agree with it.
func Match(p Predicate, obj ir.Object) bool {
	switch pred := p.(type) {
	case nil, True:
		return true
	case False:
		return false
	case Comparison:
		return matchComparison(pred, obj.Get(pred.Field))
	case And:
		for _, sub := range pred.Predicates {
			if !Match(sub, obj) {
				return false
			}
		}
		return true
	case Or:
		for _, sub := range pred.Predicates {
			if Match(sub, obj) {
				return true
			}
		}
		return false
	case Not:
		return !Match(pred.Predicate, obj)
	}
	return false
}

func matchComparison(c Comparison, actual ir.Value) bool {
	switch c.Op {
	case OpEq:
		return ir.Equal(actual, c.Value)
	case OpNe:
		return !ir.Equal(actual, c.Value)
	}

	cmp, err := ir.Compare(actual, c.Value)
	if err != nil {
		return false
	}
	switch c.Op {
	case OpLt:
		return cmp < 0
	case OpLe:
		return cmp <= 0
	case OpGt:
		return cmp > 0
	case OpGe:
		return cmp >= 0
	}
	return false
}
