// Package query provides the predicate representation shared by every
// engine, a parser for the textual predicate syntax, and an evaluator used
// by engines that filter in memory.
//
// SYNTAX:
//
//	TRUEPREDICATE
//	FALSEPREDICATE
//	name == 'Foo'
//	count >= $0 AND done == false
//	NOT (tag == null) OR priority > 3
//
// Comparisons always have a field on the left and a literal or positional
// argument ($0, $1, ...) on the right. AND binds tighter than OR. Keywords
// are case-insensitive; && and || are accepted as aliases.
//
// SEALED INTERFACES:
//
// Predicate is a sealed interface using the marker method pattern. Only
// types in this package implement it, so backends can switch exhaustively:
//
//	switch p := pred.(type) {
//	case True, False, Comparison, And, Or, Not:
//	}
//
// SEMANTICS:
//
// A missing field and an explicit null are the same value. Comparing values
// of different kinds is false, never an error. Ordering operators accept
// only string, int and bool literals.
package query
