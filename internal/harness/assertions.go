package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/realm/internal/ir"
	"github.com/roach88/realm/internal/realm"
)

// AssertionError is returned when an assertion fails.
// It includes the trace to help debug the failure.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, event := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s v%d", event.Seq, event.Op, event.Version)
		if event.Error != "" {
			fmt.Fprintf(&buf, " error=%q", event.Error)
		}
		buf.WriteByte('\n')
	}
	return buf.String()
}

// AssertionContext provides the Realms assertions read through.
type AssertionContext struct {
	// Realm is the Realm the steps ran on; it may be closed.
	Realm *realm.Realm

	// Inspector is a Realm opened on the same database after the steps.
	Inspector *realm.Realm
}

// EvaluateAssertions evaluates all assertions and returns a message for
// each one that failed.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertClosed:
			err = assertClosed(result.Trace, actx, a)
		case AssertVersion, AssertCount, AssertObject, AssertAbsent:
			if actx == nil || actx.Inspector == nil {
				err = fmt.Errorf("assertion[%d]: %s requires a realm", i, a.Type)
				break
			}
			err = assertState(result.Trace, actx.Inspector, a)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

func assertTraceCount(trace []TraceEvent, a Assertion) error {
	n := 0
	for _, e := range trace {
		if e.Op == a.Op {
			n++
		}
	}
	if n != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%s appears %d times", a.Op, a.Count),
			Actual:   fmt.Sprintf("appears %d times", n),
			Trace:    trace,
		}
	}
	return nil
}

func assertClosed(trace []TraceEvent, actx *AssertionContext, a Assertion) error {
	if actx == nil || actx.Realm == nil {
		return fmt.Errorf("%s requires a realm", a.Type)
	}
	if !actx.Realm.IsClosed() {
		return &AssertionError{Type: AssertClosed, Expected: "realm closed", Actual: "realm open", Trace: trace}
	}
	if _, err := actx.Realm.Objects(firstClass(actx.Inspector)); !realm.IsClosedError(err) {
		return &AssertionError{
			Type:     AssertClosed,
			Expected: "reads fail with a closed error",
			Actual:   fmt.Sprintf("%v", err),
			Trace:    trace,
		}
	}
	return nil
}

func firstClass(r *realm.Realm) string {
	if r == nil {
		return ""
	}
	if names := r.Schema().ClassNames(); len(names) > 0 {
		return names[0]
	}
	return ""
}

func assertState(trace []TraceEvent, r *realm.Realm, a Assertion) error {
	fail := func(expected, actual string) error {
		return &AssertionError{Type: a.Type, Expected: expected, Actual: actual, Trace: trace}
	}

	switch a.Type {
	case AssertVersion:
		v, err := r.Version()
		if err != nil {
			return err
		}
		if v.Version != a.Version {
			return fail(fmt.Sprintf("version %d", a.Version), fmt.Sprintf("version %d", v.Version))
		}

	case AssertCount:
		res, err := r.Query(a.Class, a.Predicate, a.Args...)
		if err != nil {
			return fmt.Errorf("%s: %w", a.Type, err)
		}
		n, err := res.Count()
		if err != nil {
			return fmt.Errorf("%s: %w", a.Type, err)
		}
		if n != a.Count {
			return fail(fmt.Sprintf("%d %s objects matching %q", a.Count, a.Class, a.Predicate), fmt.Sprintf("%d", n))
		}

	case AssertObject:
		obj, ok, err := r.Find(a.Class, a.ID)
		if err != nil {
			return fmt.Errorf("%s: %w", a.Type, err)
		}
		if !ok {
			return fail(fmt.Sprintf("%s[%s] exists", a.Class, a.ID), "not found")
		}
		expected, err := ir.MapFromGo(a.Expect)
		if err != nil {
			return fmt.Errorf("%s: expect: %w", a.Type, err)
		}
		for _, k := range expected.SortedKeys() {
			if got := obj.Get(k); !ir.Equal(got, expected[k]) {
				return fail(fmt.Sprintf("%s[%s].%s = %s", a.Class, a.ID, k, formatValue(expected[k])),
					formatValue(got))
			}
		}

	case AssertAbsent:
		_, ok, err := r.Find(a.Class, a.ID)
		if err != nil {
			return fmt.Errorf("%s: %w", a.Type, err)
		}
		if ok {
			return fail(fmt.Sprintf("%s[%s] absent", a.Class, a.ID), "found")
		}
	}
	return nil
}

// checkExpect compares a step's outcome with its expect clause. A step
// without one must succeed.
func checkExpect(index int, expect *ExpectClause, ids []string, err error, version uint64) []string {
	var errs []string
	if expect == nil {
		if err != nil {
			errs = append(errs, fmt.Sprintf("steps[%d]: unexpected error: %v", index, err))
		}
		return errs
	}

	switch {
	case expect.Error == "" && err != nil:
		errs = append(errs, fmt.Sprintf("steps[%d]: unexpected error: %v", index, err))
	case expect.Error != "" && err == nil:
		errs = append(errs, fmt.Sprintf("steps[%d]: expected error containing %q, got success", index, expect.Error))
	case expect.Error != "" && !strings.Contains(err.Error(), expect.Error):
		errs = append(errs, fmt.Sprintf("steps[%d]: expected error containing %q, got %q", index, expect.Error, err))
	}

	if expect.IDs != nil && !slices.Equal(expect.IDs, ids) {
		errs = append(errs, fmt.Sprintf("steps[%d]: expected ids %v, got %v", index, expect.IDs, ids))
	}
	if expect.Count != nil && *expect.Count != len(ids) {
		errs = append(errs, fmt.Sprintf("steps[%d]: expected %d results, got %d", index, *expect.Count, len(ids)))
	}
	if expect.Version != 0 && expect.Version != version {
		errs = append(errs, fmt.Sprintf("steps[%d]: expected version %d, got %d", index, expect.Version, version))
	}
	return errs
}

func formatValue(v ir.Value) string {
	b, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
