package harness

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckExpect(t *testing.T) {
	tests := []struct {
		name    string
		expect  *ExpectClause
		ids     []string
		err     error
		version uint64
		want    []string
	}{
		{name: "no clause, success"},
		{
			name: "no clause, error",
			err:  errors.New("boom"),
			want: []string{"steps[0]: unexpected error: boom"},
		},
		{
			name:   "error matches",
			expect: &ExpectClause{Error: "oo"},
			err:    errors.New("boom"),
		},
		{
			name:   "error differs",
			expect: &ExpectClause{Error: "bang"},
			err:    errors.New("boom"),
			want:   []string{`steps[0]: expected error containing "bang", got "boom"`},
		},
		{
			name:    "ids count and version",
			expect:  &ExpectClause{IDs: []string{"a"}, Count: intPtr(1), Version: 3},
			ids:     []string{"a"},
			version: 3,
		},
		{
			name:   "empty ids expected",
			expect: &ExpectClause{IDs: []string{}},
			ids:    []string{"a"},
			want:   []string{"steps[0]: expected ids [], got [a]"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := checkExpect(0, tt.expect, tt.ids, tt.err, tt.version)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAssertTraceCount(t *testing.T) {
	trace := []TraceEvent{
		{Seq: 1, Op: OpWrite, Version: 2},
		{Seq: 2, Op: OpWrite, Version: 2, Error: "boom"},
		{Seq: 3, Op: OpQuery, Version: 2},
	}

	assert.NoError(t, assertTraceCount(trace, Assertion{Op: OpWrite, Count: 2}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Op: OpClose, Count: 0}))

	err := assertTraceCount(trace, Assertion{Op: OpQuery, Count: 2})
	var ae *AssertionError
	assert.ErrorAs(t, err, &ae)
	assert.Equal(t, "appears 1 times", ae.Actual)
	assert.Contains(t, err.Error(), `[2] write v2 error="boom"`)
}

func TestEvaluateAssertions_RequiresRealm(t *testing.T) {
	errs := EvaluateAssertions(NewResult(), []Assertion{
		{Type: AssertCount, Class: "Task"},
		{Type: AssertClosed},
		{Type: "bogus"},
	}, nil)

	assert.Equal(t, []string{
		"assertion[0]: count requires a realm",
		"closed requires a realm",
		`assertion[2]: unknown assertion type "bogus"`,
	}, errs)
}
