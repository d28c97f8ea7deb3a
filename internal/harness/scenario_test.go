package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario_ResolvesSchema(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/end_to_end.yaml")
	require.NoError(t, err)

	assert.Equal(t, "end_to_end", s.Name)
	assert.Equal(t, filepath.Join("testdata", "schema", "tasks.cue"), s.Schema)
	require.Len(t, s.Steps, 4)
	require.Len(t, s.Steps[1].Concurrent, 2)
	assert.Equal(t, "B", s.Steps[1].Concurrent[1][0].Copy.Fields["name"])
	assert.Equal(t, []any{"Foo"}, s.Steps[2].Query.Args)
	assert.True(t, s.Steps[3].Close)
}

func TestLoadScenario_Errors(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
		return p
	}

	_, err := LoadScenario(filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read scenario file")

	p := write("noschema.yaml", `
name: x
description: d
schema: nope.cue
steps:
  - refresh: true
`)
	_, err = LoadScenario(p)
	assert.ErrorContains(t, err, "schema file not found")
}

func TestParseScenario_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown field",
			yaml: "name: x\ndescription: d\nschema: s.cue\nstep: []\n",
			want: "field step not found",
		},
		{
			name: "missing name",
			yaml: "description: d\nschema: s.cue\nsteps: [{refresh: true}]\n",
			want: "name is required",
		},
		{
			name: "missing schema",
			yaml: "name: x\ndescription: d\nsteps: [{refresh: true}]\n",
			want: "schema is required",
		},
		{
			name: "unknown engine",
			yaml: "name: x\ndescription: d\nschema: s.cue\nengine: rocks\nsteps: [{refresh: true}]\n",
			want: `unknown engine "rocks"`,
		},
		{
			name: "no steps",
			yaml: "name: x\ndescription: d\nschema: s.cue\n",
			want: "steps list is required",
		},
		{
			name: "two actions",
			yaml: "name: x\ndescription: d\nschema: s.cue\nsteps: [{refresh: true, close: true}]\n",
			want: "exactly one of write, concurrent, query, refresh, close",
		},
		{
			name: "empty op",
			yaml: "name: x\ndescription: d\nschema: s.cue\nsteps: [{write: [{}]}]\n",
			want: "steps[0].write[0]: exactly one operation is required (got 0)",
		},
		{
			name: "bad policy",
			yaml: "name: x\ndescription: d\nschema: s.cue\nsteps: [{write: [{copy: {class: T, fields: {}, policy: some}}]}]\n",
			want: `unknown policy "some"`,
		},
		{
			name: "concurrent op",
			yaml: "name: x\ndescription: d\nschema: s.cue\nsteps: [{concurrent: [[{delete: {class: T}}]]}]\n",
			want: "steps[0].concurrent[0][0]: delete: class and id are required",
		},
		{
			name: "query without class",
			yaml: "name: x\ndescription: d\nschema: s.cue\nsteps: [{query: {predicate: TRUEPREDICATE}}]\n",
			want: "steps[0].query: class is required",
		},
		{
			name: "unknown assertion",
			yaml: "name: x\ndescription: d\nschema: s.cue\nsteps: [{refresh: true}]\nassertions: [{type: vibes}]\n",
			want: `unknown assertion type "vibes"`,
		},
		{
			name: "object assertion without id",
			yaml: "name: x\ndescription: d\nschema: s.cue\nsteps: [{refresh: true}]\nassertions: [{type: object, class: T}]\n",
			want: "object requires 'class' and 'id' fields",
		},
		{
			name: "trace_count without op",
			yaml: "name: x\ndescription: d\nschema: s.cue\nsteps: [{refresh: true}]\nassertions: [{type: trace_count, count: 1}]\n",
			want: "trace_count requires 'op' field",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseScenario_Valid(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: ok
description: d
schema: s.cue
ids: [x]
steps:
  - write:
      - copy: { class: T, id: t1, fields: { n: 1 }, policy: all }
      - delete: { class: T, id: t0 }
      - delete_class: T
      - delete_all: true
      - cancel: true
      - fail: nope
    expect: { error: nope, count: 0 }
assertions:
  - type: closed
`))
	require.NoError(t, err)
	ops := s.Steps[0].Write
	require.Len(t, ops, 6)
	assert.Equal(t, "t1", ops[0].Copy.ID)
	assert.Equal(t, "all", ops[0].Copy.Policy)
	assert.Equal(t, "T", ops[2].DeleteClass)
	assert.True(t, ops[3].DeleteAll)
	require.NotNil(t, s.Steps[0].Expect.Count)
	assert.Zero(t, *s.Steps[0].Expect.Count)
}
