package schema

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/realm/internal/ir"
)

func TestCompileStringBasic(t *testing.T) {
	s, err := CompileString(`
		class: Sample: {
			primary_key: "name"
			properties: {
				name:  string
				count: int
				note?: string
			}
		}
	`, "sample.cue")
	require.NoError(t, err)

	require.Len(t, s.Classes, 1)
	class := s.Classes[0]
	assert.Equal(t, "Sample", class.Name)
	assert.Equal(t, "name", class.PrimaryKey)
	assert.Equal(t, []ir.Property{
		{Name: "name", Type: ir.TypeString},
		{Name: "count", Type: ir.TypeInt},
		{Name: "note", Type: ir.TypeString, Optional: true},
	}, class.Properties)
}

func TestCompileTypes(t *testing.T) {
	tests := []struct {
		name     string
		cueType  string
		expected string
	}{
		{"string", "string", ir.TypeString},
		{"int", "int", ir.TypeInt},
		{"bool", "bool", ir.TypeBool},
		{"list", "[...int]", ir.TypeArray},
		{"struct", "{ a: string }", ir.TypeObject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := CompileString(`class: C: properties: f: `+tt.cueType, "types.cue")
			require.NoError(t, err)
			prop, ok := s.Classes[0].Property("f")
			require.True(t, ok)
			assert.Equal(t, tt.expected, prop.Type)
		})
	}
}

func TestCompileRejectsFloats(t *testing.T) {
	for _, typ := range []string{"float", "number"} {
		t.Run(typ, func(t *testing.T) {
			_, err := CompileString(`class: C: properties: price: `+typ, "float.cue")
			require.Error(t, err)
			assert.Contains(t, err.Error(), "float types are forbidden")

			var ce *CompileError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, "type", ce.Field)
		})
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantErr string
	}{
		{"no classes", `other: 1`, "at least one class is required"},
		{"no properties", `class: C: { primary_key: "x" }`, "properties are required"},
		{"unknown primary key", `class: C: { primary_key: "x", properties: { y: string } }`, "not a declared property"},
		{"bool primary key", `class: C: { primary_key: "b", properties: { b: bool } }`, "must be string or int"},
		{"optional primary key", `class: C: { primary_key: "b", properties: { b?: string } }`, "cannot be optional"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileString(tt.src, "bad.cue")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCompileErrorPosition(t *testing.T) {
	err := &CompileError{Field: "class", Message: "broken"}
	assert.Equal(t, "class: broken", err.Error())
}

func TestLoadFileAndDirectory(t *testing.T) {
	for _, path := range []string{
		filepath.Join("testdata", "sample.cue"),
		"testdata",
	} {
		t.Run(path, func(t *testing.T) {
			s, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, []string{"Sample", "Log"}, s.ClassNames())

			sample, ok := s.Class("Sample")
			require.True(t, ok)
			assert.Equal(t, "name", sample.PrimaryKey)
			desc, ok := sample.Property("description")
			require.True(t, ok)
			assert.True(t, desc.Optional)
		})
	}
}

func TestLoadMissingPath(t *testing.T) {
	_, err := Load(filepath.Join("testdata", "missing.cue"))
	require.Error(t, err)
}

func TestCompileSyntaxErrorPosition(t *testing.T) {
	_, err := CompileString("class: Task: {", "syntax.cue")
	require.Error(t, err)

	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "cue", ce.Field)
	assert.Equal(t, "syntax.cue", ce.Pos.Filename())
	assert.Contains(t, err.Error(), "syntax.cue:")
}
