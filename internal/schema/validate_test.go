package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/realm/internal/ir"
)

func testSchema() ir.Schema {
	return ir.Schema{Classes: []ir.Class{{
		Name:       "Sample",
		PrimaryKey: "name",
		Properties: []ir.Property{
			{Name: "name", Type: ir.TypeString},
			{Name: "count", Type: ir.TypeInt},
			{Name: "note", Type: ir.TypeString, Optional: true},
		},
	}}}
}

func TestValidateObject(t *testing.T) {
	tests := []struct {
		name  string
		obj   ir.Object
		codes []string
	}{
		{
			name: "valid",
			obj:  ir.Object{Class: "Sample", Fields: ir.Map{"name": ir.String("a"), "count": ir.Int(1)}},
		},
		{
			name: "optional null",
			obj:  ir.Object{Class: "Sample", Fields: ir.Map{"name": ir.String("a"), "count": ir.Int(1), "note": ir.Null{}}},
		},
		{
			name:  "unknown class",
			obj:   ir.Object{Class: "Nope"},
			codes: []string{ErrUnknownClass},
		},
		{
			name:  "unknown property",
			obj:   ir.Object{Class: "Sample", Fields: ir.Map{"name": ir.String("a"), "count": ir.Int(1), "extra": ir.Int(2)}},
			codes: []string{ErrUnknownProperty},
		},
		{
			name:  "type mismatch and missing",
			obj:   ir.Object{Class: "Sample", Fields: ir.Map{"name": ir.Int(3)}},
			codes: []string{ErrTypeMismatch, ErrMissingRequired},
		},
		{
			name:  "primary key mismatch",
			obj:   ir.Object{Class: "Sample", ID: "b", Fields: ir.Map{"name": ir.String("a"), "count": ir.Int(1)}},
			codes: []string{ErrPrimaryKey},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateObject(testSchema(), tt.obj)
			var codes []string
			for _, e := range errs {
				codes = append(codes, e.Code)
			}
			assert.Equal(t, tt.codes, codes)
		})
	}
}

func TestCheckObject(t *testing.T) {
	s := testSchema()

	require.NoError(t, CheckObject(s, ir.Object{Class: "Sample", Fields: ir.Map{"name": ir.String("a"), "count": ir.Int(1)}}))

	err := CheckObject(s, ir.Object{Class: "Sample"})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
	assert.Contains(t, err.Error(), "[E123] Sample.name")
}

func TestResolveID(t *testing.T) {
	s := testSchema()
	s.Classes = append(s.Classes, ir.Class{Name: "Log", Properties: []ir.Property{{Name: "m", Type: ir.TypeString}}})

	assert.Equal(t, "x", ResolveID(s, ir.Object{Class: "Sample", ID: "x"}))
	assert.Equal(t, "a", ResolveID(s, ir.Object{Class: "Sample", Fields: ir.Map{"name": ir.String("a")}}))
	assert.Equal(t, "", ResolveID(s, ir.Object{Class: "Log", Fields: ir.Map{"m": ir.String("a")}}))
	assert.Equal(t, "42", PrimaryKeyString(ir.Int(42)))
	assert.Equal(t, "", PrimaryKeyString(ir.Bool(true)))
}
