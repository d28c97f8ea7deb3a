package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectHashDeterminism(t *testing.T) {
	obj := Object{Class: "Sample", ID: "1", Fields: Map{"stringField": String("Foo"), "n": Int(2)}}

	h1, err := ObjectHash(obj)
	require.NoError(t, err)
	h2, err := ObjectHash(obj.Clone())
	require.NoError(t, err)

	assert.Equal(t, h1, h2, "ObjectHash must be deterministic")
	assert.Len(t, h1, 64, "SHA-256 hex is 64 characters")
}

func TestObjectHashChangesWithContent(t *testing.T) {
	base := Object{Class: "Sample", ID: "1", Fields: Map{"stringField": String("Foo")}}

	otherField := base.Clone()
	otherField.Fields["stringField"] = String("Bar")
	otherID := base.Clone()
	otherID.ID = "2"
	otherClass := base.Clone()
	otherClass.Class = "Other"

	h := MustObjectHash(base)
	assert.NotEqual(t, h, MustObjectHash(otherField))
	assert.NotEqual(t, h, MustObjectHash(otherID))
	assert.NotEqual(t, h, MustObjectHash(otherClass))
}

func TestObjectHashNilFieldsEqualsEmpty(t *testing.T) {
	a := Object{Class: "C", ID: "1"}
	b := Object{Class: "C", ID: "1", Fields: Map{}}
	assert.Equal(t, MustObjectHash(a), MustObjectHash(b))
}

func TestSchemaHashOrderIndependentWithinClass(t *testing.T) {
	s1 := Schema{Classes: []Class{{Name: "A", Properties: []Property{
		{Name: "x", Type: TypeInt}, {Name: "y", Type: TypeString},
	}}}}
	s2 := Schema{Classes: []Class{{Name: "A", Properties: []Property{
		{Name: "y", Type: TypeString}, {Name: "x", Type: TypeInt},
	}}}}

	h1, err := SchemaHash(s1)
	require.NoError(t, err)
	h2, err := SchemaHash(s2)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	s2.Classes[0].Properties[0].Optional = true
	h3, err := SchemaHash(s2)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestChangedFields(t *testing.T) {
	before := Map{"a": Int(1), "b": String("x"), "c": Bool(true)}
	after := Map{"a": Int(1), "b": String("y"), "d": Int(4)}

	assert.Equal(t, []string{"b", "c", "d"}, ChangedFields(before, after))
	assert.Empty(t, ChangedFields(before, before.Clone()))
}
