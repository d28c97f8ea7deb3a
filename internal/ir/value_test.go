package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromGo(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  Value
	}{
		{"nil", nil, Null{}},
		{"string", "foo", String("foo")},
		{"int", 7, Int(7)},
		{"int64", int64(-3), Int(-3)},
		{"bool", true, Bool(true)},
		{"integral float", float64(12), Int(12)},
		{"json number", json.Number("99"), Int(99)},
		{"slice", []any{"a", 1}, Array{String("a"), Int(1)}},
		{"map", map[string]any{"k": false}, Map{"k": Bool(false)}},
		{"value passthrough", String("x"), String("x")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromGo(tt.input)
			require.NoError(t, err)
			assert.True(t, Equal(tt.want, got), "got %#v", got)
		})
	}
}

func TestFromGoRejectsFloats(t *testing.T) {
	_, err := FromGo(1.5)
	require.Error(t, err)

	_, err = FromGo(map[string]any{"price": 9.99})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "price")
}

func TestFromGoRejectsUnsupported(t *testing.T) {
	_, err := FromGo(struct{}{})
	require.Error(t, err)
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(nil, Null{}))
	assert.True(t, Equal(Map{"a": Array{Int(1)}}, Map{"a": Array{Int(1)}}))
	assert.False(t, Equal(Map{"a": Int(1)}, Map{"a": Int(2)}))
	assert.False(t, Equal(Int(1), String("1")))
	assert.False(t, Equal(Array{Int(1)}, Array{Int(1), Int(2)}))
	assert.False(t, Equal(Null{}, String("")))
}

func TestCompare(t *testing.T) {
	c, err := Compare(Int(1), Int(2))
	require.NoError(t, err)
	assert.Equal(t, -1, c)

	c, err = Compare(String("b"), String("a"))
	require.NoError(t, err)
	assert.Equal(t, 1, c)

	c, err = Compare(Bool(false), Bool(true))
	require.NoError(t, err)
	assert.Equal(t, -1, c)

	_, err = Compare(Int(1), String("1"))
	require.Error(t, err)

	_, err = Compare(Null{}, Null{})
	require.Error(t, err)
}

func TestUnmarshalValue(t *testing.T) {
	v, err := UnmarshalValue([]byte(`{"a":[1,"x",true,null]}`))
	require.NoError(t, err)
	assert.True(t, Equal(Map{"a": Array{Int(1), String("x"), Bool(true), Null{}}}, v))

	_, err = UnmarshalValue([]byte(`1.5`))
	require.Error(t, err)

	_, err = UnmarshalValue([]byte(`1e3`))
	require.Error(t, err)
}

func TestMapCloneIsDeep(t *testing.T) {
	orig := Map{"nested": Map{"n": Int(1)}, "list": Array{Int(1)}}
	clone := orig.Clone()

	clone["nested"].(Map)["n"] = Int(2)
	clone["list"].(Array)[0] = Int(9)

	assert.Equal(t, Int(1), orig["nested"].(Map)["n"])
	assert.Equal(t, Int(1), orig["list"].(Array)[0])
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, "string", KindOf(String("")))
	assert.Equal(t, "int", KindOf(Int(0)))
	assert.Equal(t, "bool", KindOf(Bool(false)))
	assert.Equal(t, "array", KindOf(Array{}))
	assert.Equal(t, "object", KindOf(Map{}))
	assert.Equal(t, "null", KindOf(nil))
}
