package schema

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/realm/internal/ir"
)

// Compile builds a schema from the "class" struct of a CUE value. Classes
// keep their declaration order.
func Compile(v cue.Value) (ir.Schema, error) {
	if err := v.Err(); err != nil {
		return ir.Schema{}, formatCUEError(err)
	}

	classesVal := v.LookupPath(cue.ParsePath("class"))
	if !classesVal.Exists() {
		return ir.Schema{}, &CompileError{
			Field:   "class",
			Message: "at least one class is required",
			Pos:     v.Pos(),
		}
	}

	iter, err := classesVal.Fields()
	if err != nil {
		return ir.Schema{}, formatCUEError(err)
	}

	var s ir.Schema
	for iter.Next() {
		class, err := CompileClass(iter.Value())
		if err != nil {
			return ir.Schema{}, err
		}
		s.Classes = append(s.Classes, class)
	}
	if len(s.Classes) == 0 {
		return ir.Schema{}, &CompileError{
			Field:   "class",
			Message: "at least one class is required",
			Pos:     classesVal.Pos(),
		}
	}
	return s, nil
}

// CompileString compiles CUE source text. filename is used in error
// positions only.
func CompileString(src, filename string) (ir.Schema, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename(filename))
	return Compile(v)
}

// CompileClass parses a single class struct. The class name is taken from
// the struct label, e.g. the value at path "class.Sample".
func CompileClass(v cue.Value) (ir.Class, error) {
	if err := v.Err(); err != nil {
		return ir.Class{}, formatCUEError(err)
	}

	var class ir.Class
	if labels := v.Path().Selectors(); len(labels) > 0 {
		class.Name = labels[len(labels)-1].String()
	}

	propsVal := v.LookupPath(cue.ParsePath("properties"))
	if !propsVal.Exists() {
		return ir.Class{}, &CompileError{
			Field:   fmt.Sprintf("class.%s.properties", class.Name),
			Message: "properties are required",
			Pos:     v.Pos(),
		}
	}

	iter, err := propsVal.Fields(cue.Optional(true))
	if err != nil {
		return ir.Class{}, formatCUEError(err)
	}
	for iter.Next() {
		typ, err := extractTypeName(iter.Value())
		if err != nil {
			return ir.Class{}, err
		}
		class.Properties = append(class.Properties, ir.Property{
			Name:     iter.Selector().Unquoted(),
			Type:     typ,
			Optional: iter.IsOptional(),
		})
	}

	pkVal := v.LookupPath(cue.ParsePath("primary_key"))
	if pkVal.Exists() {
		pk, err := pkVal.String()
		if err != nil {
			return ir.Class{}, formatCUEError(err)
		}
		prop, ok := class.Property(pk)
		if !ok {
			return ir.Class{}, &CompileError{
				Field:   fmt.Sprintf("class.%s.primary_key", class.Name),
				Message: fmt.Sprintf("primary key %q is not a declared property", pk),
				Pos:     pkVal.Pos(),
			}
		}
		if prop.Type != ir.TypeString && prop.Type != ir.TypeInt {
			return ir.Class{}, &CompileError{
				Field:   fmt.Sprintf("class.%s.primary_key", class.Name),
				Message: fmt.Sprintf("primary key %q must be string or int, got %s", pk, prop.Type),
				Pos:     pkVal.Pos(),
			}
		}
		if prop.Optional {
			return ir.Class{}, &CompileError{
				Field:   fmt.Sprintf("class.%s.primary_key", class.Name),
				Message: fmt.Sprintf("primary key %q cannot be optional", pk),
				Pos:     pkVal.Pos(),
			}
		}
		class.PrimaryKey = pk
	}

	return class, nil
}

// extractTypeName converts a CUE kind to a property type. Floats are
// forbidden.
func extractTypeName(v cue.Value) (string, error) {
	switch v.IncompleteKind() {
	case cue.StringKind:
		return ir.TypeString, nil
	case cue.IntKind:
		return ir.TypeInt, nil
	case cue.BoolKind:
		return ir.TypeBool, nil
	case cue.ListKind:
		return ir.TypeArray, nil
	case cue.StructKind:
		return ir.TypeObject, nil
	case cue.FloatKind, cue.NumberKind:
		return "", &CompileError{
			Field:   "type",
			Message: "float types are forbidden - use int instead",
			Pos:     v.Pos(),
		}
	default:
		return "", &CompileError{
			Field:   "type",
			Message: fmt.Sprintf("unsupported type kind: %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}
