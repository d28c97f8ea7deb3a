package core

import (
	"errors"
	"fmt"

	"github.com/roach88/realm/internal/ir"
	"github.com/roach88/realm/internal/query"
	"github.com/roach88/realm/internal/schema"
)

// CompilePredicate parses predicate for class and validates it against the
// schema. Errors wrap ErrUnknownClass or ErrInvalidQuery.
func CompilePredicate(s ir.Schema, class, predicate string, args ...ir.Value) (query.Predicate, error) {
	c, ok := s.Class(class)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownClass, class)
	}
	pred, err := query.Parse(predicate, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	if errs := query.Validate(pred, c); len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, errors.Join(errs...))
	}
	return pred, nil
}

// CheckObject validates obj for insertion. Errors wrap ErrUnknownClass or
// ErrInvalidObject.
func CheckObject(s ir.Schema, obj ir.Object) error {
	if _, ok := s.Class(obj.Class); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownClass, obj.Class)
	}
	if obj.ID == "" {
		return fmt.Errorf("%w: %s has no id", ErrInvalidObject, obj.Class)
	}
	if err := schema.CheckObject(s, obj); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidObject, err)
	}
	return nil
}

// ResolveSchema picks the schema to open with: requested unless it is
// empty, else stored. A non-empty requested schema must hash equal to a
// non-empty stored one.
func ResolveSchema(requested, stored ir.Schema) (ir.Schema, error) {
	if len(requested.Classes) == 0 {
		return stored, nil
	}
	if len(stored.Classes) == 0 {
		return requested, nil
	}
	rh, err := ir.SchemaHash(requested)
	if err != nil {
		return ir.Schema{}, err
	}
	sh, err := ir.SchemaHash(stored)
	if err != nil {
		return ir.Schema{}, err
	}
	if rh != sh {
		return ir.Schema{}, fmt.Errorf("%w: requested %s, stored %s", ErrSchemaMismatch, rh[:12], sh[:12])
	}
	return requested, nil
}
