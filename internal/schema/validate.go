package schema

import (
	"errors"
	"fmt"

	"github.com/roach88/realm/internal/ir"
)

// Object validation error codes (E120-E129)
const (
	ErrUnknownClass    = "E120" // class not declared in the schema
	ErrUnknownProperty = "E121" // field not declared on the class
	ErrTypeMismatch    = "E122" // field value does not match its property type
	ErrMissingRequired = "E123" // required property unset or null
	ErrPrimaryKey      = "E124" // object id disagrees with its primary key field
)

// ValidationError reports an object that does not conform to its class.
type ValidationError struct {
	Class   string `json:"class"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Class, e.Message)
	}
	return fmt.Sprintf("[%s] %s.%s: %s", e.Code, e.Class, e.Field, e.Message)
}

// IsValidationError reports whether err is or wraps a ValidationError.
func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

// ValidateObject checks an object against its class declaration.
// Returns all errors found (does not fail-fast).
func ValidateObject(s ir.Schema, obj ir.Object) []ValidationError {
	class, ok := s.Class(obj.Class)
	if !ok {
		return []ValidationError{{
			Class:   obj.Class,
			Message: "class is not declared in the schema",
			Code:    ErrUnknownClass,
		}}
	}

	var errs []ValidationError
	for _, name := range obj.Fields.SortedKeys() {
		if _, ok := class.Property(name); !ok {
			errs = append(errs, ValidationError{
				Class:   obj.Class,
				Field:   name,
				Message: "property is not declared",
				Code:    ErrUnknownProperty,
			})
		}
	}

	for _, prop := range class.Properties {
		v := obj.Get(prop.Name)
		if ir.IsNull(v) {
			if !prop.Optional {
				errs = append(errs, ValidationError{
					Class:   obj.Class,
					Field:   prop.Name,
					Message: "required property is unset",
					Code:    ErrMissingRequired,
				})
			}
			continue
		}
		if kind := ir.KindOf(v); kind != prop.Type {
			errs = append(errs, ValidationError{
				Class:   obj.Class,
				Field:   prop.Name,
				Message: fmt.Sprintf("expected %s, got %s", prop.Type, kind),
				Code:    ErrTypeMismatch,
			})
		}
	}

	if class.PrimaryKey != "" && obj.ID != "" {
		if pk := PrimaryKeyString(obj.Get(class.PrimaryKey)); pk != "" && pk != obj.ID {
			errs = append(errs, ValidationError{
				Class:   obj.Class,
				Field:   class.PrimaryKey,
				Message: fmt.Sprintf("primary key %q does not match object id %q", pk, obj.ID),
				Code:    ErrPrimaryKey,
			})
		}
	}

	return errs
}

// CheckObject is ValidateObject folded into a single error, or nil.
func CheckObject(s ir.Schema, obj ir.Object) error {
	verrs := ValidateObject(s, obj)
	if len(verrs) == 0 {
		return nil
	}
	errs := make([]error, len(verrs))
	for i, e := range verrs {
		errs[i] = e
	}
	return errors.Join(errs...)
}

// PrimaryKeyString renders a primary key value as an object id. Returns ""
// for values that cannot serve as a key.
func PrimaryKeyString(v ir.Value) string {
	switch val := v.(type) {
	case ir.String:
		return string(val)
	case ir.Int:
		return fmt.Sprintf("%d", int64(val))
	}
	return ""
}

// ResolveID returns the id an object should be stored under: its explicit
// ID, else its primary key field. Returns "" when the class has no primary
// key and the object carries no id, meaning the caller must generate one.
func ResolveID(s ir.Schema, obj ir.Object) string {
	if obj.ID != "" {
		return obj.ID
	}
	class, ok := s.Class(obj.Class)
	if !ok || class.PrimaryKey == "" {
		return ""
	}
	return PrimaryKeyString(obj.Get(class.PrimaryKey))
}
