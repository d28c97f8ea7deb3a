package core

import (
	"errors"
	"fmt"
)

// Sentinel conditions reported by engines. Engine methods return them
// wrapped in an *EngineError; test with errors.Is or the IsXxx helpers.
var (
	ErrClosed           = errors.New("handle is closed")
	ErrInTransaction    = errors.New("already in a write transaction")
	ErrNotInTransaction = errors.New("not in a write transaction")
	ErrObjectExists     = errors.New("object already exists")
	ErrNoSuchObject     = errors.New("no such object")
	ErrUnknownClass     = errors.New("class is not in the schema")
	ErrInvalidObject    = errors.New("object does not match the schema")
	ErrInvalidQuery     = errors.New("malformed query")
	ErrSchemaMismatch   = errors.New("schema does not match the stored schema")
)

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// CodeClosed indicates use of a closed handle.
	CodeClosed ErrorCode = "CLOSED"

	// CodeTransaction indicates a call made in the wrong transaction state.
	CodeTransaction ErrorCode = "TRANSACTION"

	// CodeNotFound indicates a missing object.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeConflict indicates an insert over an existing object.
	CodeConflict ErrorCode = "CONFLICT"

	// CodeSchema indicates an unknown class, an invalid object or a schema
	// mismatch on open.
	CodeSchema ErrorCode = "SCHEMA"

	// CodeQuery indicates a malformed predicate.
	CodeQuery ErrorCode = "QUERY"

	// CodeStorage indicates a failure of the underlying storage.
	CodeStorage ErrorCode = "STORAGE"
)

// EngineError is the error type every engine method returns.
type EngineError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Engine names the engine that failed.
	Engine string

	// Op names the failed operation, e.g. "commit".
	Op string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	return fmt.Sprintf("%s %s: %s: %v", e.Engine, e.Op, e.Code, e.Err)
}

// Unwrap returns the underlying cause.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// NewError wraps err for engine and op, deriving the code from the
// sentinel err wraps. An err that is already an *EngineError is returned
// unchanged.
func NewError(engine, op string, err error) error {
	if err == nil {
		return nil
	}
	var ee *EngineError
	if errors.As(err, &ee) {
		return err
	}
	return &EngineError{Code: codeOf(err), Engine: engine, Op: op, Err: err}
}

func codeOf(err error) ErrorCode {
	switch {
	case errors.Is(err, ErrClosed):
		return CodeClosed
	case errors.Is(err, ErrInTransaction), errors.Is(err, ErrNotInTransaction):
		return CodeTransaction
	case errors.Is(err, ErrNoSuchObject):
		return CodeNotFound
	case errors.Is(err, ErrObjectExists):
		return CodeConflict
	case errors.Is(err, ErrUnknownClass), errors.Is(err, ErrInvalidObject), errors.Is(err, ErrSchemaMismatch):
		return CodeSchema
	case errors.Is(err, ErrInvalidQuery):
		return CodeQuery
	}
	return CodeStorage
}

func hasCode(err error, code ErrorCode) bool {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code == code
	}
	return false
}

// IsClosedError returns true if the error reports use of a closed handle.
// Uses errors.As to handle wrapped errors.
func IsClosedError(err error) bool {
	return hasCode(err, CodeClosed)
}

// IsTransactionError returns true if a call was made in the wrong
// transaction state.
func IsTransactionError(err error) bool {
	return hasCode(err, CodeTransaction)
}

// IsNotFound returns true if the error reports a missing object.
func IsNotFound(err error) bool {
	return hasCode(err, CodeNotFound)
}

// IsConflict returns true if the error reports an insert over an existing
// object.
func IsConflict(err error) bool {
	return hasCode(err, CodeConflict)
}

// IsSchemaError returns true for unknown classes, invalid objects and
// schema mismatches.
func IsSchemaError(err error) bool {
	return hasCode(err, CodeSchema)
}

// IsQueryError returns true if the error reports a malformed predicate.
func IsQueryError(err error) bool {
	return hasCode(err, CodeQuery)
}
