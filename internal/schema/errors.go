package schema

import (
	"errors"
	"fmt"
	"strings"

	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// CompileError reports a schema that cannot be turned into classes. Field
// is the CUE path at fault, e.g. "class.Task.primary_key".
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if !e.Pos.IsValid() {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Field, e.Message)
}

// formatCUEError converts each CUE evaluation error into a positioned
// CompileError. Errors without a position are kept as they are.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	list := cueerrors.Errors(err)
	if len(list) == 0 {
		return err
	}

	out := make([]error, 0, len(list))
	for _, e := range list {
		pos := cueerrors.Positions(e)
		if len(pos) == 0 {
			out = append(out, e)
			continue
		}
		field := "cue"
		if path := e.Path(); len(path) > 0 {
			field = strings.Join(path, ".")
		}
		format, args := e.Msg()
		out = append(out, &CompileError{Field: field, Message: fmt.Sprintf(format, args...), Pos: pos[0]})
	}
	if len(out) == 1 {
		return out[0]
	}
	return errors.Join(out...)
}
