package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/roach88/realm/internal/ir"
	"github.com/roach88/realm/internal/realm"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Scenario failure or failed write
	ExitCommandError = 2 // Command error (bad flags, unreadable schema, etc.)
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error // optional
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ObjectOutput is the printed form of an object.
type ObjectOutput struct {
	Class  string `json:"class"`
	ID     string `json:"id"`
	Fields ir.Map `json:"fields"`
}

// ObjectsOutput is the printed form of a read or a write.
type ObjectsOutput struct {
	Version uint64         `json:"version"`
	Objects []ObjectOutput `json:"objects"`
}

// String renders one object per line as class[id] followed by canonical
// field JSON.
func (o ObjectsOutput) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "version %d, %d object(s)", o.Version, len(o.Objects))
	for _, obj := range o.Objects {
		fields, err := ir.MarshalCanonical(obj.Fields)
		if err != nil {
			fields = []byte(err.Error())
		}
		fmt.Fprintf(&b, "\n%s[%s] %s", obj.Class, obj.ID, fields)
	}
	return b.String()
}

func objectOutput(obj *realm.Object) ObjectOutput {
	fields := obj.Fields
	if fields == nil {
		fields = ir.Map{}
	}
	return ObjectOutput{Class: obj.Class, ID: obj.ID, Fields: fields}
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}
	_, err := fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	return err
}
