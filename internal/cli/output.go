package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/harvest/internal/catalog"
	"github.com/roach88/harvest/internal/config"
	"github.com/roach88/harvest/internal/dag"
	"github.com/roach88/harvest/internal/engine"
	"github.com/roach88/harvest/internal/step"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // every planned step succeeded or was clean
	ExitFailure      = 1 // at least one step failed, or the run was cancelled
	ExitCommandError = 2 // invalid definition, selection, configuration or workspace state
)

// ExitError is an error with a specific process exit code. Commands return
// it from RunE so main can exit with the right code.
type ExitError struct {
	Code    int
	Message string
	Err     error // underlying error, optional
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error { return e.Err }

// NewExitError creates an ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. Nil means success; any
// error that is not an ExitError counts as a command error, which covers
// flag parsing and other errors raised outside RunE.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitCommandError
}

// OutputFormatter handles JSON vs text output for CLI commands. Text-format
// commands render their own human output; JSON-format commands emit the
// standard envelope so scripts can parse every command the same way.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// JSON reports whether output is machine-readable.
func (f *OutputFormatter) JSON() bool { return f.Format == config.FormatJSON }

// Response is the standard JSON envelope.
type Response struct {
	Status string         `json:"status"` // "ok" or "error"
	Data   any            `json:"data,omitempty"`
	Error  *ResponseError `json:"error,omitempty"`
}

// ResponseError carries a machine-readable error code plus the message.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Success emits data in the ok envelope.
func (f *OutputFormatter) Success(data any) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(Response{Status: "ok", Data: data})
}

// Failure emits the error envelope. It formats output only; the caller
// still returns the ExitError that decides the process exit code.
func (f *OutputFormatter) Failure(code, message string) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(Response{Status: "error", Error: &ResponseError{Code: code, Message: message}})
}

// fail renders err in the configured format and returns the ExitError
// carrying code. Text callers see the error once, from main; JSON callers
// get the envelope on stdout.
func fail(f *OutputFormatter, code int, message string, err error) error {
	if f.JSON() {
		full := message
		if err != nil {
			full = fmt.Sprintf("%s: %v", message, err)
		}
		_ = f.Failure(errorCode(err), full)
	}
	if err == nil {
		return NewExitError(code, message)
	}
	return WrapExitError(code, message, err)
}

// errorCode maps known error types to their machine-readable codes.
func errorCode(err error) string {
	var ge *dag.GraphError
	if errors.As(err, &ge) {
		return string(ge.Code)
	}
	var pe *engine.PlanError
	if errors.As(err, &pe) {
		return string(pe.Code)
	}
	var nm *dag.NoMatchError
	if errors.As(err, &nm) {
		return "NO_MATCH"
	}
	var se *step.ParseError
	if errors.As(err, &se) {
		return "BAD_STEP_URI"
	}
	if errors.Is(err, catalog.ErrWorkspaceLocked) {
		return "WORKSPACE_LOCKED"
	}
	return "COMMAND_ERROR"
}
