package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Exit codes.
const (
	ExitSuccess      = 0 // command succeeded
	ExitFailure      = 1 // domain failure (verification failed, replan required)
	ExitCommandError = 2 // command error (bad paths, missing database)
)

// ExitError carries a specific exit code out of a command.
type ExitError struct {
	Code    int
	Message string
	Err     error
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

// NewExitError creates an ExitError without a cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError attaches an exit code to an existing error.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error, defaulting to
// ExitFailure for plain errors.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// Formatter renders command results as text or JSON.
type Formatter struct {
	Format  string
	Writer  io.Writer
	Verbose bool
}

// Response is the JSON envelope every command emits in JSON mode.
type Response struct {
	Status string `json:"status"` // "ok" or "error"
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Success renders a result. In text mode, data's String or default
// formatting is used; commands that want richer text print it themselves
// and pass a short summary here.
func (f *Formatter) Success(data any) error {
	if f.Format == "json" {
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(Response{Status: "ok", Data: data})
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Error renders a failure.
func (f *Formatter) Error(message string) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(Response{Status: "error", Error: message})
	}
	_, err := fmt.Fprintf(f.Writer, "error: %s\n", message)
	return err
}

// Logf prints a diagnostic line in verbose text mode. JSON mode swallows
// it so the envelope stays parseable.
func (f *Formatter) Logf(format string, args ...any) {
	if !f.Verbose || f.Format == "json" {
		return
	}
	fmt.Fprintf(f.Writer, format+"\n", args...)
}
