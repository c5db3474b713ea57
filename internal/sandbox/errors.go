package sandbox

import (
	"errors"
	"fmt"
	"strings"
)

// Code classifies an execution failure.
type Code string

const (
	CodeEmptySource   Code = "EMPTY_SOURCE"
	CodeSyntax        Code = "SYNTAX"
	CodeRuntime       Code = "RUNTIME"
	CodeTimeout       Code = "TIMEOUT"
	CodeCancelled     Code = "CANCELLED"
	CodeResultMissing Code = "RESULT_MISSING"
	CodeInvalidResult Code = "INVALID_RESULT"
	CodeSession       Code = "SESSION"
	CodeEncode        Code = "ENCODE"
)

// ExecutionError is the single error type returned by Execute. Trace holds
// the script backtrace (or the positioned syntax error) for the editor.
type ExecutionError struct {
	Code    Code
	Message string
	Trace   string
	Cause   error
}

// ErrResultMissing matches any execution that ran cleanly but bound no figure.
var ErrResultMissing = &ExecutionError{
	Code:    CodeResultMissing,
	Message: "script did not produce a figure: bind the result to a variable named fig",
}

func (e *ExecutionError) Error() string {
	if e.Cause != nil && e.Message == "" {
		return fmt.Sprintf("chart execution failed [%s]: %v", e.Code, e.Cause)
	}
	return fmt.Sprintf("chart execution failed [%s]: %s", e.Code, e.Message)
}

func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// Is matches execution errors by code so callers can test with
// errors.Is(err, ErrResultMissing).
func (e *ExecutionError) Is(target error) bool {
	t, ok := target.(*ExecutionError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// AsExecutionError extracts an *ExecutionError from err.
func AsExecutionError(err error) (*ExecutionError, bool) {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr, true
	}
	return nil, false
}

func newError(code Code, cause error, format string, args ...any) *ExecutionError {
	return &ExecutionError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// firstLine trims multi-line error text to a short message.
func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
