package errors

import (
	"errors"
	"fmt"
)

// Error is the structured error carried across engine API boundaries.
type Error struct {
	Code    Code   // Engine error code
	Message string // Primary error message
	Detail  string // Optional detailed error message
	Hint    string // Optional hint message
	wrapped error  // Underlying cause, if any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s DETAIL: %s", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.wrapped
}

// Is matches errors by code so sentinel comparisons work through wrapping.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// New creates a new Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new Error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap attaches an engine code to an underlying error.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		wrapped: cause,
	}
}

// WithDetail adds detail to the error.
func (e *Error) WithDetail(detail string) *Error {
	e.Detail = detail
	return e
}

// WithDetailf adds formatted detail to the error.
func (e *Error) WithDetailf(format string, args ...interface{}) *Error {
	e.Detail = fmt.Sprintf(format, args...)
	return e
}

// WithHint adds a hint to the error.
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

// ErrCode extracts the engine code from err, or "" if err carries none.
func ErrCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given engine code.
func IsCode(err error, code Code) bool {
	return ErrCode(err) == code
}

// AbortError is the dedicated abort condition raised on an illegal
// transaction state transition: writing to a prepared transaction,
// re-preparing, committing a prepared transaction before its prepare
// timestamp, and similar misuse.
type AbortError struct {
	Message string
}

// Error implements the error interface.
func (e *AbortError) Error() string {
	return "transaction abort: " + e.Message
}

// Abortf creates an AbortError with a formatted message.
func Abortf(format string, args ...interface{}) *AbortError {
	return &AbortError{Message: fmt.Sprintf(format, args...)}
}

// IsAbort reports whether err is an abort condition.
func IsAbort(err error) bool {
	var e *AbortError
	return errors.As(err, &e)
}
