// Package toolerrors provides a lightweight wrap/cause chain for errors
// raised inside Tool.Execute, distinct from the core's classified errs.Error
// taxonomy: a tool's internal failure reason is the tool's own business. The
// tool execution layer puts its text into an error result message; it is
// never converted to an errs.Error.
package toolerrors

import "fmt"

// Error is a tool-internal error with an optional wrapped cause, mirroring
// the shape tools in this codebase have always used for layered failure
// messages.
type Error struct {
	Message string
	Cause   *Error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Cause.Error())
	}
	return e.Message
}

// Unwrap exposes the cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	if e == nil || e.Cause == nil {
		return nil
	}
	return e.Cause
}

// New constructs an Error with no cause.
func New(message string) *Error {
	return &Error{Message: message}
}

// NewWithCause constructs an Error wrapping cause.
func NewWithCause(message string, cause *Error) *Error {
	return &Error{Message: message, Cause: cause}
}

// Errorf constructs an Error using fmt.Sprintf semantics.
func Errorf(format string, args ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, args...)}
}

// FromError wraps a plain error as a toolerrors.Error leaf, preserving its
// message. Returns nil if err is nil.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	if te, ok := err.(*Error); ok {
		return te
	}
	return &Error{Message: err.Error()}
}
