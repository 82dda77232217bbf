// Package errs defines the classified error taxonomy shared by the provider
// registry, turn loop, and run controller. Every error the core surfaces to a
// host is either an *errs.Error carrying one of the Kind values below, or a
// plain error that callers should treat as non-retryable and non-classified.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an Error by cause, per the taxonomy in the design: it drives
// retry eligibility and the recovery action a host should suggest to the
// caller.
type Kind string

const (
	// KindAuthentication indicates a missing or invalid credential.
	KindAuthentication Kind = "authentication"
	// KindConfiguration indicates a missing base URL or malformed settings.
	KindConfiguration Kind = "configuration"
	// KindInvalidArgument indicates the caller passed unusable input.
	KindInvalidArgument Kind = "invalid_argument"
	// KindInvalidState indicates an operation was attempted in the wrong
	// lifecycle state.
	KindInvalidState Kind = "invalid_state"
	// KindModelNotFound indicates no factory is registered for a provider key.
	KindModelNotFound Kind = "model_not_found"
	// KindUnsupportedOperation indicates the provider lacks a requested
	// capability.
	KindUnsupportedOperation Kind = "unsupported_operation"
	// KindRateLimited indicates the server rejected the request with a 429.
	KindRateLimited Kind = "rate_limited"
	// KindTimeout indicates an operation exceeded its deadline.
	KindTimeout Kind = "timeout"
	// KindNetwork indicates a transport-level fault.
	KindNetwork Kind = "network"
	// KindServer indicates an upstream 5xx response.
	KindServer Kind = "server"
	// KindToolExecution indicates a tool raised an error or failed argument
	// validation.
	KindToolExecution Kind = "tool_execution"
	// KindStream indicates a mid-stream transport loss.
	KindStream Kind = "stream"
)

// retryable lists the kinds the turn loop's retry policy will retry.
var retryable = map[Kind]bool{
	KindRateLimited: true,
	KindTimeout:     true,
	KindNetwork:     true,
	KindServer:      true,
}

// Error is the core's classified error type. It wraps an optional underlying
// cause while exposing a stable Kind for callers that branch on error class
// rather than matching strings.
type Error struct {
	Kind Kind
	// Message is a human-readable summary.
	Message string
	// RetryAfterMS is the server-advertised retry delay in milliseconds, set
	// only for KindRateLimited errors that carried one.
	RetryAfterMS *int64
	// ToolName is set only for KindToolExecution errors.
	ToolName string
	Cause    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// New constructs a classified Error with no underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs a classified Error that wraps cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// RateLimited constructs a KindRateLimited error, optionally carrying the
// server-advertised retry delay.
func RateLimited(retryAfterMS *int64) *Error {
	return &Error{Kind: KindRateLimited, Message: "rate limited", RetryAfterMS: retryAfterMS}
}

// ToolExecution constructs a KindToolExecution error naming the failing tool.
func ToolExecution(toolName, message string) *Error {
	return &Error{Kind: KindToolExecution, Message: message, ToolName: toolName}
}

// IsRetryable reports whether err should be retried by the turn loop's retry
// policy. Non-classified errors are never retryable.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return retryable[e.Kind]
}

// KindOf extracts the Kind of err, returning ok=false for non-classified
// errors.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if !errors.As(err, &e) {
		return "", false
	}
	return e.Kind, true
}
