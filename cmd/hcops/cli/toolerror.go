// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import "fmt"

// ErrorCategory classifies tool errors so that scripts can make
// decisions (retry, fix input, escalate) without parsing message text.
type ErrorCategory string

const (
	// CategoryValidation: the caller provided invalid input. Fix the
	// input and retry.
	CategoryValidation ErrorCategory = "validation"

	// CategoryNotFound: a referenced resource does not exist (unknown
	// tag, missing database, uninstalled app).
	CategoryNotFound ErrorCategory = "not_found"

	// CategoryForbidden: the peer refused us (handshake or token
	// rejected, origin not allowed).
	CategoryForbidden ErrorCategory = "forbidden"

	// CategoryConflict: the operation conflicts with existing state.
	CategoryConflict ErrorCategory = "conflict"

	// CategoryTransient: a temporary failure (refused connection,
	// timeout, database lock). Back off and retry.
	CategoryTransient ErrorCategory = "transient"

	// CategoryInternal: an unexpected failure. Report it rather than
	// retry.
	CategoryInternal ErrorCategory = "internal"
)

// ToolError is a categorized error returned by CLI commands. It wraps
// the inner error, so errors.Is and errors.As still see the domain
// error underneath. Use the category constructors rather than
// building one directly.
type ToolError struct {
	// Category classifies the error for programmatic handling.
	Category ErrorCategory

	// Err is the underlying error with the human-readable message.
	Err error

	// Hint is operator guidance printed after the message.
	Hint string
}

// Error returns the underlying message, followed by the hint on its
// own paragraph when one is set.
func (e *ToolError) Error() string {
	if e.Hint == "" {
		return e.Err.Error()
	}
	return e.Err.Error() + "\n\n" + e.Hint
}

// Unwrap returns the underlying error.
func (e *ToolError) Unwrap() error { return e.Err }

// WithHint sets the hint and returns the receiver for chaining.
func (e *ToolError) WithHint(hint string) *ToolError {
	e.Hint = hint
	return e
}

// Wrap categorizes an existing error without changing its message.
func Wrap(category ErrorCategory, err error) *ToolError {
	return &ToolError{Category: category, Err: err}
}

// Validation creates a validation error: the caller provided bad input.
func Validation(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryValidation, Err: fmt.Errorf(format, args...)}
}

// NotFound creates a not-found error: a referenced resource does not exist.
func NotFound(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryNotFound, Err: fmt.Errorf(format, args...)}
}

// Forbidden creates a forbidden error: the peer refused the caller.
func Forbidden(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryForbidden, Err: fmt.Errorf(format, args...)}
}

// Conflict creates a conflict error: the operation conflicts with existing state.
func Conflict(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryConflict, Err: fmt.Errorf(format, args...)}
}

// Transient creates a transient error: a temporary failure that may succeed on retry.
func Transient(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryTransient, Err: fmt.Errorf(format, args...)}
}

// Internal creates an internal error: an unexpected failure, bug, or I/O error.
func Internal(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryInternal, Err: fmt.Errorf(format, args...)}
}
