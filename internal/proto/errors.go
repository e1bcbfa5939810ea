package proto

import (
	"errors"
	"fmt"
)

// Error codes for correlated replies.
const (
	CodeValidation    = "validation"
	CodeNotFound      = "not_found"
	CodeEngineFailure = "engine_failure"
	CodeInternal      = "internal"
)

// EngineAttempt records one failed spawn strategy, in the order tried.
type EngineAttempt struct {
	Engine string `json:"engine"`
	Reason string `json:"reason"`
}

// Error is the wire-visible error for terminal ops.
type Error struct {
	Code     string          `json:"code"`
	Message  string          `json:"message"`
	Attempts []EngineAttempt `json:"attempts,omitempty"` // engine_failure only
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Validation builds a validation error.
func Validation(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFound builds a not_found error for a session id.
func NotFound(sessionID string) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf("unknown session %q", sessionID)}
}

// EngineFailure builds an engine_failure error with the attempt trail.
func EngineFailure(attempts []EngineAttempt) *Error {
	return &Error{
		Code:     CodeEngineFailure,
		Message:  "all terminal engines failed to start",
		Attempts: attempts,
	}
}

// Internal builds an internal error. The underlying detail is logged by the
// caller; the wire message stays generic.
func Internal(msg string) *Error {
	return &Error{Code: CodeInternal, Message: msg}
}

// AsError converts any error into a wire Error, passing through typed ones.
func AsError(err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return Internal(err.Error())
}

// IsCode reports whether err is a wire Error with the given code.
func IsCode(err error, code string) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Code == code
}
