package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind is the closed set of pipeline error categories. Every failure that
// leaves the engine is classified into exactly one kind.
type Kind string

const (
	KindNotFound    Kind = "not_found"
	KindValidation  Kind = "validation"
	KindUnavailable Kind = "service_unavailable"
	KindService     Kind = "service_error"
	KindTimeout     Kind = "timeout"
	KindInternal    Kind = "internal"
)

// Machine-readable error codes, one per kind.
const (
	CodeSessionNotFound    = "SESSION_NOT_FOUND"
	CodeValidationError    = "VALIDATION_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeServiceError       = "SERVICE_ERROR"
	CodeTimeout            = "TIMEOUT"
	CodeInternalError      = "INTERNAL_ERROR"
)

var kindCodes = map[Kind]string{
	KindNotFound:    CodeSessionNotFound,
	KindValidation:  CodeValidationError,
	KindUnavailable: CodeServiceUnavailable,
	KindService:     CodeServiceError,
	KindTimeout:     CodeTimeout,
	KindInternal:    CodeInternalError,
}

// Error is the typed pipeline error returned to callers. The wrapped cause is
// kept for logs and errors.Is/As but never serialized to clients.
type Error struct {
	Kind      Kind           `json:"-"`
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	cause     error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// WithRequestID returns a shallow copy carrying the correlation id.
func (e *Error) WithRequestID(id string) *Error {
	cp := *e
	cp.RequestID = id
	return &cp
}

func newError(kind Kind, msg string, cause error, details map[string]any) *Error {
	return &Error{
		Kind:    kind,
		Code:    kindCodes[kind],
		Message: msg,
		Details: details,
		cause:   cause,
	}
}

// ErrNotFound builds a NotFound error for a session id.
func ErrNotFound(sessionID int64) *Error {
	return newError(KindNotFound,
		fmt.Sprintf("session %d was not found", sessionID),
		nil, map[string]any{"session_id": sessionID})
}

// ErrValidation builds a Validation error.
func ErrValidation(msg string, details map[string]any) *Error {
	return newError(KindValidation, msg, nil, details)
}

// ErrUnavailable builds a ServiceUnavailable error (store unreachable).
func ErrUnavailable(msg string, cause error) *Error {
	return newError(KindUnavailable, msg, cause, nil)
}

// ErrService builds a ServiceError (provider returned a failure).
func ErrService(msg string, cause error) *Error {
	return newError(KindService, msg, cause, nil)
}

// ErrTimeout builds a Timeout error for a named stage.
func ErrTimeout(stage string, cause error) *Error {
	return newError(KindTimeout,
		fmt.Sprintf("%s stage exceeded its time budget", stage),
		cause, map[string]any{"stage": stage})
}

// ErrInternal wraps an uncategorized failure. The message is generic so no
// internal detail leaks to the caller.
func ErrInternal(cause error) *Error {
	return newError(KindInternal, "an internal error occurred", cause, nil)
}

// Classify maps an arbitrary error to a pipeline Error. Already-classified
// errors pass through unchanged; context deadline expiry and caller
// cancellation become Timeout; everything else is the Internal catch-all.
func Classify(err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout("pipeline", err)
	}
	// A canceled context means the caller abandoned the run, not that
	// anything broke server-side; keep it out of the internal bucket.
	if errors.Is(err, context.Canceled) {
		return newError(KindTimeout, "run canceled before completion", err, nil)
	}
	return ErrInternal(err)
}

// HTTPStatus maps an error kind to its caller-visible status code.
func HTTPStatus(k Kind) int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindUnavailable:
		return http.StatusServiceUnavailable
	case KindService:
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
