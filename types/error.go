package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unified error code across the collaboration core.
type ErrorCode string

// Core error codes
const (
	// ErrNotFound indicates the entity id is unknown or the entity expired.
	ErrNotFound ErrorCode = "NOT_FOUND"
	// ErrConflict indicates a concurrent-write collision, a duplicate id,
	// or an overlapping pending delegation.
	ErrConflict ErrorCode = "CONFLICT"
	// ErrAccessDenied indicates a context access-level violation.
	ErrAccessDenied ErrorCode = "ACCESS_DENIED"
	// ErrCycleDetected indicates an illegal task dependency.
	ErrCycleDetected ErrorCode = "CYCLE_DETECTED"
	// ErrNoCandidate indicates no agent satisfies the required capabilities.
	ErrNoCandidate ErrorCode = "NO_CANDIDATE"
	// ErrInvalidState indicates the operation is not valid for the entity's
	// current status, e.g. responding to an already-resolved delegation.
	ErrInvalidState ErrorCode = "INVALID_STATE"
	// ErrInvalidRequest indicates malformed caller input.
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
	// ErrInternal indicates an unexpected internal failure.
	ErrInternal ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Entity     string    `json:"entity,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, HTTPStatus: defaultHTTPStatus(code)}
}

// NewErrorf creates a new Error with a formatted message.
func NewErrorf(code ErrorCode, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithEntity tags the error with the entity id it refers to.
func (e *Error) WithEntity(entity string) *Error {
	e.Entity = entity
	return e
}

// NotFoundError constructs a NOT_FOUND error for an entity.
func NotFoundError(kind, id string) *Error {
	return NewErrorf(ErrNotFound, "%s not found: %s", kind, id).WithEntity(id)
}

// ConflictError constructs a CONFLICT error.
func ConflictError(message string) *Error {
	return NewError(ErrConflict, message)
}

// AccessDeniedError constructs an ACCESS_DENIED error.
func AccessDeniedError(message string) *Error {
	return NewError(ErrAccessDenied, message)
}

// InvalidStateError constructs an INVALID_STATE error.
func InvalidStateError(message string) *Error {
	return NewError(ErrInvalidState, message)
}

// GetErrorCode extracts the error code from an error, unwrapping as needed.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsErrorCode reports whether err carries the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// HTTPStatusFor maps an error to an HTTP status code for the API surface.
func HTTPStatusFor(err error) int {
	var e *Error
	if errors.As(err, &e) {
		if e.HTTPStatus != 0 {
			return e.HTTPStatus
		}
		return defaultHTTPStatus(e.Code)
	}
	return http.StatusInternalServerError
}

func defaultHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrConflict:
		return http.StatusConflict
	case ErrAccessDenied:
		return http.StatusForbidden
	// NoCandidate and CycleDetected surface as 422 so callers can tell a
	// correctable configuration problem from a transient fault.
	case ErrCycleDetected, ErrNoCandidate, ErrInvalidState:
		return http.StatusUnprocessableEntity
	case ErrInvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
