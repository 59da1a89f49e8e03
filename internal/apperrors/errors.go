// Package apperrors provides structured application errors with kind
// classification and HTTP status mapping.
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrValidation         = errors.New("validation error")
	ErrStoreUnavailable   = errors.New("store unavailable")
	ErrWorkerUnreachable  = errors.New("worker unreachable")
	ErrTimeoutExceeded    = errors.New("timeout exceeded")
	ErrStaleFrame         = errors.New("stale frame")
	ErrIntegrityViolation = errors.New("integrity violation")
	ErrInternal           = errors.New("internal error")
)

// Error carries a sentinel kind plus context about the failing operation.
type Error struct {
	Sentinel error  // wrapped sentinel for errors.Is() classification
	Message  string // human-readable message
	Field    string // for validation errors (e.g. "cronExpr")
	Resource string // for not found / conflict (e.g. "job")
	Op       string // operation that failed (e.g. "jobs.Claim")
	Cause    error  // underlying error
}

func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the sentinel so errors.Is sees the kind, falling through
// to the cause for driver-level matching.
func (e *Error) Unwrap() error {
	return e.Sentinel
}

// Kind returns the wire name of the error's kind.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrConflict):
		return "Conflict"
	case errors.Is(err, ErrUnauthorized):
		return "Unauthorized"
	case errors.Is(err, ErrValidation):
		return "Validation"
	case errors.Is(err, ErrStoreUnavailable):
		return "StoreUnavailable"
	case errors.Is(err, ErrWorkerUnreachable):
		return "WorkerUnreachable"
	case errors.Is(err, ErrTimeoutExceeded):
		return "TimeoutExceeded"
	case errors.Is(err, ErrStaleFrame):
		return "StaleFrame"
	case errors.Is(err, ErrIntegrityViolation):
		return "IntegrityViolation"
	}
	return "Internal"
}

// Validation creates a validation error for a specific field.
func Validation(field, message string) error {
	return &Error{Sentinel: ErrValidation, Message: message, Field: field}
}

// NotFound creates a not-found error for a resource.
func NotFound(resource string, id int64) error {
	return &Error{
		Sentinel: ErrNotFound,
		Message:  fmt.Sprintf("%s %d not found", resource, id),
		Resource: resource,
	}
}

// Conflict creates a conflict error, typically for a lost claim race.
func Conflict(resource, reason string) error {
	return &Error{Sentinel: ErrConflict, Message: reason, Resource: resource}
}

// StoreUnavailable wraps a connectivity failure against the store.
func StoreUnavailable(op string, cause error) error {
	return &Error{
		Sentinel: ErrStoreUnavailable,
		Message:  fmt.Sprintf("%s: store unavailable: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// WorkerUnreachable marks a failed transmission to a worker.
func WorkerUnreachable(workerID int64, cause error) error {
	return &Error{
		Sentinel: ErrWorkerUnreachable,
		Message:  fmt.Sprintf("worker %d unreachable: %v", workerID, cause),
		Cause:    cause,
	}
}

// StaleFrame marks a frame received for a job that is no longer running.
func StaleFrame(jobID int64) error {
	return &Error{
		Sentinel: ErrStaleFrame,
		Message:  fmt.Sprintf("frame for job %d dropped: job not running", jobID),
		Resource: "job",
	}
}

// Integrity marks an invariant violation. Fatal within the offending
// subsystem: it must log, emit an Error status and reinitialize.
func Integrity(op, message string) error {
	return &Error{
		Sentinel: ErrIntegrityViolation,
		Message:  message,
		Op:       op,
	}
}

// Internal creates an internal error wrapping an underlying cause.
func Internal(op string, cause error) error {
	return &Error{
		Sentinel: ErrInternal,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}
