// Package apperr defines the typed error kinds used across the system and
// their mapping onto HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// FieldError is one entry in a ValidationError's field list.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError signals malformed or constraint-violating input.
type ValidationError struct {
	Message string
	Errors  []FieldError
}

func (e *ValidationError) Error() string { return e.Message }

// NewValidation builds a ValidationError with a single field complaint.
func NewValidation(message, field, fieldMessage string) *ValidationError {
	ve := &ValidationError{Message: message}
	if field != "" {
		ve.Errors = []FieldError{{Field: field, Message: fieldMessage}}
	}
	return ve
}

// AuthError signals an unauthenticated or forbidden request. Forbidden
// distinguishes 403 from the default 401.
type AuthError struct {
	Message   string
	Forbidden bool
}

func (e *AuthError) Error() string { return e.Message }

// NewUnauthenticated builds a 401 AuthError.
func NewUnauthenticated(message string) *AuthError {
	return &AuthError{Message: message}
}

// NewForbidden builds a 403 AuthError.
func NewForbidden(message string) *AuthError {
	return &AuthError{Message: message, Forbidden: true}
}

// NotFoundError signals a missing resource; ID is echoed back to the caller.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s not found", e.ID) }

// ConflictError signals a duplicate resource or invalid state transition.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// LockedError signals that a CVE's edit lock is held by someone else.
type LockedError struct {
	LockedBy      string
	LockExpiresAt time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("locked by %s until %s", e.LockedBy, e.LockExpiresAt)
}

// UpstreamError wraps a crawler fetch/parse failure. It carries the
// original cause for logging but is reported to callers as a generic
// per-item failure.
type UpstreamError struct {
	Cause error
}

func (e *UpstreamError) Error() string { return fmt.Sprintf("upstream error: %v", e.Cause) }
func (e *UpstreamError) Unwrap() error { return e.Cause }

// StorageError wraps a document-store failure after the idempotent retry
// has already been attempted once.
type StorageError struct {
	Op    string
	Cause error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage error during %s: %v", e.Op, e.Cause) }
func (e *StorageError) Unwrap() error { return e.Cause }

// CacheError wraps a cache-layer failure. Callers must log it and
// continue; it must never abort a mutation.
type CacheError struct {
	Op    string
	Cause error
}

func (e *CacheError) Error() string { return fmt.Sprintf("cache error during %s: %v", e.Op, e.Cause) }
func (e *CacheError) Unwrap() error { return e.Cause }

// PushError wraps a push-fabric delivery failure. Like CacheError, it is
// logged and otherwise ignored by the caller.
type PushError struct {
	Op    string
	Cause error
}

func (e *PushError) Error() string { return fmt.Sprintf("push error during %s: %v", e.Op, e.Cause) }
func (e *PushError) Unwrap() error { return e.Cause }

// HTTPStatus maps an error to the status code the REST surface must
// respond with. Unrecognized errors map to 500.
func HTTPStatus(err error) int {
	var (
		ve *ValidationError
		ae *AuthError
		nf *NotFoundError
		ce *ConflictError
		le *LockedError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &ae):
		if ae.Forbidden {
			return http.StatusForbidden
		}
		return http.StatusUnauthorized
	case errors.As(err, &nf):
		return http.StatusNotFound
	case errors.As(err, &ce):
		return http.StatusConflict
	case errors.As(err, &le):
		return http.StatusLocked
	default:
		return http.StatusInternalServerError
	}
}

// Code maps an error to the stable error_code string carried in the
// response body.
func Code(err error) string {
	var (
		ve *ValidationError
		ae *AuthError
		nf *NotFoundError
		ce *ConflictError
		le *LockedError
	)
	switch {
	case errors.As(err, &ve):
		return "validation_error"
	case errors.As(err, &ae):
		if ae.Forbidden {
			return "forbidden"
		}
		return "unauthenticated"
	case errors.As(err, &nf):
		return "not_found"
	case errors.As(err, &ce):
		return "conflict"
	case errors.As(err, &le):
		return "locked"
	default:
		return "storage_error"
	}
}
