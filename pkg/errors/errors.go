package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Internal wraps an infrastructure failure (database, cache, renderer) as a 500.
func Internal(err error, message string) *Error {
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, message)
}

// Invalid wraps a binding or validation failure as a 400.
func Invalid(err error, message string) *Error {
	return Wrap(err, ErrValidation.Code, ErrValidation.Status, message)
}

// HasCode reports whether err carries the same code as target anywhere in its chain.
func HasCode(err error, target *Error) bool {
	var e *Error
	for err != nil {
		if errors.As(err, &e) {
			if target != nil && e.Code == target.Code {
				return true
			}
			err = e.Err
			continue
		}
		return false
	}
	return false
}

// Predefined errors for common scenarios.
var (
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrPreconditionFailed = New("PRECONDITION_FAILED", http.StatusPreconditionFailed, "precondition failed")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrHardBlock          = New("HARD_BLOCK", http.StatusConflict, "edit is blocked by an immovable slot")
	ErrConfirmRequired    = New("CONFIRMATION_REQUIRED", http.StatusConflict, "edit requires confirmation")
	ErrNoPendingProposal  = New("NO_PENDING_PROPOSAL", http.StatusConflict, "no proposal awaiting confirmation")
	ErrNothingToUndo      = New("NOTHING_TO_UNDO", http.StatusConflict, "nothing to undo")
	ErrNothingToRedo      = New("NOTHING_TO_REDO", http.StatusConflict, "nothing to redo")
	ErrSessionLocked      = New("SESSION_LOCKED", http.StatusLocked, "timetable is being edited by another user")
	ErrSessionExpired     = New("SESSION_EXPIRED", http.StatusGone, "editor session expired")
	ErrIntegrityViolation = New("INTEGRITY_VIOLATION", http.StatusInternalServerError, "schedule integrity violated")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache entry not found")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}
