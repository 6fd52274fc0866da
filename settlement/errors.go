/*
errors.go - Centralized error types for the settlement engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The API layer maps the three outcome categories onto HTTP statuses.

ERROR CATEGORIES:
  1. Outcome errors - ValidationError, ConflictError, NotFoundError.
     Every operation failure surfaces as exactly one of these.
  2. Store errors - Database-level failures the store maps constraint
     violations onto (ErrDuplicate, ErrStaleWrite, ...). Components
     translate them into outcome errors with domain context.

USAGE:

    if errors.Is(err, settlement.ErrConflict) {
        // 409
    }

    var nf *settlement.NotFoundError
    if errors.As(err, &nf) {
        log.Printf("missing %s %s", nf.Resource, nf.Key)
    }

SEE ALSO:
  - store.go: Store contract that returns the store errors
  - api/handlers.go: HTTP status mapping
*/
package settlement

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation marks malformed input. Never retryable as-is.
	ErrValidation = errors.New("validation failed")

	// ErrConflict marks a request that collides with existing state
	// (an active session, a duplicate report, a run already in progress).
	ErrConflict = errors.New("conflict")

	// ErrNotFound marks a reference to a record that does not exist.
	ErrNotFound = errors.New("not found")
)

var (
	// ErrDuplicate is returned by the store when a uniqueness constraint rejects a write.
	ErrDuplicate = errors.New("duplicate record")

	// ErrDuplicateIdempotencyKey is returned when a ledger entry with the same
	// idempotency key already exists. Expected for client retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrStaleWrite is returned when a compare-and-set update matched no rows.
	ErrStaleWrite = errors.New("stale write: record changed concurrently")

	// ErrInvariantViolation is returned when a CHECK constraint rejects a write.
	ErrInvariantViolation = errors.New("storage invariant violated")

	// ErrLockHeld is returned by Locker.TryLock when another holder owns the key.
	ErrLockHeld = errors.New("lock held by another holder")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports which input field was rejected and why.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// ConflictError reports a collision with existing state.
type ConflictError struct {
	Resource string
	Key      string
	Reason   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Resource, e.Key, e.Reason)
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// NotFoundError reports a missing record.
type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.Key)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// =============================================================================
// HELPERS
// =============================================================================

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func notFound(resource, key string) error {
	return &NotFoundError{Resource: resource, Key: key}
}

func conflict(resource, key, reason string) error {
	return &ConflictError{Resource: resource, Key: key, Reason: reason}
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsConflict reports whether err is a conflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsNotFound reports whether err is a missing-record error.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
