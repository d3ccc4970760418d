package shared

import "errors"

var (
	// ErrNotFound indicates a referenced id is absent.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates a malformed or out-of-range input field.
	ErrValidation = errors.New("validation failed")
	// ErrMismatch indicates a cross-entity referential inconsistency.
	ErrMismatch = errors.New("reference mismatch")
	// ErrInvariant indicates the operation would break the non-negative stock invariant.
	ErrInvariant = errors.New("invariant violation")
	// ErrConflict indicates the entity is already in an incompatible relationship.
	ErrConflict = errors.New("conflict")
	// ErrState indicates the operation is illegal for the invoice's current status.
	ErrState = errors.New("illegal state")
	// ErrLockBusy indicates an aggregate lock could not be obtained in time.
	ErrLockBusy = errors.New("resource busy")
)

// Error kinds exposed to callers.
const (
	KindNotFound   = "NotFound"
	KindValidation = "ValidationError"
	KindMismatch   = "MismatchError"
	KindInvariant  = "InvariantViolation"
	KindConflict   = "ConflictError"
	KindState      = "StateError"
	KindLockBusy   = "LockBusy"
	KindInternal   = "InternalError"
)

// Kind classifies err into one of the public error kinds.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrMismatch):
		return KindMismatch
	case errors.Is(err, ErrInvariant):
		return KindInvariant
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrState):
		return KindState
	case errors.Is(err, ErrLockBusy):
		return KindLockBusy
	default:
		return KindInternal
	}
}

// IsDomainError reports whether err is a rejection by business rules rather than an infrastructure failure.
func IsDomainError(err error) bool {
	kind := Kind(err)
	return kind != "" && kind != KindInternal && kind != KindLockBusy
}
