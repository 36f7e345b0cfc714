package application

import (
	"errors"

	"github.com/elektrorate/calendario-taller-jesus/internal/attendance"
	"github.com/elektrorate/calendario-taller-jesus/internal/persistence"
	"github.com/elektrorate/calendario-taller-jesus/internal/reconcile"
)

var (
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrAlreadyExists is returned when a resource with the same identifier exists.
	ErrAlreadyExists = errors.New("application: already exists")
)

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	return "validation failed"
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// add records a field level validation error.
func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

// merge copies entries from another validation error into the receiver.
func (v *ValidationError) merge(other *ValidationError) {
	if other == nil || len(other.FieldErrors) == 0 {
		return
	}
	for field, msg := range other.FieldErrors {
		v.add(field, msg)
	}
}

// mergeFrom copies field errors out of err when it is a reconcile validation
// error and reports whether it was one.
func (v *ValidationError) mergeFrom(err error) bool {
	var rErr *reconcile.ValidationError
	if !errors.As(err, &rErr) {
		return false
	}
	v.merge(&ValidationError{FieldErrors: rErr.FieldErrors})
	return true
}

// mapRepoError translates store and engine errors into service errors.
func mapRepoError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, persistence.ErrNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, persistence.ErrDuplicate) {
		return ErrAlreadyExists
	}
	vErr := &ValidationError{}
	if vErr.mergeFrom(err) {
		return vErr
	}
	if errors.Is(err, persistence.ErrConstraintViolation) {
		vErr.add("record", "violates a store constraint")
		return vErr
	}
	if errors.Is(err, attendance.ErrInvalidStatus) {
		vErr.add("status", "must be present, absent or pending")
		return vErr
	}
	return err
}
