// Package apperrors holds the sentinel errors shared by the ledger services and HTTP handlers.
package apperrors

import "errors"

var (
	// ErrNotFound covers both missing rows and rows owned by another user.
	ErrNotFound = errors.New("not found")
	// ErrValidation is returned before any state is touched.
	ErrValidation = errors.New("validation failed")
	// ErrAlreadyResolved is returned when a contradiction review has left the OPEN status.
	ErrAlreadyResolved = errors.New("contradiction already resolved")
	// ErrStorage wraps failures reported by the underlying store.
	ErrStorage = errors.New("storage failure")
	// ErrImmutableRecord is returned when something tries to edit or delete a correction record.
	ErrImmutableRecord = errors.New("correction records are immutable")
)
