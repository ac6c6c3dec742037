package consent

import (
	"errors"
	"fmt"
)

// The engine classifies failures into five kinds. Job-level kinds
// (configuration, authorization) abort an entire run; record-level kinds
// (validation, delivery, persistence) are isolated, counted, and never
// terminate a batch.

// ConfigurationError means a required secret or setting is missing. Fatal
// for the whole job invocation.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string { return "configuration error: " + e.Msg }

// AuthorizationError means the scheduler credential is missing or invalid.
// The invocation is rejected before any record is touched.
type AuthorizationError struct {
	Msg string
}

func (e *AuthorizationError) Error() string { return "authorization error: " + e.Msg }

// ValidationError rejects a single renewal attempt, before any mutation.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return "validation error: " + e.Msg }

// TransientDeliveryError wraps a notification gateway failure for one record.
// No ledger entry is written, so the next run retries implicitly.
type TransientDeliveryError struct {
	Err error
}

func (e *TransientDeliveryError) Error() string { return "delivery error: " + e.Err.Error() }
func (e *TransientDeliveryError) Unwrap() error { return e.Err }

// PersistenceError wraps a store failure for one record. The update is
// all-or-nothing; a failed write leaves the record untouched for the next run.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string { return "persistence error: " + e.Err.Error() }
func (e *PersistenceError) Unwrap() error { return e.Err }

// ErrRecordNotFound is returned when a consent record does not exist.
var ErrRecordNotFound = errors.New("consent record not found")

func newValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsTransientDelivery reports whether err is a TransientDeliveryError.
func IsTransientDelivery(err error) bool {
	var de *TransientDeliveryError
	return errors.As(err, &de)
}

// IsPersistence reports whether err is a PersistenceError.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
