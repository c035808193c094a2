package registration

import (
	"errors"
	"fmt"
)

// Reason names why an intake failed validation.
type Reason string

const (
	ReasonMissingRequiredField Reason = "MissingRequiredField"
	ReasonInvalidDateFormat    Reason = "InvalidDateFormat"
)

var (
	ErrMissingRequiredField = errors.New("missing required field")
	ErrInvalidDateFormat    = errors.New("invalid date format")

	// ErrAllocationConflict means every allocation attempt lost a race.
	ErrAllocationConflict = errors.New("identifier allocation conflict")
	// ErrStorageUnavailable means the store could not be reached. It is not retried.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrSequenceExhausted means the period already used all 9999 numbers.
	ErrSequenceExhausted = errors.New("sequence exhausted for period")

	ErrRegistrationFailed = errors.New("registration failed")
	ErrPatientNotFound    = errors.New("patient not found")
	ErrInvalidIdentifier  = errors.New("invalid patient identifier")
)

// ValidationError is a user-input error. It is returned verbatim and never
// retried.
type ValidationError struct {
	Reason Reason
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Reason, e.Field, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Field)
}

// Is lets callers match on ErrMissingRequiredField or ErrInvalidDateFormat.
func (e *ValidationError) Is(target error) bool {
	switch target {
	case ErrMissingRequiredField:
		return e.Reason == ReasonMissingRequiredField
	case ErrInvalidDateFormat:
		return e.Reason == ReasonInvalidDateFormat
	}
	return false
}

// RegistrationError wraps any failure after validation succeeded.
type RegistrationError struct {
	Err error
}

func (e *RegistrationError) Error() string {
	return "registration failed: " + e.Err.Error()
}

func (e *RegistrationError) Unwrap() error { return e.Err }

func (e *RegistrationError) Is(target error) bool {
	return target == ErrRegistrationFailed
}
