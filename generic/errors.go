/*
errors.go - Centralized error types for the attendance engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages (attendance, penalty) wrap these errors with context;
  the API layer maps them to HTTP status codes with errors.Is / errors.As.

ERROR CATEGORIES:
  1. Ingestion errors - unknown employee, malformed timestamp, replays
  2. Validation errors - bad rule/schedule definitions, bad ranges
  3. Store errors - missing rows, uniqueness violations

USAGE:
  if errors.Is(err, generic.ErrEmployeeNotFound) {
      // named rejection, nothing persisted
  }

SEE ALSO:
  - attendance/ingest.go: Returns ingestion errors
  - store/sqlite/sqlite.go: Translates constraint failures
  - api/handlers.go: Maps errors to HTTP responses
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrEmployeeNotFound is the named rejection for an ingestion event whose
	// identifier does not match an active employee. Nothing is persisted.
	ErrEmployeeNotFound = errors.New("employee not found")

	// ErrInvalidTimestamp is returned when an event timestamp cannot be parsed.
	ErrInvalidTimestamp = errors.New("invalid timestamp")

	// ErrInvalidEventType is returned for event types other than check_in/check_out.
	ErrInvalidEventType = errors.New("invalid event type")

	// ErrDuplicateSourceID is returned by the store when a log with the same
	// external source id already exists. Ingestion treats it as a replay.
	ErrDuplicateSourceID = errors.New("duplicate source id")

	// ErrPenaltyExists is returned when an automatic penalty already
	// references the lateness record.
	ErrPenaltyExists = errors.New("penalty already exists for lateness record")

	// ErrNotFound is returned when a referenced row doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateExternalID is returned when two employees share an external id.
	ErrDuplicateExternalID = errors.New("duplicate employee external id")

	// ErrDuplicateDevicePersonID is returned when two employees share a
	// device person id.
	ErrDuplicateDevicePersonID = errors.New("duplicate employee device person id")

	// ErrInvalidRange is returned when a date range ends before it starts.
	ErrInvalidRange = errors.New("invalid range: end before start")

	// ErrInvalidRule is returned when a penalty rule definition is malformed.
	ErrInvalidRule = errors.New("invalid penalty rule")

	// ErrInvalidSchedule is returned when a work schedule definition is malformed.
	ErrInvalidSchedule = errors.New("invalid work schedule")

	// ErrInvalidInput covers other malformed admin input (settings,
	// exemptions, manual penalties).
	ErrInvalidInput = errors.New("invalid input")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// TimestampError reports the raw value that failed to parse.
type TimestampError struct {
	Raw string
	Err error
}

func (e *TimestampError) Error() string {
	return fmt.Sprintf("invalid timestamp %q: %v", e.Raw, e.Err)
}

func (e *TimestampError) Unwrap() error {
	return ErrInvalidTimestamp
}

// EmployeeNotFoundError names the identifier that could not be resolved.
type EmployeeNotFoundError struct {
	Identifier string
}

func (e *EmployeeNotFoundError) Error() string {
	return fmt.Sprintf("employee not found: %q", e.Identifier)
}

func (e *EmployeeNotFoundError) Unwrap() error {
	return ErrEmployeeNotFound
}

// ValidationError describes a single invalid field.
type ValidationError struct {
	Kind    error // ErrInvalidRule, ErrInvalidSchedule, ...
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v: %s: %s", e.Kind, e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Kind
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidTimestamp) ||
		errors.Is(err, ErrInvalidEventType) ||
		errors.Is(err, ErrInvalidRange) ||
		errors.Is(err, ErrInvalidRule) ||
		errors.Is(err, ErrInvalidSchedule) ||
		errors.Is(err, ErrInvalidInput)
}

// IsConflict returns true if the error is a uniqueness violation.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateSourceID) ||
		errors.Is(err, ErrPenaltyExists) ||
		errors.Is(err, ErrDuplicateExternalID) ||
		errors.Is(err, ErrDuplicateDevicePersonID)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrEmployeeNotFound)
}
