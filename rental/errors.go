/*
errors.go - Error taxonomy for the rental engine

ERROR CATEGORIES:
  1. NotFound       - vendor, agreement or unit absent
  2. Validation     - bad input, illegal status transition, add-on rules
  3. Conflict       - duplicate or expired trial booking attempts
  4. Infrastructure - store or cache unreachable

NotFound, Validation and Conflict are deterministic: surfaced verbatim and
never retried. Infrastructure errors propagate on single-entity calls and are
caught per item in batch availability.

USAGE:
  if rental.IsNotFound(err) { ... 404 ... }

  var verr *rental.ValidationError
  if errors.As(err, &verr) { ... verr.Field ... }
*/
package rental

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrNotFound       = errors.New("not found")
	ErrValidation     = errors.New("validation failed")
	ErrConflict       = errors.New("conflict")
	ErrInfrastructure = errors.New("infrastructure failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

type NotFoundError struct {
	Kind string // "vendor", "agreement", "unit"
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %q not found", e.Kind, e.ID) }
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string { return "conflict: " + e.Reason }
func (e *ConflictError) Unwrap() error { return ErrConflict }

// InfrastructureError wraps a store or cache failure.
type InfrastructureError struct {
	Op  string
	Err error
}

func (e *InfrastructureError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

// Unwrap exposes both the sentinel and the underlying cause.
func (e *InfrastructureError) Unwrap() []error { return []error{ErrInfrastructure, e.Err} }

// Infra wraps err as an InfrastructureError. Nil stays nil.
func Infra(op string, err error) error {
	if err == nil {
		return nil
	}
	return &InfrastructureError{Op: op, Err: err}
}

func notFound(kind, id string) error        { return &NotFoundError{Kind: kind, ID: id} }
func invalid(field, reason string) error     { return &ValidationError{Field: field, Reason: reason} }
func conflict(format string, a ...any) error { return &ConflictError{Reason: fmt.Sprintf(format, a...)} }

// =============================================================================
// ERROR HELPERS
// =============================================================================

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsClientError returns true if the error is due to the caller's input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrConflict)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrInfrastructure)
}
