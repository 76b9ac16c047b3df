// Package errors provides error handling for plumb.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - PII-safe error formatting
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := repo.Update(id, patch); err != nil {
//	    return errors.Wrap(err, "failed to update pipeline")
//	}
//
//	// Check errors
//	if errors.Is(err, errors.ErrNotFound) {
//	    // handle not found
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping.
// Every error created or wrapped here carries a stack trace, printed with %+v.
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
	Mark         = crdb.Mark
)

// User-facing messages and details.
// Hints tell the user what to do next ("set config.path ..."); details carry
// extra context such as a running execution ID or a stage's stderr. Neither
// appears in Error(), so log or render them with FlattenHints/FlattenDetails.
var (
	WithHint       = crdb.WithHint
	WithHintf      = crdb.WithHintf
	WithDetail     = crdb.WithDetail
	WithDetailf    = crdb.WithDetailf
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// Error inspection.
// Is and As see through every wrapper in this package, including hints and
// details, so sentinel checks keep working after context is added.
var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
)

// Assertions and panics
var (
	AssertionFailedf                 = crdb.AssertionFailedf
	HasAssertionFailure              = crdb.HasAssertionFailure
	NewAssertionErrorWithWrappedErrf = crdb.NewAssertionErrorWithWrappedErrf
)

// Sentinel errors shared across plumb.
// Wrap these with Wrap/Wrapf to add context while preserving the type, and
// check them with Is.
var (
	// ErrNotFound indicates a pipeline, execution or template does not exist
	ErrNotFound = New("not found")

	// ErrConflict indicates the pipeline already has a running execution
	ErrConflict = New("conflict")

	// ErrMissingParameter indicates a required template parameter was not supplied
	ErrMissingParameter = New("missing parameter")

	// ErrValidation indicates a malformed definition or stage configuration
	ErrValidation = New("validation error")

	// ErrInvalidRequest indicates the request was malformed or invalid
	ErrInvalidRequest = New("invalid request")

	// ErrServiceUnavailable indicates a required service is not available
	ErrServiceUnavailable = New("service unavailable")
)

// IsNotFound checks if an error is or wraps ErrNotFound.
// The HTTP layer maps it to 404.
func IsNotFound(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsConflict checks if an error is or wraps ErrConflict.
// Single-flight rejections attach the running execution ID as a detail.
func IsConflict(err error) bool {
	return err != nil && Is(err, ErrConflict)
}

// IsMissingParameter checks if an error is or wraps ErrMissingParameter
func IsMissingParameter(err error) bool {
	return err != nil && Is(err, ErrMissingParameter)
}

// IsValidation checks if an error is or wraps ErrValidation
func IsValidation(err error) bool {
	return err != nil && Is(err, ErrValidation)
}

// IsInvalidRequest checks if an error is or wraps ErrInvalidRequest
func IsInvalidRequest(err error) bool {
	return err != nil && Is(err, ErrInvalidRequest)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrapf(ErrNotFound, format, args...)
}

// NewConflictError creates a conflict error with a formatted message
func NewConflictError(format string, args ...interface{}) error {
	return Wrapf(ErrConflict, format, args...)
}

// NewValidationError creates a validation error with a formatted message
func NewValidationError(format string, args ...interface{}) error {
	return Wrapf(ErrValidation, format, args...)
}

// NewInvalidRequestError creates an invalid-request error with a formatted message
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Wrapf(ErrInvalidRequest, format, args...)
}

// NewMissingParameterError creates a missing-parameter error naming the parameter.
// Template instantiation returns it before any substitution happens, so a
// partially expanded definition is never produced.
func NewMissingParameterError(name string) error {
	return Wrapf(ErrMissingParameter, "required parameter %q", name)
}
