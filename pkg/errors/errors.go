// Package errors defines the error taxonomy shared by the tenant-scoped
// repository, cache facade, and request boundary.
//
// Three typed errors cover every caller-visible failure mode:
//
//   - ValidationError: malformed ids, clinic ids, or a failed transaction
//     wrapper carrying the original error.
//   - TenantIsolationError: a missing, invalid, or unauthorized tenant
//     context. The boundary maps this to 403, never 404, so it cannot be
//     used to probe for entities under other tenants.
//   - NotFoundError: the entity is absent under the caller's clinic. A
//     cross-tenant lookup produces the same error on purpose.
//
// Cache and store transport failures are absorbed inside the cache facade
// and never surface through this taxonomy.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ValidationError reports malformed input (bad id, non-positive clinic id)
// or wraps an error raised inside a repository transaction callback.
type ValidationError struct {
	Field    string
	Message  string
	ClinicID int64
	Err      error
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("validation failed for %s: %s: %v", e.Field, e.Message, e.Err)
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

// Unwrap exposes the wrapped error for errors.Is / errors.As chains.
func (e *ValidationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewValidation builds a ValidationError for a single bad field.
func NewValidation(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// WrapTransaction wraps an error raised by a transaction callback, tagging it
// with the clinic that owned the transactional scope.
func WrapTransaction(err error, clinicID int64) *ValidationError {
	return &ValidationError{
		Field:    "transaction",
		Message:  "transaction callback failed",
		ClinicID: clinicID,
		Err:      err,
	}
}

// TenantIsolationError reports a tenant-scope violation: no context, a
// non-positive clinic id, or a caller that is not authorized for the clinic
// it addressed.
type TenantIsolationError struct {
	Service   string
	Operation string
	ClinicID  int64
	Reason    string
}

func (e *TenantIsolationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Service != "" || e.Operation != "" {
		return fmt.Sprintf("tenant isolation violation in %s.%s: %s", e.Service, e.Operation, e.Reason)
	}
	return fmt.Sprintf("tenant isolation violation: %s", e.Reason)
}

// NewTenantIsolation builds a TenantIsolationError with the violation reason.
func NewTenantIsolation(reason string) *TenantIsolationError {
	return &TenantIsolationError{Reason: reason}
}

// NotFoundError reports that an entity does not exist under the caller's
// clinic. Entities owned by a different clinic produce the identical error so
// existence never leaks across tenants.
type NotFoundError struct {
	EntityType string
	EntityID   any
	ClinicID   int64
}

func (e *NotFoundError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s %v not found", e.EntityType, e.EntityID)
}

// NewNotFound builds a NotFoundError for the given entity under a clinic.
func NewNotFound(entityType string, entityID any, clinicID int64) *NotFoundError {
	return &NotFoundError{EntityType: entityType, EntityID: entityID, ClinicID: clinicID}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsTenantIsolation reports whether err is (or wraps) a TenantIsolationError.
func IsTenantIsolation(err error) bool {
	var target *TenantIsolationError
	return errors.As(err, &target)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// HTTPStatus maps a taxonomy error to the status code the request boundary
// should respond with. Unknown errors map to 500.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsTenantIsolation(err):
		return http.StatusForbidden
	case IsNotFound(err):
		return http.StatusNotFound
	case IsValidation(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
