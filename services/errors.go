package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound        ErrorType = "not_found"
	ErrorTypeValidation      ErrorType = "validation"
	ErrorTypeUnauthorized    ErrorType = "unauthorized"
	ErrorTypeForbidden       ErrorType = "forbidden"
	ErrorTypeConflict        ErrorType = "conflict"
	ErrorTypeNoRoute         ErrorType = "no_eligible_route"
	ErrorTypeOverridePending ErrorType = "override_pending"
	ErrorTypeLedger          ErrorType = "ledger"
	ErrorTypeIntegrity       ErrorType = "integrity"
	ErrorTypeInternal        ErrorType = "internal"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Message == t.Message
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Domain error variables

var (
	// Not Found Errors
	ErrPolicyNotFound      = NewDomainError(ErrorTypeNotFound, "policy not found", nil)
	ErrPoolNotFound        = NewDomainError(ErrorTypeNotFound, "model pool not found", nil)
	ErrAuditRecordNotFound = NewDomainError(ErrorTypeNotFound, "audit record not found", nil)
	ErrOverrideNotFound    = NewDomainError(ErrorTypeNotFound, "override not found", nil)
	ErrNoCheckpoint        = NewDomainError(ErrorTypeNotFound, "no checkpoint published", nil)

	// Validation Errors
	ErrInvalidInput     = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrInvalidPolicy    = NewDomainError(ErrorTypeValidation, "invalid policy definition", nil)
	ErrInvalidCondition = NewDomainError(ErrorTypeValidation, "condition does not compile", nil)

	// Authorization Errors
	ErrUnauthorized = NewDomainError(ErrorTypeUnauthorized, "authentication required", nil)
	ErrInvalidToken = NewDomainError(ErrorTypeUnauthorized, "invalid authentication token", nil)

	// Permission Errors
	ErrForbidden      = NewDomainError(ErrorTypeForbidden, "access forbidden", nil)
	ErrRoleNotAllowed = NewDomainError(ErrorTypeForbidden, "actor role not permitted to override", nil)

	// Routing errors
	ErrNoEligibleRoute = NewDomainError(ErrorTypeNoRoute, "no target satisfies the routing constraints", nil)

	// Override errors
	ErrOverrideNotPending      = NewDomainError(ErrorTypeConflict, "override no longer pending", nil)
	ErrJustificationRequired   = NewDomainError(ErrorTypeValidation, "justification is required for this override", nil)
	ErrOverrideNotPermitted    = NewDomainError(ErrorTypeForbidden, "rule does not allow overrides", nil)
	ErrDecisionPendingOverride = NewDomainError(ErrorTypeOverridePending, "decision is pending override approval", nil)

	// Ledger errors
	ErrLedgerAppend   = NewDomainError(ErrorTypeLedger, "audit record could not be committed", nil)
	ErrLedgerTampered = NewDomainError(ErrorTypeIntegrity, "ledger integrity verification failed", nil)
	ErrLedgerClosed   = NewDomainError(ErrorTypeLedger, "ledger is closed", nil)

	// Internal Errors
	ErrInternal = NewDomainError(ErrorTypeInternal, "internal server error", nil)
)

// typeOf extracts the ErrorType from an error chain, or "" when the error
// is not a DomainError.
func typeOf(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return typeOf(err) == ErrorTypeNotFound
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return typeOf(err) == ErrorTypeValidation
}

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool {
	return typeOf(err) == ErrorTypeUnauthorized
}

// IsForbiddenError checks if an error is a forbidden error
func IsForbiddenError(err error) bool {
	return typeOf(err) == ErrorTypeForbidden
}

// IsConflictError checks if an error is a conflict error
func IsConflictError(err error) bool {
	return typeOf(err) == ErrorTypeConflict
}

// IsNoRouteError checks if an error signals an empty candidate set
func IsNoRouteError(err error) bool {
	return typeOf(err) == ErrorTypeNoRoute
}

// IsOverridePendingError checks if an error signals a pending override
func IsOverridePendingError(err error) bool {
	return typeOf(err) == ErrorTypeOverridePending
}

// IsLedgerError checks if an error is a ledger write error
func IsLedgerError(err error) bool {
	return typeOf(err) == ErrorTypeLedger
}

// IsIntegrityError checks if an error is an integrity verification error
func IsIntegrityError(err error) bool {
	return typeOf(err) == ErrorTypeIntegrity
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return typeOf(err) == ErrorTypeInternal
}

// GetErrorDetails extracts details from a DomainError, or nil otherwise
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}
