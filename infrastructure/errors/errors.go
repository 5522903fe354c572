// Package errors provides unified, structured error handling for the
// security-governance core.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies one of the ten error categories the core can raise.
type Kind string

const (
	KindValidationFailed   Kind = "VALIDATION_FAILED"
	KindAuthRequired       Kind = "AUTH_REQUIRED"
	KindPermissionDenied   Kind = "PERMISSION_DENIED"
	KindIntegrityViolation Kind = "INTEGRITY_VIOLATION"
	KindConflictSequence   Kind = "CONFLICT_SEQUENCE"
	KindTimeout            Kind = "TIMEOUT"
	KindLockedOut          Kind = "LOCKED_OUT"
	KindCircuitFrozen      Kind = "CIRCUIT_FROZEN"
	KindNotFound           Kind = "NOT_FOUND"
	KindTransient          Kind = "TRANSIENT"
)

var defaultHTTPStatus = map[Kind]int{
	KindValidationFailed:   http.StatusBadRequest,
	KindAuthRequired:       http.StatusUnauthorized,
	KindPermissionDenied:   http.StatusForbidden,
	KindIntegrityViolation: http.StatusForbidden,
	KindConflictSequence:   http.StatusConflict,
	KindTimeout:            http.StatusGatewayTimeout,
	KindLockedOut:          http.StatusTooManyRequests,
	KindCircuitFrozen:      http.StatusForbidden,
	KindNotFound:           http.StatusNotFound,
	KindTransient:          http.StatusBadGateway,
}

// Retryable reports whether the shared retry handler should re-attempt
// an operation failing with this Kind.
func (k Kind) Retryable() bool {
	switch k {
	case KindTimeout, KindTransient:
		return true
	default:
		return false
	}
}

// ServiceError is a structured error carrying a Kind, an HTTP status, and
// arbitrary machine-readable details.
type ServiceError struct {
	Kind       Kind                   `json:"kind"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails attaches a key/value pair and returns the receiver for chaining.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a ServiceError of the given Kind with the Kind's default HTTP status.
func New(kind Kind, message string) *ServiceError {
	return &ServiceError{
		Kind:       kind,
		Message:    message,
		HTTPStatus: defaultHTTPStatus[kind],
	}
}

// Wrap creates a ServiceError of the given Kind wrapping an underlying error.
func Wrap(kind Kind, message string, err error) *ServiceError {
	return &ServiceError{
		Kind:       kind,
		Message:    message,
		HTTPStatus: defaultHTTPStatus[kind],
		Err:        err,
	}
}

// Constructors for each error kind.

func ValidationFailed(field, reason string) *ServiceError {
	return New(KindValidationFailed, "validation failed").
		WithDetails("field", field).
		WithDetails("reason", reason)
}

func AuthRequired(reason string) *ServiceError {
	return New(KindAuthRequired, reason)
}

func PermissionDenied(principalID, action, resourceID string) *ServiceError {
	return New(KindPermissionDenied, "permission denied").
		WithDetails("principalId", principalID).
		WithDetails("action", action).
		WithDetails("resourceId", resourceID)
}

func IntegrityViolation(entityID string, err error) *ServiceError {
	return Wrap(KindIntegrityViolation, "audit chain integrity violation", err).
		WithDetails("entityId", entityID)
}

func ConflictSequence(entityID string, expected, actual int64) *ServiceError {
	return New(KindConflictSequence, "sequence conflict").
		WithDetails("entityId", entityID).
		WithDetails("expected", expected).
		WithDetails("actual", actual)
}

func Timeout(operation string) *ServiceError {
	return New(KindTimeout, "operation timed out").
		WithDetails("operation", operation)
}

func LockedOut(principalID, retryAfter string) *ServiceError {
	return New(KindLockedOut, "account locked out").
		WithDetails("principalId", principalID).
		WithDetails("retryAfter", retryAfter)
}

func CircuitFrozen(workspaceID, reason string) *ServiceError {
	return New(KindCircuitFrozen, "workspace is frozen").
		WithDetails("workspaceId", workspaceID).
		WithDetails("reason", reason)
}

func NotFound(resource, id string) *ServiceError {
	return New(KindNotFound, "resource not found").
		WithDetails("resource", resource).
		WithDetails("id", id)
}

func Transient(operation string, err error) *ServiceError {
	return Wrap(KindTransient, "transient failure", err).
		WithDetails("operation", operation)
}

// IsServiceError reports whether err (or something it wraps) is a *ServiceError.
func IsServiceError(err error) bool {
	var serviceErr *ServiceError
	return errors.As(err, &serviceErr)
}

// GetServiceError extracts a *ServiceError from err's chain, or nil.
func GetServiceError(err error) *ServiceError {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}
	return nil
}

// GetHTTPStatus returns the HTTP status associated with err, defaulting to 500.
func GetHTTPStatus(err error) int {
	if serviceErr := GetServiceError(err); serviceErr != nil {
		return serviceErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
