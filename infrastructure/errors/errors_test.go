package errors

import (
	"errors"
	"net/http"
	"testing"
)

func TestServiceError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *ServiceError
		want string
	}{
		{
			name: "error without underlying error",
			err:  New(KindAuthRequired, "test message"),
			want: "[AUTH_REQUIRED] test message",
		},
		{
			name: "error with underlying error",
			err:  Wrap(KindTransient, "test message", errors.New("underlying")),
			want: "[TRANSIENT] test message: underlying",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestServiceError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	err := Wrap(KindTransient, "test", underlying)

	if got := err.Unwrap(); got != underlying {
		t.Errorf("Unwrap() = %v, want %v", got, underlying)
	}
}

func TestServiceError_WithDetails(t *testing.T) {
	err := New(KindValidationFailed, "test")
	err.WithDetails("field", "username").WithDetails("reason", "too short")

	if len(err.Details) != 2 {
		t.Errorf("Details length = %d, want 2", len(err.Details))
	}
	if err.Details["field"] != "username" {
		t.Errorf("Details[field] = %v, want username", err.Details["field"])
	}
	if err.Details["reason"] != "too short" {
		t.Errorf("Details[reason] = %v, want too short", err.Details["reason"])
	}
}

func TestValidationFailed(t *testing.T) {
	err := ValidationFailed("email", "invalid format")

	if err.Kind != KindValidationFailed {
		t.Errorf("Kind = %v, want %v", err.Kind, KindValidationFailed)
	}
	if err.HTTPStatus != http.StatusBadRequest {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusBadRequest)
	}
	if err.Details["field"] != "email" {
		t.Errorf("Details[field] = %v, want email", err.Details["field"])
	}
}

func TestPermissionDenied(t *testing.T) {
	err := PermissionDenied("principal-1", "invite.create", "workspace-1")

	if err.Kind != KindPermissionDenied {
		t.Errorf("Kind = %v, want %v", err.Kind, KindPermissionDenied)
	}
	if err.HTTPStatus != http.StatusForbidden {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusForbidden)
	}
}

func TestConflictSequence(t *testing.T) {
	err := ConflictSequence("entity-1", 5, 4)

	if err.Kind != KindConflictSequence {
		t.Errorf("Kind = %v, want %v", err.Kind, KindConflictSequence)
	}
	if err.Details["expected"] != int64(5) {
		t.Errorf("Details[expected] = %v, want 5", err.Details["expected"])
	}
}

func TestLockedOut(t *testing.T) {
	err := LockedOut("principal-1", "30s")

	if err.Kind != KindLockedOut {
		t.Errorf("Kind = %v, want %v", err.Kind, KindLockedOut)
	}
	if err.HTTPStatus != http.StatusTooManyRequests {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusTooManyRequests)
	}
}

func TestCircuitFrozen(t *testing.T) {
	err := CircuitFrozen("workspace-1", "velocity threshold exceeded")

	if err.Kind != KindCircuitFrozen {
		t.Errorf("Kind = %v, want %v", err.Kind, KindCircuitFrozen)
	}
	if err.HTTPStatus != http.StatusForbidden {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusForbidden)
	}
}

func TestNotFound(t *testing.T) {
	err := NotFound("invite", "123")

	if err.Kind != KindNotFound {
		t.Errorf("Kind = %v, want %v", err.Kind, KindNotFound)
	}
	if err.Details["resource"] != "invite" {
		t.Errorf("Details[resource] = %v, want invite", err.Details["resource"])
	}
}

func TestTimeout(t *testing.T) {
	err := Timeout("predicate evaluation")

	if err.Kind != KindTimeout {
		t.Errorf("Kind = %v, want %v", err.Kind, KindTimeout)
	}
	if !err.Kind.Retryable() {
		t.Errorf("Kind.Retryable() = false, want true")
	}
}

func TestTransient_Retryable(t *testing.T) {
	err := Transient("cache write", errors.New("connection reset"))
	if !err.Kind.Retryable() {
		t.Errorf("Kind.Retryable() = false, want true")
	}
}

func TestPermissionDenied_NotRetryable(t *testing.T) {
	err := PermissionDenied("p", "a", "r")
	if err.Kind.Retryable() {
		t.Errorf("Kind.Retryable() = true, want false")
	}
}

func TestIsServiceError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "service error", err: New(KindTransient, "test"), want: true},
		{name: "standard error", err: errors.New("standard error"), want: false},
		{name: "nil error", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsServiceError(tt.err); got != tt.want {
				t.Errorf("IsServiceError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetServiceError(t *testing.T) {
	serviceErr := New(KindTransient, "test")
	standardErr := errors.New("standard error")

	tests := []struct {
		name string
		err  error
		want *ServiceError
	}{
		{name: "service error", err: serviceErr, want: serviceErr},
		{name: "standard error", err: standardErr, want: nil},
		{name: "nil error", err: nil, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GetServiceError(tt.err)
			if got != tt.want {
				t.Errorf("GetServiceError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "service error", err: New(KindAuthRequired, "test"), want: http.StatusUnauthorized},
		{name: "standard error", err: errors.New("standard error"), want: http.StatusInternalServerError},
		{name: "nil error", err: nil, want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetHTTPStatus(tt.err); got != tt.want {
				t.Errorf("GetHTTPStatus() = %v, want %v", got, tt.want)
			}
		})
	}
}
