// Package httputil provides small, dependency-free helpers shared by the
// HTTP middleware and the internal/httpapi adapter: a JSend-style response
// envelope and client-IP extraction.
package httputil

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	apierrors "github.com/r3e-network/security-governance-core/infrastructure/errors"
)

// jsendEnvelope mirrors the JSend convention (status/data or status/message/code).
type jsendEnvelope struct {
	Status  string      `json:"status"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
	Code    string      `json:"code,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// WriteJSON writes a JSend "success" envelope with the given status code and payload.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(jsendEnvelope{Status: "success", Data: data})
}

// WriteErrorResponse writes a JSend "error" (or "fail", for 4xx) envelope.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, statusCode int, code, message string, details interface{}) {
	status := "error"
	if statusCode >= 400 && statusCode < 500 {
		status = "fail"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(jsendEnvelope{
		Status:  status,
		Message: message,
		Code:    code,
		Details: details,
	})
}

// Unauthorized writes a 401 JSend "fail" envelope.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteErrorResponse(w, nil, http.StatusUnauthorized, "AUTH_REQUIRED", message, nil)
}

// DecodeJSON decodes r's body into v, rejecting unknown fields so typos in a
// caller's payload surface as 400s rather than silently-ignored fields.
func DecodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// WriteServiceError renders a *errors.ServiceError (or any error) as a JSend
// envelope, using the Kind's HTTP status and details when available and
// falling back to 500 for everything else.
func WriteServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if svcErr := apierrors.GetServiceError(err); svcErr != nil {
		WriteErrorResponse(w, r, svcErr.HTTPStatus, string(svcErr.Kind), svcErr.Message, svcErr.Details)
		return
	}
	WriteErrorResponse(w, r, http.StatusInternalServerError, "INTERNAL", "something went wrong", nil)
}

// BadRequest writes a 400 JSend "fail" envelope for a malformed request.
func BadRequest(w http.ResponseWriter, r *http.Request, message string) {
	WriteErrorResponse(w, r, http.StatusBadRequest, "VALIDATION_FAILED", message, nil)
}

// ClientIP extracts the caller's address, preferring X-Forwarded-For /
// X-Real-IP (set by a trusted reverse proxy) over RemoteAddr.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return strings.TrimSpace(real)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
