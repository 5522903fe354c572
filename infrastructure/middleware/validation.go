package middleware

import (
	"encoding/json"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/r3e-network/security-governance-core/infrastructure/httputil"
)

// ValidationConfig bounds what the ingress accepts before a handler runs.
type ValidationConfig struct {
	MaxBodySize  int64
	ContentTypes []string
}

// DefaultValidationConfig: JSON bodies only, capped at 1MB — the governance
// API carries policy documents and challenge payloads, never uploads.
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		MaxBodySize:  1 << 20,
		ContentTypes: []string{"application/json"},
	}
}

// ValidationMiddleware rejects oversized bodies and unexpected content
// types. Semantic validation of bodies stays with each handler.
type ValidationMiddleware struct {
	config ValidationConfig
}

func NewValidationMiddleware(config ValidationConfig) *ValidationMiddleware {
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = DefaultValidationConfig().MaxBodySize
	}
	return &ValidationMiddleware{config: config}
}

func (m *ValidationMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > m.config.MaxBodySize {
			httputil.WriteErrorResponse(w, r, http.StatusRequestEntityTooLarge,
				"BODY_TOO_LARGE", "request body exceeds limit", nil)
			return
		}
		if r.ContentLength > 0 && len(m.config.ContentTypes) > 0 {
			contentType := r.Header.Get("Content-Type")
			valid := false
			for _, ct := range m.config.ContentTypes {
				if strings.HasPrefix(contentType, ct) {
					valid = true
					break
				}
			}
			if !valid {
				httputil.WriteErrorResponse(w, r, http.StatusUnsupportedMediaType,
					"UNSUPPORTED_MEDIA_TYPE", "unsupported content type", nil)
				return
			}
		}
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, m.config.MaxBodySize)
		}

		next.ServeHTTP(w, r)
	})
}

// DecodeJSON decodes a JSON body into v, rejecting unknown fields and
// bodies over maxSize.
func DecodeJSON(body io.Reader, maxSize int64, v interface{}) error {
	decoder := json.NewDecoder(io.LimitReader(body, maxSize))
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

var (
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	uuidPattern  = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	hexPattern   = regexp.MustCompile(`^[0-9a-fA-F]+$`)
)

// IsValidEmail reports whether email is plausibly deliverable; invites key
// on (workspace, email) so malformed addresses are rejected up front.
func IsValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// IsValidUUID reports whether s is a canonical UUID.
func IsValidUUID(s string) bool {
	return uuidPattern.MatchString(s)
}

// IsValidHex reports whether s is bare hex, the format of invite tokens and
// ledger hashes on the wire.
func IsValidHex(s string) bool {
	return hexPattern.MatchString(s)
}
