package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-network/security-governance-core/infrastructure/logging"
	"github.com/r3e-network/security-governance-core/infrastructure/metrics"
)

func newTestMetrics(t *testing.T) *metrics.Metrics {
	t.Helper()
	return metrics.NewWithRegistry("middleware-test", prometheus.NewRegistry())
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestSecurityHeadersMiddleware_DefaultSet(t *testing.T) {
	handler := NewSecurityHeadersMiddleware(nil).Handler(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "max-age=31536000; includeSubDomains; preload", rec.Header().Get("Strict-Transport-Security"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", rec.Header().Get("Referrer-Policy"))
	assert.Contains(t, rec.Header().Get("Content-Security-Policy"), "default-src 'self'")
}

func TestCORSMiddleware_RejectsUnknownOrigin(t *testing.T) {
	handler := NewCORSMiddleware(&CORSConfig{AllowedOrigins: []string{"https://dash.example.com"}}).Handler(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.test")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCORSMiddleware_AllowsEnrolledOriginAndPreflight(t *testing.T) {
	handler := NewCORSMiddleware(&CORSConfig{AllowedOrigins: []string{".example.com"}}).Handler(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://dash.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://dash.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "x-workspace-id")
}

func TestCORSMiddleware_PassesNonBrowserCallers(t *testing.T) {
	handler := NewCORSMiddleware(nil).Handler(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestLoggingMiddleware_EchoesRequestID(t *testing.T) {
	logger := logging.NewFromEnv("middleware-test")

	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logging.GetTraceID(r.Context())
		w.WriteHeader(http.StatusAccepted)
	})
	handler := LoggingMiddleware(logger)(inner)

	req := httptest.NewRequest(http.MethodGet, "/2fa/verify", nil)
	req.Header.Set("X-Request-Id", "req-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "req-123", rec.Header().Get("X-Request-Id"))
	assert.Equal(t, "req-123", seen)
}

func TestLoggingMiddleware_GeneratesRequestID(t *testing.T) {
	logger := logging.NewFromEnv("middleware-test")
	handler := LoggingMiddleware(logger)(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestTimeoutMiddleware_TimesOutStalledHandler(t *testing.T) {
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
			w.WriteHeader(http.StatusOK)
		}
	})
	handler := NewTimeoutMiddleware(30 * time.Millisecond).Handler(slow)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestTimeoutMiddleware_PassesFastHandler(t *testing.T) {
	handler := NewTimeoutMiddleware(time.Second).Handler(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestValidationMiddleware_RejectsOversizedBody(t *testing.T) {
	handler := NewValidationMiddleware(ValidationConfig{MaxBodySize: 16, ContentTypes: []string{"application/json"}}).Handler(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 64)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestValidationMiddleware_RejectsWrongContentType(t *testing.T) {
	handler := NewValidationMiddleware(DefaultValidationConfig()).Handler(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`<xml/>`))
	req.Header.Set("Content-Type", "text/xml")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestDecodeJSON_RejectsUnknownFields(t *testing.T) {
	var dst struct {
		Email string `json:"email"`
	}
	err := DecodeJSON(strings.NewReader(`{"email":"a@b.co","extra":1}`), 1024, &dst)
	assert.Error(t, err)

	err = DecodeJSON(strings.NewReader(`{"email":"a@b.co"}`), 1024, &dst)
	require.NoError(t, err)
	assert.Equal(t, "a@b.co", dst.Email)
}

func TestValidators(t *testing.T) {
	assert.True(t, IsValidEmail("alice@example.com"))
	assert.False(t, IsValidEmail("alice@"))
	assert.True(t, IsValidUUID("123e4567-e89b-42d3-a456-426614174000"))
	assert.False(t, IsValidUUID("123e4567"))
	assert.True(t, IsValidHex("deadBEEF00"))
	assert.False(t, IsValidHex("0xdead"))
}

func TestRateLimiter_ThrottlesPerCaller(t *testing.T) {
	logger := logging.NewFromEnv("middleware-test")
	rl := NewRateLimiter(1, 1, logger)
	handler := rl.Handler(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.1.1:4000"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// A different caller has its own bucket.
	other := httptest.NewRequest(http.MethodGet, "/", nil)
	other.RemoteAddr = "10.1.1.2:4000"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, other)
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 2, rl.LimiterCount())
}

func TestRateLimiter_CleanupDropsIdleBuckets(t *testing.T) {
	logger := logging.NewFromEnv("middleware-test")
	rl := NewRateLimiter(10, 10, logger)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.1.3:4000"
	rec := httptest.NewRecorder()
	rl.Handler(okHandler()).ServeHTTP(rec, req)
	require.Equal(t, 1, rl.LimiterCount())

	rl.Cleanup(time.Nanosecond)
	assert.Equal(t, 0, rl.LimiterCount())
}

func TestHealthChecker_AggregatesChecks(t *testing.T) {
	h := NewHealthChecker("test")
	h.RegisterCheck("ledger", func() error { return nil })

	rec := httptest.NewRecorder()
	h.Handler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ledger":"ok"`)

	h.RegisterCheck("l2", func() error { return errors.New("connection refused") })
	rec = httptest.NewRecorder()
	h.Handler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "unhealthy")
}

func TestResponseWriter_CapturesFirstStatusOnly(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

	rw.WriteHeader(http.StatusTeapot)
	rw.WriteHeader(http.StatusOK)

	assert.Equal(t, http.StatusTeapot, rw.statusCode)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestMetricsMiddleware_UsesRouteTemplate(t *testing.T) {
	// Route through mux so the middleware can resolve the path template;
	// the metrics sink is exercised for real via the shared registry.
	m := newTestMetrics(t)
	r := mux.NewRouter()
	r.Use(MetricsMiddleware("httpapi-test", m))
	r.HandleFunc("/ledger/{entityId}", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ledger/e-42", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
