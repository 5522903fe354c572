// Package middleware provides the HTTP middleware the governance ingress
// adapter composes in front of its handlers.
package middleware

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/r3e-network/security-governance-core/infrastructure/logging"
)

// LoggingMiddleware assigns each request an X-Request-Id (honoring one the
// caller already set, which is echoed back), threads it through the
// context for audit correlation, and logs method/path/status/duration.
func LoggingMiddleware(logger *logging.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get("X-Request-Id")
			if requestID == "" {
				requestID = logging.NewTraceID()
			}

			ctx := logging.WithTraceID(r.Context(), requestID)
			r = r.WithContext(ctx)

			r.Header.Set("X-Request-Id", requestID)
			w.Header().Set("X-Request-Id", requestID)

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			logger.LogRequest(ctx, r.Method, r.URL.Path, wrapped.statusCode, time.Since(start))
		})
	}
}
