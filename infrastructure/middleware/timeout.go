package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/r3e-network/security-governance-core/infrastructure/httputil"
)

const defaultRequestTimeout = 30 * time.Second

// TimeoutMiddleware bounds request handling so a stalled persistence call or
// challenge dispatch cannot pin a connection open. Handlers observe the
// deadline through the request context; if one overruns anyway and has not
// written headers yet, the client gets 504.
type TimeoutMiddleware struct {
	timeout time.Duration
}

func NewTimeoutMiddleware(timeout time.Duration) *TimeoutMiddleware {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &TimeoutMiddleware{timeout: timeout}
}

func (m *TimeoutMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), m.timeout)
		defer cancel()

		done := make(chan struct{})
		tw := &timeoutResponseWriter{ResponseWriter: w}

		go func() {
			next.ServeHTTP(tw, r.WithContext(ctx))
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			if ctx.Err() != context.DeadlineExceeded {
				return
			}
			if tw.tryClaimHeader() {
				httputil.WriteErrorResponse(
					w, r,
					http.StatusGatewayTimeout,
					"TIMEOUT",
					"request timed out",
					map[string]any{"timeout_seconds": m.timeout.Seconds()},
				)
			}
		}
	})
}

// timeoutResponseWriter serializes header writes between the handler
// goroutine and the timeout path.
type timeoutResponseWriter struct {
	http.ResponseWriter
	mu          sync.Mutex
	wroteHeader bool
}

// tryClaimHeader reserves the header write for the timeout response. It
// returns false when the handler already responded.
func (tw *timeoutResponseWriter) tryClaimHeader() bool {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.wroteHeader {
		return false
	}
	tw.wroteHeader = true
	return true
}

func (tw *timeoutResponseWriter) WriteHeader(code int) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if !tw.wroteHeader {
		tw.wroteHeader = true
		tw.ResponseWriter.WriteHeader(code)
	}
}

func (tw *timeoutResponseWriter) Write(b []byte) (int, error) {
	tw.mu.Lock()
	if !tw.wroteHeader {
		tw.wroteHeader = true
	}
	tw.mu.Unlock()
	return tw.ResponseWriter.Write(b)
}
