package middleware

import (
	"context"
	"net/http"
	"regexp"
	"sync"

	"github.com/r3e-network/security-governance-core/infrastructure/httputil"
	sllogging "github.com/r3e-network/security-governance-core/infrastructure/logging"
)

type gateCtxKey string

// WorkspaceCtxKey carries the tenant selected by x-workspace-id.
const WorkspaceCtxKey gateCtxKey = "middleware.workspace"

// workspaceIDPattern accepts UUIDs and the ws_<slug> form used by seeded
// fixtures. Anything else is rejected before it can reach a store lookup.
var workspaceIDPattern = regexp.MustCompile(`^(ws_[a-z0-9-]{1,64}|[0-9a-fA-F-]{36})$`)

type gateRejection struct {
	ctx       context.Context
	reason    string
	method    string
	path      string
	clientIP  string
	userAgent string
}

var (
	gateLogger = sllogging.NewFromEnv("ingress")
	gateOnce   sync.Once
	gateQueue  chan *gateRejection
)

// enqueueGateRejection records the reject asynchronously; tenant selection
// failures are security signals but must never slow down request handling.
func enqueueGateRejection(event *gateRejection) {
	if event == nil {
		return
	}
	gateOnce.Do(func() {
		gateQueue = make(chan *gateRejection, 256)
		go func() {
			for ev := range gateQueue {
				if ev == nil {
					continue
				}
				gateLogger.WithContext(ev.ctx).WithFields(map[string]interface{}{
					"audit":      true,
					"event_type": "workspace_gate_reject",
					"reason":     ev.reason,
					"method":     ev.method,
					"path":       ev.path,
					"client_ip":  ev.clientIP,
					"user_agent": ev.userAgent,
				}).Warn("workspace gate rejected request")
			}
		}()
	})

	select {
	case gateQueue <- event:
	default:
		// Drop rather than block request processing.
	}
}

// WorkspaceGateMiddleware requires a well-formed x-workspace-id header on
// tenant-scoped routes and stores the selected workspace in the request
// context (read back with WorkspaceID).
func WorkspaceGateMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			workspaceID := r.Header.Get("x-workspace-id")
			if workspaceID == "" {
				enqueueGateRejection(&gateRejection{
					ctx:       r.Context(),
					reason:    "missing_workspace_header",
					method:    r.Method,
					path:      r.URL.Path,
					clientIP:  httputil.ClientIP(r),
					userAgent: r.UserAgent(),
				})
				httputil.BadRequest(w, r, "x-workspace-id required")
				return
			}
			if !workspaceIDPattern.MatchString(workspaceID) {
				enqueueGateRejection(&gateRejection{
					ctx:       r.Context(),
					reason:    "malformed_workspace_header",
					method:    r.Method,
					path:      r.URL.Path,
					clientIP:  httputil.ClientIP(r),
					userAgent: r.UserAgent(),
				})
				httputil.BadRequest(w, r, "malformed x-workspace-id")
				return
			}

			ctx := context.WithValue(r.Context(), WorkspaceCtxKey, workspaceID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WorkspaceID returns the tenant selected by the workspace gate, or "".
func WorkspaceID(ctx context.Context) string {
	v, _ := ctx.Value(WorkspaceCtxKey).(string)
	return v
}
