package httpapi

import (
	"net/http"
	"time"

	"github.com/r3e-network/security-governance-core/infrastructure/httputil"
	"github.com/r3e-network/security-governance-core/infrastructure/middleware"
	"github.com/r3e-network/security-governance-core/internal/bootstrap"
	"github.com/r3e-network/security-governance-core/internal/rbac"
)

// rbacRequestContext assembles the ambient attributes the RBAC
// evaluator's conditions check (IP, user agent, time; amount is only
// known to body-decoding handlers, which pass it themselves).
func rbacRequestContext(r *http.Request) rbac.RequestContext {
	return rbac.RequestContext{
		IP:        httputil.ClientIP(r),
		UserAgent: r.UserAgent(),
		Timestamp: time.Now(),
	}
}

// requireRBAC gates a route behind rbac.Evaluator.Check for
// permissionCode, against the tenant the workspace gate put on the
// context. Runs after requirePrincipal and WorkspaceGateMiddleware;
// a deny is 403 with the required permission, and every attempt —
// allowed or not — lands on the audit ledger via Check itself.
func requireRBAC(c *bootstrap.Container, permissionCode string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principalID := principalFromCtx(r.Context())
			workspaceID := middleware.WorkspaceID(r.Context())

			decision, err := c.RBAC.Check(r.Context(), principalID, workspaceID, permissionCode, rbacRequestContext(r))
			if err != nil {
				httputil.WriteServiceError(w, r, err)
				return
			}
			if !decision.Allow {
				details := map[string]interface{}{"required": permissionCode}
				if decision.MatchedPolicyID != "" {
					details["policyId"] = decision.MatchedPolicyID
				}
				httputil.WriteErrorResponse(w, r, http.StatusForbidden, "PERMISSION_DENIED", decision.Reason, details)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
