package httpapi

import (
	"net/http"
	"time"

	"github.com/r3e-network/security-governance-core/infrastructure/httputil"
	"github.com/r3e-network/security-governance-core/internal/bootstrap"
	"github.com/r3e-network/security-governance-core/internal/mfa"
)

// requireAdaptiveMFA gates sensitive routes behind the adaptive MFA
// decision: a trusted device inside its bypass window passes straight
// through (audited as a bypass), everyone else gets 403 with the selected
// challenge and the confidence that drove it. Scoring errors fail open —
// blocking every sensitive action because a factor evaluator broke would
// turn a telemetry fault into an outage.
func requireAdaptiveMFA(c *bootstrap.Container) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principalID := principalFromCtx(r.Context())
			sctx := mfa.SigninContext{
				PrincipalID: principalID,
				Fingerprint: r.Header.Get("x-device-fingerprint"),
				IPAddress:   httputil.ClientIP(r),
				UserAgent:   r.UserAgent(),
				Now:         time.Now(),
			}

			required, challenge, breakdown, err := c.MFA.CheckRequired(r.Context(), sctx)
			if err != nil {
				c.Logger.WithError(err).WithFields(map[string]interface{}{
					"principalId": principalID,
				}).Warn("adaptive MFA check failed, allowing request")
				next.ServeHTTP(w, r)
				return
			}
			if required {
				httputil.WriteErrorResponse(w, r, http.StatusForbidden, "REQUIRE_ADAPTIVE_MFA",
					"additional verification required", map[string]interface{}{
						"challenge":  string(challenge.Method),
						"confidence": breakdown.Total,
						"reasoning":  challenge.Reasoning,
					})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
