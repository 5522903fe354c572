// Package httpapi is a thin gorilla/mux adapter exposing a
// representative slice of the HTTP ingress contract over the Container's
// subsystems. It proves the core reachable over HTTP; it is not itself the
// deliverable — full routing, auth, and TLS termination remain an external
// collaborator's concern.
package httpapi

import (
	"crypto/tls"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/r3e-network/security-governance-core/infrastructure/httputil"
	"github.com/r3e-network/security-governance-core/infrastructure/middleware"
	"github.com/r3e-network/security-governance-core/infrastructure/ratelimit"
	"github.com/r3e-network/security-governance-core/infrastructure/security"
	"github.com/r3e-network/security-governance-core/internal/bootstrap"
)

// weakCipherSuites (RC4, 3DES families) are rejected with 426 Upgrade
// Required; TLS below 1.2 is rejected the same way.
var weakCipherSuites = map[uint16]bool{
	tls.TLS_RSA_WITH_RC4_128_SHA:         true,
	tls.TLS_RSA_WITH_3DES_EDE_CBC_SHA:    true,
	tls.TLS_ECDHE_RSA_WITH_RC4_128_SHA:   true,
	tls.TLS_ECDHE_ECDSA_WITH_RC4_128_SHA: true,
}

// setupInitiateLimiter throttles POST /2fa/setup/initiate process-wide:
// it triggers a
// secret-at-rest encryption and backup-code generation per call.
func setupInitiateLimiter() *ratelimit.RateLimiter {
	return ratelimit.New(ratelimit.RateLimitConfig{RequestsPerSecond: 2, Burst: 5, Window: time.Second})
}

func rateLimited(limiter *ratelimit.RateLimiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if limiter.LimitExceeded() {
			httputil.WriteErrorResponse(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests, slow down", nil)
			return
		}
		next(w, r)
	}
}

func rejectWeakTLS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.TLS != nil {
			if r.TLS.Version < tls.VersionTLS12 || weakCipherSuites[r.TLS.CipherSuite] {
				w.WriteHeader(http.StatusUpgradeRequired)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// NewRouter wires the handler set in c against mux routes, security
// headers, request-signature validation, and the two auth gates
// (Authorization bearer for principal-scoped routes, x-system-token for
// job-trigger and admin routes).
func NewRouter(c *bootstrap.Container, jwtSecret string) http.Handler {
	r := mux.NewRouter()

	secHeaders := middleware.NewSecurityHeadersMiddleware(nil)
	replay := security.NewReplayProtection(5*time.Minute, c.Logger)
	systemValidator := NewSystemTokenValidator(jwtSecret)
	ingressLimiter := middleware.NewRateLimiterWithWindow(600, time.Minute, 50, c.Logger)
	ingressLimiter.StartCleanup(time.Minute)
	validation := middleware.NewValidationMiddleware(middleware.DefaultValidationConfig())
	timeout := middleware.NewTimeoutMiddleware(30 * time.Second)
	cors := middleware.NewCORSMiddleware(nil)

	h := &handlers{c: c}

	r.Use(secHeaders.Handler)
	r.Use(rejectWeakTLS)
	r.Use(middleware.LoggingMiddleware(c.Logger))
	r.Use(middleware.MetricsMiddleware("httpapi", c.Metrics))
	r.Use(cors.Handler)
	r.Use(validation.Handler)
	r.Use(timeout.Handler)
	r.Use(ingressLimiter.Handler)

	// Health and metrics probes sit outside the auth gates.
	r.HandleFunc("/health", c.Health.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/health/live", middleware.LivenessHandler()).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(c.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	// MFA / 2FA — principal-scoped, Authorization bearer required.
	mfaRouter := r.PathPrefix("/2fa").Subrouter()
	mfaRouter.Use(requirePrincipal)
	mfaRouter.HandleFunc("/setup/initiate", rateLimited(setupInitiateLimiter(), h.initiateSetup)).Methods(http.MethodPost)
	mfaRouter.HandleFunc("/setup/verify", h.verifySetup).Methods(http.MethodPost)
	mfaRouter.HandleFunc("/verify", h.verifyChallenge).Methods(http.MethodPost)

	// Invites — creation is principal-scoped; preview/accept carry their
	// own token and are reachable without a bearer.
	r.HandleFunc("/workspaces/{id}/invites", requirePrincipalFunc(h.createInvite)).Methods(http.MethodPost)
	r.HandleFunc("/invites/{token}", h.previewInvite).Methods(http.MethodGet)
	r.HandleFunc("/invites/{token}/accept", requirePrincipalFunc(h.acceptInvite)).Methods(http.MethodPost)

	// Expenses — the representative mutation route: RBAC, Integrity
	// Guard, and compliance evaluation all run before the write lands.
	r.HandleFunc("/workspaces/{id}/expenses", requirePrincipalFunc(h.createExpense)).Methods(http.MethodPost)

	// Ledger — principal-scoped reads/reconstructs, tenant selected by
	// x-workspace-id, gated behind the adaptive MFA decision and an
	// RBAC check for the audit-view capability (which stays readable
	// to owners and managers even under a compliance freeze).
	ledgerRouter := r.PathPrefix("/ledger").Subrouter()
	ledgerRouter.Use(requirePrincipal)
	ledgerRouter.Use(middleware.WorkspaceGateMiddleware())
	ledgerRouter.Use(requireAdaptiveMFA(c))
	ledgerRouter.Use(requireRBAC(c, "audit:view"))
	ledgerRouter.HandleFunc("/{entityId}", h.queryLedger).Methods(http.MethodGet)
	ledgerRouter.HandleFunc("/{entityId}/reconstruct", h.reconstructLedger).Methods(http.MethodPost)

	// Jobs and admin — system-token gated, HMAC request signature required.
	systemRouter := r.NewRoute().Subrouter()
	systemRouter.Use(requireSystemToken(systemValidator, c.Logger))
	systemRouter.Use(requireRequestSignature(jwtSecret, replay, c.Logger))
	systemRouter.HandleFunc("/jobs/{name}/trigger", h.triggerJob).Methods(http.MethodPost)
	systemRouter.HandleFunc("/jobs/{name}/toggle", h.toggleJob).Methods(http.MethodPatch)
	systemRouter.HandleFunc("/admin/tenants", h.listTenants).Methods(http.MethodGet)
	systemRouter.HandleFunc("/admin/tenants/{workspaceId}", h.patchTenant).Methods(http.MethodPatch)
	systemRouter.HandleFunc("/admin/tenants/{workspaceId}/memberships/{principalId}", h.patchMembershipRole).Methods(http.MethodPatch)
	systemRouter.HandleFunc("/admin/workspaces/{id}/liquidity-audit", h.liquidityAudit).Methods(http.MethodGet)

	return r
}

func requirePrincipalFunc(fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requirePrincipal(fn).ServeHTTP(w, r)
	}
}
