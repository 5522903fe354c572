package mfa

import (
	"context"
	"sync"
	"time"

	serr "github.com/r3e-network/security-governance-core/infrastructure/errors"
	"github.com/r3e-network/security-governance-core/infrastructure/logging"
	"github.com/r3e-network/security-governance-core/infrastructure/metrics"
	"github.com/r3e-network/security-governance-core/internal/ledger"
	"github.com/r3e-network/security-governance-core/internal/principal"
)

// Orchestrator decides when a principal must face an MFA challenge,
// which method to present, and when a trusted device may bypass.
type Orchestrator struct {
	store  principal.Store
	ledger *ledger.Ledger

	tracker *attemptTracker

	successMu sync.Mutex
	successes map[string]ChallengeSuccessMarker // key: principalId|fingerprint

	logger  *logging.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithLogger(l *logging.Logger) Option   { return func(o *Orchestrator) { o.logger = l } }
func WithMetrics(m *metrics.Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }
func WithLedger(l *ledger.Ledger) Option    { return func(o *Orchestrator) { o.ledger = l } }

// New constructs an Orchestrator over store.
func New(store principal.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		tracker:   newAttemptTracker(),
		successes: make(map[string]ChallengeSuccessMarker),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func successKey(principalID, fingerprint string) string {
	return principalID + "|" + fingerprint
}

// CheckRequired computes the confidence score, decides whether a
// previous bypass window still covers this (principal, device), and if
// not, selects the minimum-friction challenge to present.
func (o *Orchestrator) CheckRequired(ctx context.Context, sctx SigninContext) (bool, Challenge, ScoreBreakdown, error) {
	breakdown, err := o.ComputeConfidence(ctx, sctx)
	if err != nil {
		return true, Challenge{}, ScoreBreakdown{}, err
	}

	if bypass, reason := o.canBypass(ctx, sctx, breakdown.Risk); bypass {
		o.auditBypass(ctx, sctx, reason)
		return false, Challenge{}, breakdown, nil
	}

	cfg, ok, err := o.store.GetTwoFactorConfig(ctx, sctx.PrincipalID)
	if err != nil {
		return true, Challenge{}, breakdown, err
	}
	if !ok {
		cfg = principal.TwoFactorConfig{PrincipalID: sctx.PrincipalID, State: principal.MFANone}
	}

	challenge := SelectChallenge(cfg, breakdown.Risk, breakdown.Total)
	if o.metrics != nil {
		o.metrics.RecordMFAChallenge("mfa", string(challenge.Method), "issued")
	}
	return true, challenge, breakdown, nil
}

// canBypass implements skip2FA: the device must exist, be verified,
// active, uncompromised, and inside both its trust window and the
// risk-scoped bypass window.
func (o *Orchestrator) canBypass(ctx context.Context, sctx SigninContext, risk RiskLevel) (bool, string) {
	device, ok, err := o.store.GetTrustedDevice(ctx, sctx.PrincipalID, sctx.Fingerprint)
	if err != nil || !ok {
		return false, ""
	}
	if !device.SkipTwoFactor(sctx.Now) {
		return false, ""
	}

	o.successMu.Lock()
	marker, hasMarker := o.successes[successKey(sctx.PrincipalID, sctx.Fingerprint)]
	o.successMu.Unlock()
	if !hasMarker {
		return true, "Trusted device"
	}

	if marker.IPAddress != "" && marker.IPAddress != sctx.IPAddress {
		// Session-drift rule: IP changed since the original challenge context.
		return false, ""
	}

	window := bypassWindow[marker.Risk]
	if sctx.Now.Sub(marker.At) > window {
		return false, ""
	}

	return true, "Trusted device"
}

func (o *Orchestrator) auditBypass(ctx context.Context, sctx SigninContext, reason string) {
	if o.ledger == nil {
		return
	}
	_, _ = o.ledger.Append(ctx, ledger.AppendRequest{
		EntityID:    sctx.PrincipalID,
		EntityModel: "Principal",
		EventType:   ledger.EventCustom,
		PerformedBy: sctx.PrincipalID,
		IPAddress:   sctx.IPAddress,
		Payload: map[string]interface{}{
			"event":     "MFA_BYPASSED",
			"reasoning": []string{reason},
		},
	})
}

// RecordChallengeSuccess stores a bypass marker for future requests
// from the same (principal, device).
func (o *Orchestrator) RecordChallengeSuccess(principalID, fingerprint, ipAddress string, risk RiskLevel, at time.Time) {
	o.successMu.Lock()
	defer o.successMu.Unlock()
	o.successes[successKey(principalID, fingerprint)] = ChallengeSuccessMarker{
		PrincipalID: principalID,
		Fingerprint: fingerprint,
		IPAddress:   ipAddress,
		Risk:        risk,
		At:          at,
	}
}

// VerifyChallenge records the outcome of a challenge attempt against
// the per-method 15-minute sliding window and persists account-level
// lockout state on escalation to a full lock.
func (o *Orchestrator) VerifyChallenge(ctx context.Context, principalID string, method principal.Method, success bool, now time.Time) (VerifyOutcome, error) {
	if inCooldown, until := o.tracker.inCooldown(principalID, method, now); inCooldown && !success {
		return VerifyOutcome{Success: false, Reasoning: []string{"method cooling down"}, NextAction: "cooldown", LockedUntil: until}, nil
	}

	if success {
		o.tracker.reset(principalID, method)
		return VerifyOutcome{Success: true}, nil
	}

	outcome := o.tracker.recordFailure(principalID, method, now)
	if outcome.NextAction == "locked" {
		cfg, ok, err := o.store.GetTwoFactorConfig(ctx, principalID)
		if err == nil && ok {
			cfg.LockedUntil = outcome.LockedUntil
			cfg.FailureCounter++
			_ = o.store.PutTwoFactorConfig(ctx, cfg)
		}
		return outcome, serr.LockedOut(principalID, outcome.LockedUntil.Format(time.RFC3339))
	}
	return outcome, nil
}

// SessionDriftCheck enforces the session-drift rule: if a session
// previously marked verified2FA sees its IP or (principal,
// userAgent) family change, clear the flag, emit a high-severity audit
// event, and require re-challenge for the next sensitive action.
func (o *Orchestrator) SessionDriftCheck(ctx context.Context, p *principal.Principal, originalIP, currentIP, originalUA, currentUA string) bool {
	if !p.Verified2FA {
		return false
	}
	if originalIP == currentIP && originalUA == currentUA {
		return false
	}

	p.Verified2FA = false
	if o.ledger != nil {
		_, _ = o.ledger.Append(ctx, ledger.AppendRequest{
			EntityID:    p.ID,
			EntityModel: "Principal",
			EventType:   ledger.EventCustom,
			PerformedBy: p.ID,
			IPAddress:   currentIP,
			RiskLevel:   "HIGH",
			Payload: map[string]interface{}{
				"event":  "SESSION_DRIFT_DETECTED",
				"reason": "ip_or_user_agent_changed",
			},
		})
	}
	return true
}

// EnableTwoFactor transitions NONE/SETUP_PENDING -> ENABLED, generating
// a fresh backup-code set.
func (o *Orchestrator) EnableTwoFactor(ctx context.Context, principalID string, primary principal.Method) ([]string, error) {
	cfg, ok, err := o.store.GetTwoFactorConfig(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if !ok {
		cfg = principal.TwoFactorConfig{PrincipalID: principalID}
	}

	codes, plaintext, err := GenerateBackupCodes()
	if err != nil {
		return nil, err
	}

	cfg.State = principal.MFAEnabled
	cfg.Enabled = true
	cfg.Primary = primary
	cfg.BackupCodes = codes
	cfg.FailureCounter = 0
	cfg.LockedUntil = time.Time{}

	if err := o.store.PutTwoFactorConfig(ctx, cfg); err != nil {
		return nil, err
	}

	if o.ledger != nil {
		_, _ = o.ledger.Append(ctx, ledger.AppendRequest{
			EntityID: principalID, EntityModel: "TwoFactorConfig", EventType: ledger.EventUpdated,
			PerformedBy: principalID,
			Payload: map[string]interface{}{
				"state": map[string]interface{}{"old": string(principal.MFANone), "new": string(principal.MFAEnabled)},
			},
		})
	}

	return plaintext, nil
}

// Disable transitions ENABLED/LOCKED -> DISABLED. Always a critical
// audit event; notification through every enabled channel is the
// responsibility of the injected notification collaborator.
func (o *Orchestrator) Disable(ctx context.Context, principalID string) error {
	cfg, ok, err := o.store.GetTwoFactorConfig(ctx, principalID)
	if err != nil {
		return err
	}
	if !ok {
		return serr.NotFound("TwoFactorConfig", principalID)
	}

	previousState := cfg.State
	cfg.State = principal.MFADisabled
	cfg.Enabled = false
	if err := o.store.PutTwoFactorConfig(ctx, cfg); err != nil {
		return err
	}

	if o.ledger != nil {
		_, _ = o.ledger.Append(ctx, ledger.AppendRequest{
			EntityID: principalID, EntityModel: "TwoFactorConfig", EventType: ledger.EventUpdated,
			PerformedBy: principalID,
			RiskLevel:   "CRITICAL",
			Payload: map[string]interface{}{
				"state": map[string]interface{}{"old": string(previousState), "new": string(principal.MFADisabled)},
			},
		})
	}
	return nil
}
