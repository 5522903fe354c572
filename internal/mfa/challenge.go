package mfa

import (
	"github.com/r3e-network/security-governance-core/internal/principal"
)

// preferenceOrder ranks challenge methods from least to most friction
// per risk level.
var preferenceOrder = map[RiskLevel][]principal.Method{
	RiskLow:    {principal.MethodPush, principal.MethodBiometric, principal.MethodWebAuthn, principal.MethodTOTP},
	RiskMedium: {principal.MethodWebAuthn, principal.MethodPush, principal.MethodTOTP},
	RiskHigh:   {principal.MethodKnowledge, principal.MethodTOTP},
}

// SelectChallenge picks the minimum-friction challenge available to cfg
// for the given risk level. An availability mask (cfg.HasMethod) is
// applied first: only enrolled methods are candidates. HIGH risk
// prefers knowledge if configured, else TOTP.
func SelectChallenge(cfg principal.TwoFactorConfig, risk RiskLevel, confidence float64) Challenge {
	order := preferenceOrder[risk]
	for _, method := range order {
		if cfg.HasMethod(method) {
			return Challenge{
				Method:     method,
				Confidence: confidence,
				Risk:       risk,
				Reasoning:  []string{string(risk) + " risk", "selected " + string(method) + " by preference order"},
			}
		}
	}
	// No enrolled method matches the preferred order; fall back to TOTP
	// if enrolled, else knowledge.
	if cfg.HasMethod(principal.MethodTOTP) {
		return Challenge{Method: principal.MethodTOTP, Confidence: confidence, Risk: risk, Reasoning: []string{"fallback to TOTP"}}
	}
	return Challenge{Method: principal.MethodKnowledge, Confidence: confidence, Risk: risk, Reasoning: []string{"no enrolled method matched preference order"}}
}
