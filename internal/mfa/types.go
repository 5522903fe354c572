// Package mfa implements the adaptive MFA orchestrator: confidence
// scoring, challenge selection, trusted-device bypass,
// retry/lockout, session drift, and single-use backup codes.
package mfa

import (
	"time"

	"github.com/r3e-network/security-governance-core/internal/principal"
)

// RiskLevel is the confidence-score bucket that drives challenge
// selection and cooldown duration.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// Confidence thresholds: >= 0.8 -> LOW risk; >= 0.5 -> MEDIUM risk; else HIGH risk.
const (
	ThresholdHighConfidence   = 0.8
	ThresholdMediumConfidence = 0.5
)

func RiskForScore(score float64) RiskLevel {
	switch {
	case score >= ThresholdHighConfidence:
		return RiskLow
	case score >= ThresholdMediumConfidence:
		return RiskMedium
	default:
		return RiskHigh
	}
}

// Bypass windows per risk level.
var bypassWindow = map[RiskLevel]time.Duration{
	RiskLow:    24 * time.Hour,
	RiskMedium: 1 * time.Hour,
	RiskHigh:   5 * time.Minute,
}

// SigninContext is the ambient request data confidence scoring and
// session-drift detection consume.
type SigninContext struct {
	PrincipalID string
	Fingerprint string
	IPAddress   string
	UserAgent   string
	Country     string
	Now         time.Time
}

// ScoreBreakdown exposes each factor's contribution for diagnostics and audit payloads.
type ScoreBreakdown struct {
	DeviceTrust     float64
	LocationTrust   float64
	TimeTrust       float64
	ActivityTrust   float64
	AccountAge      float64
	FailedAttempts  float64
	Total           float64
	Risk            RiskLevel
}

// ChallengeSuccessMarker records a successful challenge for bypass purposes.
type ChallengeSuccessMarker struct {
	PrincipalID string
	Fingerprint string
	IPAddress   string
	Risk        RiskLevel
	At          time.Time
}

// VerifyOutcome is the result of a challenge verification attempt.
type VerifyOutcome struct {
	Success     bool
	Reasoning   []string
	NextAction  string
	LockedUntil time.Time
}

// Challenge describes the single MFA step selected for the caller.
type Challenge struct {
	Method     principal.Method
	Reasoning  []string
	Confidence float64
	Risk       RiskLevel
}
