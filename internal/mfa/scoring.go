package mfa

import (
	"context"
	"time"
)

// Confidence-score factor weights; they sum to 1.0.
const (
	weightDevice         = 0.25
	weightLocation       = 0.20
	weightTime           = 0.15
	weightActivity       = 0.15
	weightAccountAge     = 0.10
	weightFailedAttempts = 0.15
)

// neutralScore is what a factor evaluator contributes when its input
// data is unavailable, keeping the weighted sum centered.
const neutralScore = 0.5

// ComputeConfidence combines the six factor evaluators into a weighted
// sum, clamped to [0,1]. An unknown factor contributes neutralScore.
func (o *Orchestrator) ComputeConfidence(ctx context.Context, sctx SigninContext) (ScoreBreakdown, error) {
	device, err := o.deviceTrust(ctx, sctx)
	if err != nil {
		return ScoreBreakdown{}, err
	}
	location, err := o.locationTrust(ctx, sctx)
	if err != nil {
		return ScoreBreakdown{}, err
	}
	timeTrust := o.timeTrust(ctx, sctx)
	activity, err := o.activityTrust(ctx, sctx)
	if err != nil {
		return ScoreBreakdown{}, err
	}
	accountAge, err := o.accountAgeTrust(ctx, sctx)
	if err != nil {
		return ScoreBreakdown{}, err
	}
	failed, err := o.failedAttemptsPenalty(ctx, sctx)
	if err != nil {
		return ScoreBreakdown{}, err
	}

	total := weightDevice*device + weightLocation*location + weightTime*timeTrust +
		weightActivity*activity + weightAccountAge*accountAge + weightFailedAttempts*failed
	total = clamp01(total)

	return ScoreBreakdown{
		DeviceTrust:    device,
		LocationTrust:  location,
		TimeTrust:      timeTrust,
		ActivityTrust:  activity,
		AccountAge:     accountAge,
		FailedAttempts: failed,
		Total:          total,
		Risk:           RiskForScore(total),
	}, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// deviceTrust: known fingerprint with usageCount >= 10 over >= 30 days -> 0.9; unseen -> 0.0.
func (o *Orchestrator) deviceTrust(ctx context.Context, sctx SigninContext) (float64, error) {
	if sctx.Fingerprint == "" {
		return neutralScore, nil
	}
	device, ok, err := o.store.GetTrustedDevice(ctx, sctx.PrincipalID, sctx.Fingerprint)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0.0, nil
	}
	age := sctx.Now.Sub(device.FirstSeenAt)
	if device.UsageCount >= 10 && age >= 30*24*time.Hour {
		return 0.9, nil
	}
	// Partial credit scaling with usage for devices not yet fully aged in.
	ratio := float64(device.UsageCount) / 10.0
	if ratio > 1 {
		ratio = 1
	}
	return 0.3 + 0.3*ratio, nil
}

// locationTrust: frequency of current country in last 90 days of successful logins.
func (o *Orchestrator) locationTrust(ctx context.Context, sctx SigninContext) (float64, error) {
	if sctx.Country == "" {
		return neutralScore, nil
	}
	logins, err := o.store.RecentLogins(ctx, sctx.PrincipalID, sctx.Now.Add(-90*24*time.Hour))
	if err != nil {
		return 0, err
	}
	successful := 0
	matching := 0
	for _, l := range logins {
		if !l.Success {
			continue
		}
		successful++
		if l.Country == sctx.Country {
			matching++
		}
	}
	if successful == 0 {
		return neutralScore, nil
	}
	return float64(matching) / float64(successful), nil
}

// timeTrust: frequency of current hour-of-day in last 30 days.
func (o *Orchestrator) timeTrust(_ context.Context, sctx SigninContext) float64 {
	return o.timeTrustFromLogins(sctx)
}

func (o *Orchestrator) timeTrustFromLogins(sctx SigninContext) float64 {
	logins, err := o.store.RecentLogins(context.Background(), sctx.PrincipalID, sctx.Now.Add(-30*24*time.Hour))
	if err != nil || len(logins) == 0 {
		return neutralScore
	}
	currentHour := sctx.Now.Hour()
	matching := 0
	for _, l := range logins {
		if l.HourOfDay == currentHour {
			matching++
		}
	}
	return float64(matching) / float64(len(logins))
}

// activityTrust: successful logins in last 24h raise score (recent engagement signal).
func (o *Orchestrator) activityTrust(ctx context.Context, sctx SigninContext) (float64, error) {
	logins, err := o.store.RecentLogins(ctx, sctx.PrincipalID, sctx.Now.Add(-24*time.Hour))
	if err != nil {
		return 0, err
	}
	if len(logins) == 0 {
		return neutralScore, nil
	}
	successes := 0
	for _, l := range logins {
		if l.Success {
			successes++
		}
	}
	ratio := float64(successes) / float64(len(logins))
	// Recent successful activity is a positive trust signal, capped at 1.
	score := 0.4 + 0.6*ratio
	return clamp01(score), nil
}

// accountAgeTrust: <1d->0.2, <7d->0.4, <30d->0.6, else 0.9.
func (o *Orchestrator) accountAgeTrust(ctx context.Context, sctx SigninContext) (float64, error) {
	p, ok, err := o.store.GetPrincipal(ctx, sctx.PrincipalID)
	if err != nil {
		return 0, err
	}
	if !ok || p.CreatedAt.IsZero() {
		return neutralScore, nil
	}
	age := sctx.Now.Sub(p.CreatedAt)
	switch {
	case age < 24*time.Hour:
		return 0.2, nil
	case age < 7*24*time.Hour:
		return 0.4, nil
	case age < 30*24*time.Hour:
		return 0.6, nil
	default:
		return 0.9, nil
	}
}

// failedAttemptsPenalty: linear penalty in recent failures, capped at 0.
func (o *Orchestrator) failedAttemptsPenalty(ctx context.Context, sctx SigninContext) (float64, error) {
	logins, err := o.store.RecentLogins(ctx, sctx.PrincipalID, sctx.Now.Add(-1*time.Hour))
	if err != nil {
		return 0, err
	}
	failures := 0
	for _, l := range logins {
		if !l.Success {
			failures++
		}
	}
	score := 1.0 - 0.25*float64(failures)
	return clamp01(score), nil
}
