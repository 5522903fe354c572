package mfa

import (
	"sync"
	"time"

	"github.com/r3e-network/security-governance-core/internal/principal"
)

// retryWindow is the sliding window failed attempts are counted in.
const retryWindow = 15 * time.Minute

// methodCooldown is the pause enforced at the 3rd failed attempt.
const methodCooldown = 5 * time.Minute

// accountLockDuration is the temporary account lock at the 4th+ failed attempt.
const accountLockDuration = 15 * time.Minute

type attemptRecord struct {
	failures     []time.Time
	cooldownUntil time.Time
}

// attemptTracker is ephemeral, per-process sliding-window state; it is
// not part of the persisted TwoFactorConfig because it resets cleanly
// on restart and is cheap to rebuild from subsequent attempts.
type attemptTracker struct {
	mu      sync.Mutex
	records map[string]*attemptRecord
}

func newAttemptTracker() *attemptTracker {
	return &attemptTracker{records: make(map[string]*attemptRecord)}
}

func trackerKey(principalID string, method principal.Method) string {
	return principalID + "|" + string(method)
}

func (t *attemptTracker) prune(rec *attemptRecord, now time.Time) {
	cutoff := now.Add(-retryWindow)
	kept := rec.failures[:0]
	for _, f := range rec.failures {
		if f.After(cutoff) {
			kept = append(kept, f)
		}
	}
	rec.failures = kept
}

// recordFailure appends a failed attempt and returns the resulting
// VerifyOutcome per the escalation table: 1->warn, 2->hint alternative,
// 3->5min method cooldown, >=4->15min account lock.
func (t *attemptTracker) recordFailure(principalID string, method principal.Method, now time.Time) VerifyOutcome {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := trackerKey(principalID, method)
	rec, ok := t.records[key]
	if !ok {
		rec = &attemptRecord{}
		t.records[key] = rec
	}
	t.prune(rec, now)
	rec.failures = append(rec.failures, now)
	count := len(rec.failures)

	switch {
	case count == 1:
		return VerifyOutcome{Success: false, Reasoning: []string{"warn: verification failed"}, NextAction: "retry"}
	case count == 2:
		return VerifyOutcome{Success: false, Reasoning: []string{"retry allowed"}, NextAction: "hint_alternative_method"}
	case count == 3:
		rec.cooldownUntil = now.Add(methodCooldown)
		return VerifyOutcome{Success: false, Reasoning: []string{"method cooldown enforced"}, NextAction: "cooldown", LockedUntil: rec.cooldownUntil}
	default:
		lockedUntil := now.Add(accountLockDuration)
		return VerifyOutcome{Success: false, Reasoning: []string{"account locked"}, NextAction: "locked", LockedUntil: lockedUntil}
	}
}

// reset clears the sliding window for (principalID, method) on success.
func (t *attemptTracker) reset(principalID string, method principal.Method) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, trackerKey(principalID, method))
}

// inCooldown reports whether (principalID, method) is currently under
// the attempt-3 cooldown.
func (t *attemptTracker) inCooldown(principalID string, method principal.Method, now time.Time) (bool, time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[trackerKey(principalID, method)]
	if !ok || rec.cooldownUntil.IsZero() {
		return false, time.Time{}
	}
	return now.Before(rec.cooldownUntil), rec.cooldownUntil
}
