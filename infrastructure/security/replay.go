// Package security holds request-integrity primitives for the ingress:
// nonce replay defense backing the x-request-nonce header.
package security

import (
	"sync"
	"time"

	"github.com/r3e-network/security-governance-core/infrastructure/logging"
)

// defaultMaxTracked bounds the nonce map so a flood of unique nonces
// cannot exhaust memory; at capacity new nonces are rejected, which fails
// closed for signed requests.
const defaultMaxTracked = 100_000

// ReplayProtection tracks request nonces inside a sliding window. A nonce
// seen twice within the window is a replay and is rejected.
type ReplayProtection struct {
	window      time.Duration
	maxTracked  int
	mu          sync.RWMutex
	seen        map[string]time.Time
	lastCleanup time.Time
	logger      *logging.Logger
}

// NewReplayProtection remembers nonces for window (default 5 minutes,
// matching the signature timestamp skew: a nonce older than the skew can
// never validate anyway).
func NewReplayProtection(window time.Duration, logger *logging.Logger) *ReplayProtection {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &ReplayProtection{
		window:      window,
		maxTracked:  defaultMaxTracked,
		seen:        make(map[string]time.Time),
		lastCleanup: time.Now(),
		logger:      logger,
	}
}

// ValidateAndMark reports whether nonce is fresh and records it. Empty
// nonces are always rejected.
func (rp *ReplayProtection) ValidateAndMark(nonce string) bool {
	if nonce == "" {
		return false
	}

	rp.mu.Lock()
	defer rp.mu.Unlock()

	now := time.Now()
	if now.Sub(rp.lastCleanup) > rp.window/2 {
		rp.cleanupLocked(now)
	}

	if seenAt, exists := rp.seen[nonce]; exists {
		if now.Sub(seenAt) < rp.window {
			if rp.logger != nil {
				rp.logger.WithFields(map[string]interface{}{
					"nonce":  nonce,
					"window": rp.window.String(),
				}).Warn("replayed request nonce rejected")
			}
			return false
		}
		delete(rp.seen, nonce)
	}

	if len(rp.seen) >= rp.maxTracked {
		rp.cleanupLocked(now)
		if len(rp.seen) >= rp.maxTracked {
			if rp.logger != nil {
				rp.logger.WithFields(map[string]interface{}{"max": rp.maxTracked}).
					Warn("replay protection at capacity, rejecting nonce")
			}
			return false
		}
	}

	rp.seen[nonce] = now
	return true
}

// IsReplay reports whether nonce was already used, without marking it.
func (rp *ReplayProtection) IsReplay(nonce string) bool {
	if nonce == "" {
		return false
	}
	rp.mu.RLock()
	defer rp.mu.RUnlock()
	seenAt, exists := rp.seen[nonce]
	return exists && time.Since(seenAt) < rp.window
}

func (rp *ReplayProtection) cleanupLocked(now time.Time) {
	for nonce, seenAt := range rp.seen {
		if now.Sub(seenAt) > rp.window {
			delete(rp.seen, nonce)
		}
	}
	rp.lastCleanup = now
}

// Size reports how many nonces are currently tracked.
func (rp *ReplayProtection) Size() int {
	rp.mu.RLock()
	defer rp.mu.RUnlock()
	return len(rp.seen)
}

// Clear forgets every tracked nonce. Tests only.
func (rp *ReplayProtection) Clear() {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.seen = make(map[string]time.Time)
}
