package cache

import (
	"context"
	"encoding/json"
	"time"
)

// effectiveSetPrefix namespaces RBAC effective-permission-set cache
// entries from other MultiTier consumers sharing the same tiers.
const effectiveSetPrefix = "rbac:effset"

// defaultEffectiveSetTTL is a belt-and-braces L2 expiry; cacheEpoch
// remains the authoritative invalidation signal.
const defaultEffectiveSetTTL = 5 * time.Minute

// EffectiveSetCache adapts a MultiTier into rbac.PermissionCache
//: effective permission sets are cached
// per (principalId, workspaceId) pair, keyed by the workspace's
// cacheEpoch so any structural change invalidates the cached read
// without an explicit eviction.
type EffectiveSetCache struct {
	tier *MultiTier
	ttl  time.Duration
}

// NewEffectiveSetCache wraps tier for RBAC effective-set caching. ttl
// governs the L2 belt-and-braces expiry; pass 0 for defaultEffectiveSetTTL.
func NewEffectiveSetCache(tier *MultiTier, ttl time.Duration) *EffectiveSetCache {
	if ttl == 0 {
		ttl = defaultEffectiveSetTTL
	}
	return &EffectiveSetCache{tier: tier, ttl: ttl}
}

// GetEffectiveSet returns the cached set for key at epoch, or
// (nil, false) on a miss or any decode/tier failure (fail-open: the
// caller recomputes).
func (e *EffectiveSetCache) GetEffectiveSet(key string, epoch int64) (map[string]bool, bool) {
	raw, ok, err := e.tier.Get(context.Background(), EpochKey(effectiveSetPrefix, key, epoch))
	if err != nil || !ok {
		return nil, false
	}
	var set map[string]bool
	if err := json.Unmarshal(raw, &set); err != nil {
		return nil, false
	}
	return set, true
}

// SetEffectiveSet stores value for key at epoch. Encode/store failures
// are swallowed: the cache is a read-your-writes-within-epoch
// convenience, not a correctness dependency.
func (e *EffectiveSetCache) SetEffectiveSet(key string, epoch int64, value map[string]bool) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	_ = e.tier.Set(context.Background(), EpochKey(effectiveSetPrefix, key, epoch), raw, e.ttl)
}
