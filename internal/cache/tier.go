// Package cache implements the epoch-scoped multi-tier cache: an L1
// process-local tier and an L2 shared tier, keyed
// by the owning workspace's cacheEpoch so a bump of that epoch
// logically invalidates every prior entry without an eviction sweep.
package cache

import (
	"context"
	"fmt"
	"time"
)

// Tier is one layer of the multi-tier cache. Both the L1 (process-local)
// and L2 (shared/redis) implementations satisfy this so MultiTier can
// compose them uniformly.
type Tier interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

// EpochKey builds the "<prefix>:<workspaceId>:v<epoch>" key form.
// A cacheEpoch bump changes every key for that workspace,
// so stale entries become unreachable (read-miss) without needing an
// active eviction pass.
func EpochKey(prefix, workspaceID string, epoch int64) string {
	return fmt.Sprintf("%s:%s:v%d", prefix, workspaceID, epoch)
}
