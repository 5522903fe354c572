package cache

import (
	"context"
	"time"

	infracache "github.com/r3e-network/security-governance-core/infrastructure/cache"
)

// L1 is the process-local tier, backed by the bounded, TTL-pruned
// infrastructure/cache.Cache. Its background cleanup goroutine sweeps
// expired entries every CleanupInterval (default 10 minutes).
type L1 struct {
	c *infracache.Cache
}

// NewL1 constructs the process-local tier. ttl is the default entry
// lifetime; prune is how often the background sweep runs.
func NewL1(ttl, prune time.Duration) *L1 {
	cfg := infracache.DefaultConfig()
	if ttl > 0 {
		cfg.DefaultTTL = ttl
	}
	if prune > 0 {
		cfg.CleanupInterval = prune
	}
	return &L1{c: infracache.NewCache(cfg)}
}

func (l *L1) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, ok := l.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, false, nil
	}
	return b, true, nil
}

func (l *L1) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	l.c.Set(key, value, ttl)
	return nil
}

func (l *L1) Invalidate(ctx context.Context, key string) error {
	l.c.Invalidate(key)
	return nil
}

// Size reports the current entry count, for diagnostics.
func (l *L1) Size() int { return l.c.Size() }

// Close stops the background prune loop.
func (l *L1) Close() { l.c.Close() }

// PruneExpired removes entries past their TTL and returns how many
// were removed, satisfying jobs.Pruner for the cachePruner job. The
// background cleanup loop already does this on its own timer; this
// lets a manual/triggered sweep run immediately.
func (l *L1) PruneExpired(ctx context.Context) (int, error) {
	return l.c.PruneExpired(), nil
}
