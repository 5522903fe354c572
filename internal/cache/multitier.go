package cache

import (
	"context"
	"time"

	"github.com/r3e-network/security-governance-core/infrastructure/metrics"
)

// MultiTier composes an L1 (process-local) and an optional L2 (shared)
// tier behind one Tier-shaped API. A read checks L1 first; on an L1
// miss it falls through to L2 and, on an L2 hit, repopulates L1 so the
// next read is local. L2 is optional: a nil L2 degrades to L1-only,
// which is sufficient for a single-process deployment or tests.
type MultiTier struct {
	l1      *L1
	l2      *L2
	l1TTL   time.Duration
	metrics *metrics.Metrics
	service string
}

// Option configures a MultiTier.
type Option func(*MultiTier)

func WithL2(l2 *L2) Option                    { return func(m *MultiTier) { m.l2 = l2 } }
func WithMetrics(mm *metrics.Metrics) Option   { return func(m *MultiTier) { m.metrics = mm } }
func WithServiceLabel(service string) Option  { return func(m *MultiTier) { m.service = service } }

// NewMultiTier constructs a MultiTier over l1, with l1TTL used when an
// L2 hit is repopulated into L1.
func NewMultiTier(l1 *L1, l1TTL time.Duration, opts ...Option) *MultiTier {
	m := &MultiTier{l1: l1, l1TTL: l1TTL, service: "cache"}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MultiTier) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if v, ok, err := m.l1.Get(ctx, key); err == nil && ok {
		m.recordHit("l1")
		return v, true, nil
	}
	m.recordMiss("l1")

	if m.l2 == nil {
		return nil, false, nil
	}
	v, ok, err := m.l2.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		m.recordMiss("l2")
		return nil, false, nil
	}
	m.recordHit("l2")
	_ = m.l1.Set(ctx, key, v, m.l1TTL)
	return v, true, nil
}

func (m *MultiTier) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := m.l1.Set(ctx, key, value, m.l1TTL); err != nil {
		return err
	}
	if m.l2 != nil {
		return m.l2.Set(ctx, key, value, ttl)
	}
	return nil
}

// Invalidate removes key from both tiers. Most callers rely on the
// epoch bump (EpochKey) to invalidate logically instead of calling
// this explicitly.
func (m *MultiTier) Invalidate(ctx context.Context, key string) error {
	_ = m.l1.Invalidate(ctx, key)
	if m.l2 != nil {
		return m.l2.Invalidate(ctx, key)
	}
	return nil
}

func (m *MultiTier) recordHit(tier string) {
	if m.metrics != nil {
		m.metrics.RecordCacheHit(m.service, tier)
	}
}

func (m *MultiTier) recordMiss(tier string) {
	if m.metrics != nil {
		m.metrics.RecordCacheMiss(m.service, tier)
	}
}

// PruneExpired sweeps L1's expired entries. L2 cooperates
// via its own TTL expiry and needs no explicit sweep.
func (m *MultiTier) PruneExpired(ctx context.Context) (int, error) {
	return m.l1.PruneExpired(ctx)
}
