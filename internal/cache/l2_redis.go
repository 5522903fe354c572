package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// L2 is the shared network tier, a thin wrapper over go-redis/v9. Its
// TTLs are belt-and-braces cleanup, secondary to epoch invalidation:
// entries still expire on their own even if a workspace's cacheEpoch
// never bumps.
type L2 struct {
	rdb *redis.Client
}

// NewL2 connects to a redis instance at addr/db. Ping failures are
// returned to the caller so bootstrap can decide whether L2 is
// mandatory or the multi-tier cache should degrade to L1-only.
func NewL2(ctx context.Context, addr, password string, db int) (*L2, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     20,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return &L2{rdb: rdb}, nil
}

func (l *L2) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := l.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (l *L2) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return l.rdb.Set(ctx, key, value, ttl).Err()
}

func (l *L2) Invalidate(ctx context.Context, key string) error {
	return l.rdb.Del(ctx, key).Err()
}

// Ping probes the connection, for health checks.
func (l *L2) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return l.rdb.Ping(pingCtx).Err()
}

// Close shuts down the underlying redis client.
func (l *L2) Close() error { return l.rdb.Close() }
