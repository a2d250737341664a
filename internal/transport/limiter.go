package transport

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"call-signaling/pkg/utils"
)

// RedisConnCap limits concurrent WebSocket connections per client IP across
// every instance sharing the Redis.
type RedisConnCap struct {
	RDB    *redis.Client
	Limit  int
	TTL    time.Duration
	Prefix string
}

func (r RedisConnCap) key(ip string) string {
	prefix := r.Prefix
	if prefix == "" {
		prefix = "ws:conns:"
	}
	return prefix + ip
}

func (r RedisConnCap) ttl() time.Duration {
	if r.TTL <= 0 {
		return 5 * time.Minute
	}
	return r.TTL
}

func (r RedisConnCap) Acquire(ctx context.Context, ip string) (bool, error) {
	return utils.AcquireConcurrencyCap(ctx, r.RDB, r.key(ip), r.Limit, r.ttl())
}

func (r RedisConnCap) Refresh(ctx context.Context, ip string) error {
	return utils.RefreshConcurrencyCap(ctx, r.RDB, r.key(ip), r.ttl())
}

func (r RedisConnCap) Release(ctx context.Context, ip string) error {
	return utils.ReleaseConcurrencyCap(ctx, r.RDB, r.key(ip))
}
