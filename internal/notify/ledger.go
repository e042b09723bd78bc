package notify

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// setNXer is the go-redis command used by the ledger.
type setNXer interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// RedisLedger is a Ledger shared by every worker through Redis. Keys expire after ttl,
// so only repeats within that window are suppressed.
type RedisLedger struct {
	client setNXer
	ttl    time.Duration
}

// NewRedisLedger creates a ledger on client.
func NewRedisLedger(client *redis.Client, ttl time.Duration) *RedisLedger {
	return newRedisLedger(client, ttl)
}

func newRedisLedger(client setNXer, ttl time.Duration) *RedisLedger {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisLedger{client: client, ttl: ttl}
}

// Remember implements Ledger with an atomic SET NX.
func (l *RedisLedger) Remember(ctx context.Context, key string) (bool, error) {
	return l.client.SetNX(ctx, key, 1, l.ttl).Result()
}
