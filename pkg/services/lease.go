package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Lease is a cross-process mutual exclusion on a key. Acquire never blocks:
// acquired is false when another holder has the key.
type Lease interface {
	Acquire(ctx context.Context, key string) (release func(), acquired bool, err error)
}

// NopLease always grants the lease. It is used when Redis is not configured.
type NopLease struct{}

func (NopLease) Acquire(context.Context, string) (func(), bool, error) {
	return func() {}, true, nil
}

// Deletes the key only while it still holds our token, so a lease that
// expired and was taken by another process is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

const releaseTimeout = 5 * time.Second

// RedisLease implements Lease with SET NX and a token-checked delete.
type RedisLease struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	logger *zap.Logger
}

func NewRedisLease(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisLease {
	return &RedisLease{
		client: client,
		ttl:    ttl,
		prefix: "gallery:lease:",
		logger: logger.Named("redis-lease"),
	}
}

var (
	_ Lease = (*RedisLease)(nil)
	_ Lease = NopLease{}
)

func (l *RedisLease) Acquire(ctx context.Context, key string) (func(), bool, error) {
	k := l.prefix + key
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, k, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return func() {
		rctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		if err := releaseScript.Run(rctx, l.client, []string{k}, token).Err(); err != nil {
			l.logger.Warn("Failed to release lease; it will expire",
				zap.String("key", k),
				zap.Duration("ttl", l.ttl),
				zap.Error(err))
		}
	}, true, nil
}
