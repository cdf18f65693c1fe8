package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/rs/zerolog"
)

const redisKeyPrefix = "fabricbill:lock:customer:"

// RedisLocker serialises ledger work on a key across server instances.
// Obtain retries with a linear backoff until the caller's context ends.
type RedisLocker struct {
	client  *redislock.Client
	ttl     time.Duration
	backoff time.Duration
	log     zerolog.Logger
}

func NewRedisLocker(rdb redislock.RedisClient, ttl time.Duration, log zerolog.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{
		client:  redislock.New(rdb),
		ttl:     ttl,
		backoff: 50 * time.Millisecond,
		log:     log,
	}
}

func (r *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	lk, err := r.client.Obtain(ctx, redisKeyPrefix+key, r.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(r.backoff),
	})
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) || ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrNotAcquired, key, err)
		}
		return nil, fmt.Errorf("obtain lock %s: %w", key, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := lk.Release(releaseCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				r.log.Warn().Err(err).Str("key", key).Msg("release customer lock")
			}
		})
	}, nil
}
