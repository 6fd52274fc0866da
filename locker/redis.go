package locker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/warp/teller-settlement/settlement"
)

const (
	keyPrefix    = "teller-settlement:lock:"
	retryBackoff = 50 * time.Millisecond
)

// Redis shares locks between processes through redislock.
type Redis struct {
	client *redislock.Client
}

var _ settlement.Locker = (*Redis)(nil)

func NewRedis(rdb redislock.RedisClient) *Redis {
	return &Redis{client: redislock.New(rdb)}
}

// Lock retries with linear backoff until the key is free, ctx is done or
// ttl has elapsed.
func (r *Redis) Lock(ctx context.Context, key string, ttl time.Duration) (settlement.Unlocker, error) {
	ctx, cancel := context.WithTimeout(ctx, ttl)
	defer cancel()

	lock, err := r.client.Obtain(ctx, keyPrefix+key, ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(retryBackoff),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: %s", settlement.ErrLockHeld, key)
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", key, err)
	}
	return redisLock{lock}, nil
}

func (r *Redis) TryLock(ctx context.Context, key string, ttl time.Duration) (settlement.Unlocker, error) {
	lock, err := r.client.Obtain(ctx, keyPrefix+key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, settlement.ErrLockHeld
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", key, err)
	}
	return redisLock{lock}, nil
}

type redisLock struct {
	lock *redislock.Lock
}

// Release tolerates a lock that already expired.
func (l redisLock) Release(ctx context.Context) error {
	err := l.lock.Release(ctx)
	if errors.Is(err, redislock.ErrLockNotHeld) {
		return nil
	}
	return err
}
