package kv

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/workmesh/ndp/internal/ids"
)

// ErrLockLost reports that a lock expired or changed hands before a
// Refresh, meaning the holder can no longer assume exclusivity.
var ErrLockLost = errors.New("kv: lock lost")

// Lock scripts compare the stored token before touching the key, so a lock
// that expired and was re-acquired elsewhere is never refreshed or released
// by its previous holder.
var (
	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("EXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0`)
)

type redisLock struct {
	client  *redis.Client
	key     string
	token   string
	ttlSecs int
}

func (r *RedisStore) AcquireLock(ctx context.Context, key string, ttlSecs int) (Lock, error) {
	token := ids.NewSecret()
	ok, err := r.client.SetNX(ctx, key, token, time.Duration(ttlSecs)*time.Second).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &redisLock{client: r.client, key: key, token: token, ttlSecs: ttlSecs}, nil
}

func (l *redisLock) Refresh(ctx context.Context) error {
	n, err := refreshScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttlSecs).Int64()
	if err != nil {
		return err
	}
	if n != 1 {
		return ErrLockLost
	}
	return nil
}

func (l *redisLock) Release(ctx context.Context) error {
	_, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Result()
	return err
}
