package kv

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/workmesh/ndp/internal/signals"
)

// blockingPollInterval is how long each transport-level blocking call is
// allowed to run before the loop re-checks the stopping signal. Blocking
// transport calls are not cancellable, so this bounds shutdown latency.
const blockingPollInterval = time.Second

// RedisStore implements Store on a Redis connection.
type RedisStore struct {
	client *redis.Client
	stop   *signals.Stopping
}

// NewRedisStore wraps an existing Redis client. The stopping signal unblocks
// every blocking operation during shutdown; it may be nil in tests.
func NewRedisStore(client *redis.Client, stop *signals.Stopping) *RedisStore {
	return &RedisStore{client: client, stop: stop}
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (r *RedisStore) SetOne(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisStore) MGet(ctx context.Context, keys ...string) ([]*string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	raw, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*string, len(raw))
	for i, v := range raw {
		if s, ok := v.(string); ok {
			out[i] = &s
		}
	}
	return out, nil
}

func (r *RedisStore) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	return r.client.Del(ctx, keys...).Result()
}

func (r *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	return n > 0, err
}

func (r *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.client.Expire(ctx, key, ttl).Result()
}

func (r *RedisStore) LPush(ctx context.Context, key string, values ...string) (int64, error) {
	return r.client.LPush(ctx, key, stringsToAny(values)...).Result()
}

func (r *RedisStore) RPush(ctx context.Context, key string, values ...string) (int64, error) {
	return r.client.RPush(ctx, key, stringsToAny(values)...).Result()
}

func (r *RedisStore) LPop(ctx context.Context, key string) (string, bool, error) {
	return missNil(r.client.LPop(ctx, key).Result())
}

func (r *RedisStore) RPop(ctx context.Context, key string) (string, bool, error) {
	return missNil(r.client.RPop(ctx, key).Result())
}

func (r *RedisStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return r.client.LRange(ctx, key, start, stop).Result()
}

func (r *RedisStore) LRem(ctx context.Context, key string, count int64, value string) (int64, error) {
	return r.client.LRem(ctx, key, count, value).Result()
}

func (r *RedisStore) LMove(ctx context.Context, src, dst string, from, to Side) (string, bool, error) {
	return missNil(r.client.LMove(ctx, src, dst, string(from), string(to)).Result())
}

func (r *RedisStore) BLPop(ctx context.Context, key string, timeoutSecs int) (string, bool, error) {
	return r.blockingPop(ctx, timeoutSecs, func(ctx context.Context) (string, bool, error) {
		vals, err := r.client.BLPop(ctx, blockingPollInterval, key).Result()
		return popResult(vals, err)
	})
}

func (r *RedisStore) BRPop(ctx context.Context, key string, timeoutSecs int) (string, bool, error) {
	return r.blockingPop(ctx, timeoutSecs, func(ctx context.Context) (string, bool, error) {
		vals, err := r.client.BRPop(ctx, blockingPollInterval, key).Result()
		return popResult(vals, err)
	})
}

func (r *RedisStore) BLMove(ctx context.Context, src, dst string, from, to Side, timeoutSecs int) (string, bool, error) {
	return r.blockingPop(ctx, timeoutSecs, func(ctx context.Context) (string, bool, error) {
		return missNil(r.client.BLMove(ctx, src, dst, string(from), string(to), blockingPollInterval).Result())
	})
}

// blockingPop runs one-second transport waits in a loop until a value
// arrives, the caller's timeout elapses, or the stopping signal is set.
func (r *RedisStore) blockingPop(ctx context.Context, timeoutSecs int, pop func(context.Context) (string, bool, error)) (string, bool, error) {
	deadline := time.Now().Add(time.Duration(timeoutSecs) * time.Second)
	for {
		if r.stop != nil && r.stop.IsSet() {
			return "", false, nil
		}
		if ctx.Err() != nil {
			return "", false, ctx.Err()
		}
		val, ok, err := pop(ctx)
		if err != nil || ok {
			return val, ok, err
		}
		if !time.Now().Before(deadline) {
			return "", false, nil
		}
	}
}

func (r *RedisStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return r.client.HSet(ctx, key, args...).Err()
}

func (r *RedisStore) HGet(ctx context.Context, key, field string) (string, bool, error) {
	return missNil(r.client.HGet(ctx, key, field).Result())
}

func (r *RedisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return r.client.HGetAll(ctx, key).Result()
}

func (r *RedisStore) HDel(ctx context.Context, key string, fields ...string) (int64, error) {
	return r.client.HDel(ctx, key, fields...).Result()
}

func (r *RedisStore) SAdd(ctx context.Context, key string, members ...string) (int64, error) {
	return r.client.SAdd(ctx, key, stringsToAny(members)...).Result()
}

func (r *RedisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	return r.client.SMembers(ctx, key).Result()
}

func (r *RedisStore) SRem(ctx context.Context, key string, members ...string) (int64, error) {
	return r.client.SRem(ctx, key, stringsToAny(members)...).Result()
}

func (r *RedisStore) SMove(ctx context.Context, src, dst, member string) (bool, error) {
	return r.client.SMove(ctx, src, dst, member).Result()
}

func (r *RedisStore) SPop(ctx context.Context, key string) (string, bool, error) {
	return missNil(r.client.SPop(ctx, key).Result())
}

func missNil(val string, err error) (string, bool, error) {
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func popResult(vals []string, err error) (string, bool, error) {
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if len(vals) != 2 {
		return "", false, nil
	}
	// BLPop/BRPop return [key, value]
	return vals[1], true, nil
}

func stringsToAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
