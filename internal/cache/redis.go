package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zerodha/logf"
)

// RedisCache implements Cache on top of a shared *redis.Client, following
// the teacher's redis wiring style (internal/queue/redis.go,
// internal/middleware/ratelimit.go): a thin wrapper that logs failures
// but lets callers decide how to react to them.
type RedisCache struct {
	client *redis.Client
	log    logf.Logger
}

// NewRedisCache creates a new RedisCache.
func NewRedisCache(client *redis.Client, log logf.Logger) *RedisCache {
	return &RedisCache{client: client, log: log}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, key, value, ttl).Result()
}

func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// compareAndDeleteScript deletes key only if its current value matches
// ARGV[1], the standard Redis "unlock if I still own it" pattern.
var compareAndDeleteScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

func (c *RedisCache) CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error) {
	res, err := compareAndDeleteScript.Run(ctx, c.client, []string{key}, expected).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (c *RedisCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	ok, err := c.client.Expire(ctx, key, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		c.log.Debug("cache expire no-op, key absent", "key", key)
	}
	return nil
}
