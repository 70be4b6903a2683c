package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	domain "github.com/finvault/gateway/internal/domain/identity"
)

// RedisCache is the distributed tier of the fallback cache, shared across
// gateway instances.
type RedisCache struct {
	client *redis.Client
}

var _ RemoteCache = (*RedisCache)(nil)

// NewRedisCache wraps an existing redis client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// OpenRedis connects to redis and verifies the connection.
func OpenRedis(ctx context.Context, addr, password string, db int) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return NewRedisCache(client), nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (domain.CachedVerification, bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return domain.CachedVerification{}, false, nil
	}
	if err != nil {
		return domain.CachedVerification{}, false, err
	}

	var entry domain.CachedVerification
	if err := json.Unmarshal(raw, &entry); err != nil {
		// Corrupt payloads degrade to a miss.
		return domain.CachedVerification{}, false, nil
	}
	return entry, true, nil
}

func (c *RedisCache) Put(ctx context.Context, key string, entry domain.CachedVerification, ttl time.Duration) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, raw, ttl).Err()
}

// Close releases the underlying client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
