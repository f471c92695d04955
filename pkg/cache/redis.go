package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix separates this application's entries from anything else living
// on the same Redis instance.
const keyPrefix = "edgelab"

type redisConfig struct {
	host     string
	port     int
	password string
	db       int
}

// RedisOption adjusts the Redis connection settings.
type RedisOption func(*redisConfig)

func WithRedisHost(host string) RedisOption   { return func(c *redisConfig) { c.host = host } }
func WithRedisPort(port int) RedisOption      { return func(c *redisConfig) { c.port = port } }
func WithRedisPassword(pw string) RedisOption { return func(c *redisConfig) { c.password = pw } }
func WithRedisDB(db int) RedisOption          { return func(c *redisConfig) { c.db = db } }

// RedisCache implements Service on a single Redis instance.
type RedisCache struct {
	client *redis.Client
}

var _ Service = (*RedisCache)(nil)

// NewRedisCache connects to Redis and verifies the connection with a ping.
func NewRedisCache(opts ...RedisOption) (*RedisCache, error) {
	cfg := &redisConfig{host: "localhost", port: 6379}
	for _, opt := range opts {
		opt(cfg)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.host, cfg.port),
		Password:     cfg.password,
		DB:           cfg.db,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisCache{client: client}, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	return r.setBytes(ctx, key, data, ttl)
}

func (r *RedisCache) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := r.getBytes(ctx, key)
	if err != nil {
		return err
	}
	return decode(data, dest)
}

// Delete unlinks keys so memory reclamation happens off the command path.
func (r *RedisCache) Delete(ctx context.Context, keys ...string) error {
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = prefixed(k)
	}
	return r.client.Unlink(ctx, full...).Err()
}

// TryLock takes key atomically. False means another holder owns it.
func (r *RedisCache) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, prefixed(key), "locked", ttl).Result()
}

// Expire resets the TTL on a live key. False means the key no longer exists.
func (r *RedisCache) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.client.Expire(ctx, prefixed(key), ttl).Result()
}

func (r *RedisCache) Unlock(ctx context.Context, key string) error {
	return r.client.Del(ctx, prefixed(key)).Err()
}

// Close releases the connection pool.
func (r *RedisCache) Close() error { return r.client.Close() }

func (r *RedisCache) setBytes(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	return r.client.Set(ctx, prefixed(key), data, ttl).Err()
}

func (r *RedisCache) getBytes(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, prefixed(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	return data, err
}

func prefixed(key string) string { return keyPrefix + ":" + key }
