package cache

import (
	"context"
	"time"
)

// promoteTTL bounds how long a Redis hit stays in the memory layer. A short
// lease keeps local copies from outliving changes made by other writers.
const promoteTTL = time.Minute

// LayeredCache pairs the in-process cache with Redis. Reads try memory
// first; Redis hits are promoted under promoteTTL. Writes are encoded once
// and go through to both layers. Lock operations bypass the memory layer:
// exclusion must be visible to every instance, not just this process.
type LayeredCache struct {
	mem   *MemoryCache
	redis *RedisCache
}

var _ Service = (*LayeredCache)(nil)

func NewLayeredCache(redisCache *RedisCache) *LayeredCache {
	return &LayeredCache{mem: NewMemoryCache(), redis: redisCache}
}

func (l *LayeredCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	if err := l.redis.setBytes(ctx, key, data, ttl); err != nil {
		return err
	}
	l.mem.setBytes(key, data, localTTL(ttl))
	return nil
}

func (l *LayeredCache) Get(ctx context.Context, key string, dest interface{}) error {
	if data, ok := l.mem.getBytes(key); ok {
		return decode(data, dest)
	}
	data, err := l.redis.getBytes(ctx, key)
	if err != nil {
		return err
	}
	l.mem.setBytes(key, data, promoteTTL)
	return decode(data, dest)
}

func (l *LayeredCache) Delete(ctx context.Context, keys ...string) error {
	_ = l.mem.Delete(ctx, keys...)
	return l.redis.Delete(ctx, keys...)
}

func (l *LayeredCache) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.redis.TryLock(ctx, key, ttl)
}

func (l *LayeredCache) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.redis.Expire(ctx, key, ttl)
}

func (l *LayeredCache) Unlock(ctx context.Context, key string) error {
	return l.redis.Unlock(ctx, key)
}

// Close stops both layers.
func (l *LayeredCache) Close() error {
	_ = l.mem.Close()
	return l.redis.Close()
}

// localTTL caps memory entries at promoteTTL so a long Redis TTL never pins
// a stale copy locally.
func localTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 || ttl > promoteTTL {
		return promoteTTL
	}
	return ttl
}
