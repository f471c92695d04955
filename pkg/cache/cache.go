// Package cache provides the key-value backends shared by the API response
// cache and the pool exporter: a Redis client, an in-process store and a
// layered combination of the two. Values are serialized to JSON on the way
// in, so any backend can hand an entry back into a typed destination.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrCacheMiss is returned by Get when the key is absent or expired.
var ErrCacheMiss = errors.New("cache: key not found")

// Service is the surface the application programs against. The lock methods
// follow SetNX semantics: TryLock either takes the key or reports it held.
type Service interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, keys ...string) error
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// encode turns a value into its stored byte form. Strings and raw bytes pass
// through unchanged so lock markers and pre-rendered payloads skip the JSON
// layer.
func encode(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return json.Marshal(v)
	}
}

// decode reverses encode into dest, which must be a pointer.
func decode(data []byte, dest interface{}) error {
	switch d := dest.(type) {
	case *[]byte:
		*d = data
		return nil
	case *string:
		*d = string(data)
		return nil
	default:
		return json.Unmarshal(data, dest)
	}
}
