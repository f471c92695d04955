package cache

import (
	"context"
	"sync"
	"time"
)

const (
	defaultMemoryCapacity = 4096
	defaultJanitorEvery   = time.Minute

	// Entries stored without a TTL still age out eventually.
	maxEntryAge = 24 * time.Hour
)

type memoryConfig struct {
	capacity     int
	janitorEvery time.Duration
}

// MemoryOption adjusts the in-process cache.
type MemoryOption func(*memoryConfig)

// WithMemoryCapacity caps the entry count; the least recently used entry is
// evicted beyond it.
func WithMemoryCapacity(n int) MemoryOption {
	return func(c *memoryConfig) { c.capacity = n }
}

// WithMemoryJanitor sets how often expired entries are swept out.
func WithMemoryJanitor(every time.Duration) MemoryOption {
	return func(c *memoryConfig) { c.janitorEvery = every }
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
	lastUsed  time.Time
}

func (e *memoryEntry) expired(now time.Time) bool { return now.After(e.expiresAt) }

// MemoryCache implements Service in process memory. It serves as the response
// cache when Redis is not configured and as the local layer inside
// LayeredCache.
type MemoryCache struct {
	mu       sync.Mutex
	entries  map[string]*memoryEntry
	capacity int

	stop     chan struct{}
	stopOnce sync.Once
}

var _ Service = (*MemoryCache)(nil)

func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := &memoryConfig{capacity: defaultMemoryCapacity, janitorEvery: defaultJanitorEvery}
	for _, opt := range opts {
		opt(cfg)
	}
	m := &MemoryCache{
		entries:  make(map[string]*memoryEntry),
		capacity: cfg.capacity,
		stop:     make(chan struct{}),
	}
	go m.janitor(cfg.janitorEvery)
	return m
}

func (m *MemoryCache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	m.setBytes(key, data, ttl)
	return nil
}

func (m *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	data, ok := m.getBytes(key)
	if !ok {
		return ErrCacheMiss
	}
	return decode(data, dest)
}

func (m *MemoryCache) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.entries, k)
	}
	return nil
}

// TryLock takes key unless a live entry already occupies it. Within a single
// process this gives the same exclusion as the Redis variant.
func (m *MemoryCache) TryLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok && !e.expired(now) {
		return false, nil
	}
	m.entries[key] = &memoryEntry{data: []byte("locked"), expiresAt: now.Add(ttl), lastUsed: now}
	return true, nil
}

func (m *MemoryCache) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || e.expired(now) {
		return false, nil
	}
	e.expiresAt = now.Add(ttl)
	return true, nil
}

func (m *MemoryCache) Unlock(ctx context.Context, key string) error {
	return m.Delete(ctx, key)
}

// Close stops the janitor. Entries stay readable but no longer age out.
func (m *MemoryCache) Close() error {
	m.stopOnce.Do(func() { close(m.stop) })
	return nil
}

func (m *MemoryCache) setBytes(key string, data []byte, ttl time.Duration) {
	now := time.Now()
	if ttl <= 0 {
		ttl = maxEntryAge
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[key]; !ok && len(m.entries) >= m.capacity {
		m.evictOldest()
	}
	m.entries[key] = &memoryEntry{data: data, expiresAt: now.Add(ttl), lastUsed: now}
}

func (m *MemoryCache) getBytes(key string) ([]byte, bool) {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if e.expired(now) {
		delete(m.entries, key)
		return nil, false
	}
	e.lastUsed = now
	return e.data, true
}

// evictOldest removes the least recently used entry. Caller holds mu.
func (m *MemoryCache) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for k, e := range m.entries {
		if oldestKey == "" || e.lastUsed.Before(oldest) {
			oldestKey = k
			oldest = e.lastUsed
		}
	}
	if oldestKey != "" {
		delete(m.entries, oldestKey)
	}
}

func (m *MemoryCache) janitor(every time.Duration) {
	if every <= 0 {
		every = defaultJanitorEvery
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			m.sweep(time.Now())
		case <-m.stop:
			return
		}
	}
}

func (m *MemoryCache) sweep(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, k)
		}
	}
}
