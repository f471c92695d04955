package ratelimit

import (
	"sync"
	"time"
)

// sweepEvery bounds how long an idle bucket survives. API buckets key on
// client address, so the map would otherwise grow with every visitor.
const sweepEvery = 10 * time.Minute

// Limiter is a keyed token bucket shared by the REST backfill pacing and the
// query API. Buckets refill continuously at the caller-supplied rate.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	sweepAt time.Time
}

type bucket struct {
	tokens float64
	seen   time.Time
}

func New() *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		sweepAt: time.Now().Add(sweepEvery),
	}
}

// Allow consumes one token from key's bucket when available. capacity bounds
// the burst; refillPerSec is the sustained rate.
func (l *Limiter) Allow(key string, capacity, refillPerSec float64) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.sweepAt) {
		l.sweep(now)
	}

	b, ok := l.buckets[key]
	if !ok {
		l.buckets[key] = &bucket{tokens: capacity - 1, seen: now}
		return capacity >= 1
	}

	b.tokens += now.Sub(b.seen).Seconds() * refillPerSec
	if b.tokens > capacity {
		b.tokens = capacity
	}
	b.seen = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func (l *Limiter) sweep(now time.Time) {
	for k, b := range l.buckets {
		if now.Sub(b.seen) > sweepEvery {
			delete(l.buckets, k)
		}
	}
	l.sweepAt = now.Add(sweepEvery)
}
