package repository

import (
	"context"
	"fmt"
	"time"

	"EdgeLab/internal/usecase"
	pkgcache "EdgeLab/pkg/cache"
	applogger "EdgeLab/pkg/logger"
)

// rankedPoolKey is where the exported pool lives, under the cache prefix.
const rankedPoolKey = "pool:ranked"

// RedisPoolExporter publishes the ranked ACTIVE pool to Redis so execution
// layers can read it without holding an engine connection. It also carries
// the leadership lock that keeps the stateful engine a singleton: lifecycle
// state lives in process memory, so two engines on one stream would diverge.
type RedisPoolExporter struct {
	svc     pkgcache.Service
	log     *applogger.Logger
	lockKey string
	lockTTL time.Duration
}

func NewRedisPoolExporter(svc pkgcache.Service, log *applogger.Logger, lockKey string, lockTTL time.Duration) *RedisPoolExporter {
	return &RedisPoolExporter{svc: svc, log: log, lockKey: lockKey, lockTTL: lockTTL}
}

type rankedEntry struct {
	Rank      int     `json:"rank"`
	ID        string  `json:"id"`
	Symbol    string  `json:"symbol"`
	Predicate string  `json:"predicate"`
	Direction string  `json:"direction"`
	Horizon   int     `json:"horizon"`
	Score     float64 `json:"score"`
	N         int64   `json:"n"`
	HitRate   float64 `json:"hit_rate"`
}

// Export writes the current ranking with a TTL. A stalled engine leaves a
// stale key that expires rather than an eternally fresh-looking pool.
func (e *RedisPoolExporter) Export(ctx context.Context, entries []usecase.StrategyPoolEntry, ttl time.Duration) error {
	out := make([]rankedEntry, 0, len(entries))
	for i, en := range entries {
		h := en.Hypothesis
		out = append(out, rankedEntry{
			Rank:      i + 1,
			ID:        h.ID,
			Symbol:    h.Symbol,
			Predicate: h.Predicate.String(),
			Direction: h.Prediction.Direction.String(),
			Horizon:   h.Prediction.Horizon,
			Score:     en.Score,
			N:         h.Stats.N,
			HitRate:   h.Stats.HitRate(),
		})
	}
	if err := e.svc.Set(ctx, rankedPoolKey, out, ttl); err != nil {
		return fmt.Errorf("export pool: %w", err)
	}
	return nil
}

// AcquireLeadership takes the engine lock. False means another live instance
// holds it.
func (e *RedisPoolExporter) AcquireLeadership(ctx context.Context) (bool, error) {
	return e.svc.TryLock(ctx, e.lockKey, e.lockTTL)
}

// RefreshLeadership extends the lock TTL. If the key expired, it is re-taken
// immediately.
func (e *RedisPoolExporter) RefreshLeadership(ctx context.Context) error {
	ok, err := e.svc.Expire(ctx, e.lockKey, e.lockTTL)
	if err != nil {
		return fmt.Errorf("refresh leadership: %w", err)
	}
	if !ok {
		e.log.Warn("engine lock expired, re-acquiring", applogger.String("key", e.lockKey))
		if _, err := e.svc.TryLock(ctx, e.lockKey, e.lockTTL); err != nil {
			return fmt.Errorf("re-acquire leadership: %w", err)
		}
	}
	return nil
}

// ReleaseLeadership drops the lock so a standby can take over promptly.
func (e *RedisPoolExporter) ReleaseLeadership(ctx context.Context) error {
	return e.svc.Unlock(ctx, e.lockKey)
}
