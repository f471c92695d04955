package usecase

import (
	"sort"
	"sync"
	"sync/atomic"

	"EdgeLab/internal/domain/models"
)

// StrategyPoolEntry is one ranked ACTIVE hypothesis as of the last snapshot.
// The embedded hypothesis is a value copy; readers never touch live state.
type StrategyPoolEntry struct {
	Hypothesis models.Hypothesis
	Score      float64
}

// StrategyPool is the ACTIVE set. Membership changes come only from the
// lifecycle manager; ranked reads are served from an atomically swapped
// snapshot so pool queries never contend with statistic updates.
type StrategyPool struct {
	mu       sync.Mutex
	capacity int
	members  map[string]*tracked
	dirty    atomic.Bool
	snap     atomic.Value // []StrategyPoolEntry
}

// NewStrategyPool creates a pool with the given capacity cap.
func NewStrategyPool(capacity int) *StrategyPool {
	if capacity < 1 {
		capacity = 1
	}
	p := &StrategyPool{
		capacity: capacity,
		members:  make(map[string]*tracked),
	}
	p.snap.Store([]StrategyPoolEntry{})
	return p
}

// Capacity returns the pool cap.
func (p *StrategyPool) Capacity() int { return p.capacity }

// Size returns the current member count.
func (p *StrategyPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.members)
}

// Full reports whether the pool is at capacity.
func (p *StrategyPool) Full() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.members) >= p.capacity
}

// Add inserts an ACTIVE hypothesis. Caller (the manager) enforces capacity.
func (p *StrategyPool) Add(t *tracked) {
	p.mu.Lock()
	p.members[t.h.ID] = t
	p.mu.Unlock()
	p.rebuild()
}

// Remove drops a hypothesis from the pool.
func (p *StrategyPool) Remove(id string) {
	p.mu.Lock()
	delete(p.members, id)
	p.mu.Unlock()
	p.rebuild()
}

// Lowest returns the lowest-ranked member per the current ordering, or nil
// when the pool is empty.
func (p *StrategyPool) Lowest() *tracked {
	p.mu.Lock()
	defer p.mu.Unlock()
	var lowest *tracked
	var lowestEntry StrategyPoolEntry
	for _, t := range p.members {
		e := StrategyPoolEntry{Hypothesis: t.snapshot()}
		e.Score = e.Hypothesis.Score()
		if lowest == nil || entryLess(e, lowestEntry) {
			lowest, lowestEntry = t, e
		}
	}
	return lowest
}

// MarkDirty schedules a snapshot rebuild for the next RebuildIfDirty.
func (p *StrategyPool) MarkDirty() { p.dirty.Store(true) }

// RebuildIfDirty refreshes the snapshot when scores may have drifted.
func (p *StrategyPool) RebuildIfDirty() {
	if p.dirty.CompareAndSwap(true, false) {
		p.rebuild()
	}
}

// Rank returns the ranked entries from the latest snapshot: composite score
// descending, ties broken by lower variance, then earlier promotion.
func (p *StrategyPool) Rank() []StrategyPoolEntry {
	return p.snap.Load().([]StrategyPoolEntry)
}

func (p *StrategyPool) rebuild() {
	p.mu.Lock()
	entries := make([]StrategyPoolEntry, 0, len(p.members))
	for _, t := range p.members {
		e := StrategyPoolEntry{Hypothesis: t.snapshot()}
		e.Score = e.Hypothesis.Score()
		entries = append(entries, e)
	}
	p.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entryLess(entries[j], entries[i]) })
	p.dirty.Store(false)
	p.snap.Store(entries)
}

// entryLess reports whether a ranks strictly below b. Lower score loses;
// equal scores prefer lower variance; equal variance prefers the earlier
// promotion so equally ranked members do not churn.
func entryLess(a, b StrategyPoolEntry) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	av, bv := a.Hypothesis.Stats.Variance(), b.Hypothesis.Stats.Variance()
	if av != bv {
		return av > bv
	}
	ap, bp := a.Hypothesis.PromotedAt, b.Hypothesis.PromotedAt
	if !ap.Equal(bp) {
		return ap.After(bp)
	}
	return a.Hypothesis.ID > b.Hypothesis.ID
}
