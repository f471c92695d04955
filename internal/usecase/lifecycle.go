package usecase

import (
	"context"
	"math"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"EdgeLab/internal/domain/models"
	domrepo "EdgeLab/internal/domain/repository"
	ttlcache "EdgeLab/internal/service/cache"
	hypo "EdgeLab/internal/services/hypothesis"
	applogger "EdgeLab/pkg/logger"
)

// LifecycleConfig carries the promotion policy knobs.
type LifecycleConfig struct {
	MinSamples     int64
	MaxSamples     int64
	MinEdge        float64
	PoolCapacity   int
	DecayWindow    int
	DecayThreshold float64
	Epsilon        float64
	Retention      time.Duration
	EventBuffer    int
}

// tracked pairs a hypothesis with the lock that serializes its mutations.
// Lock order everywhere: manager.mu, then pool.mu, then tracked.mu.
type tracked struct {
	mu sync.Mutex
	h  *models.Hypothesis
}

// snapshot returns a deep copy taken under the hypothesis lock.
func (t *tracked) snapshot() models.Hypothesis {
	t.mu.Lock()
	defer t.mu.Unlock()
	return *t.h.Clone()
}

type familyEntry struct {
	id        string
	threshold float64
}

// LifecycleManager owns every hypothesis from admission to archive: it is
// the single writer of status, pool membership and the duplicate indexes,
// and the single source of transition events.
type LifecycleManager struct {
	log     *applogger.Logger
	metrics domrepo.Metrics
	sink    domrepo.TransitionSink
	test    *hypo.SPRT
	cfg     LifecycleConfig
	pool    *StrategyPool

	mu       sync.RWMutex
	all      map[string]*tracked // non-terminal
	archived map[string]*tracked // terminal, until the retention sweep
	bySymbol map[string]map[string]*tracked
	families map[string][]familyEntry
	archIdx  *ttlcache.TTLCache

	events  chan models.TransitionEvent
	closed  bool
	done    chan struct{}
	running bool

	subMu       sync.RWMutex
	subscribers []chan models.TransitionEvent

	evMu    sync.Mutex
	ring    []models.TransitionEvent
	ringPos int

	duplicates   atomic.Int64
	eventDropped atomic.Int64
}

// NewLifecycleManager wires the manager. sink may be nil when no external
// transition stream is configured.
func NewLifecycleManager(
	log *applogger.Logger,
	metrics domrepo.Metrics,
	pool *StrategyPool,
	sink domrepo.TransitionSink,
	test *hypo.SPRT,
	cfg LifecycleConfig,
) *LifecycleManager {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 1024
	}
	if cfg.DecayWindow <= 0 {
		cfg.DecayWindow = 20
	}
	return &LifecycleManager{
		log:      log,
		metrics:  metrics,
		sink:     sink,
		test:     test,
		cfg:      cfg,
		pool:     pool,
		all:      make(map[string]*tracked),
		archived: make(map[string]*tracked),
		bySymbol: make(map[string]map[string]*tracked),
		families: make(map[string][]familyEntry),
		archIdx:  ttlcache.NewTTLCache(),
		events:   make(chan models.TransitionEvent, cfg.EventBuffer),
		done:     make(chan struct{}),
		ring:     make([]models.TransitionEvent, 0, cfg.EventBuffer),
	}
}

// Pool returns the ACTIVE set.
func (m *LifecycleManager) Pool() *StrategyPool { return m.pool }

// Start launches the event dispatch loop.
func (m *LifecycleManager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()
	go m.dispatch(ctx)
}

// Stop closes the event stream after in-flight emissions and waits for the
// dispatcher to drain. Call only after evaluation has stopped.
func (m *LifecycleManager) Stop() {
	m.mu.Lock()
	if m.closed || !m.running {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()
	close(m.events)
	<-m.done
}

func (m *LifecycleManager) dispatch(ctx context.Context) {
	defer close(m.done)
	for ev := range m.events {
		m.evMu.Lock()
		if len(m.ring) < cap(m.ring) {
			m.ring = append(m.ring, ev)
		} else {
			m.ring[m.ringPos] = ev
			m.ringPos = (m.ringPos + 1) % len(m.ring)
		}
		m.evMu.Unlock()

		m.subMu.RLock()
		for _, ch := range m.subscribers {
			select {
			case ch <- ev:
			default:
				m.eventDropped.Add(1)
				m.metrics.RecordError("transition_subscriber_full")
			}
		}
		m.subMu.RUnlock()

		if m.sink != nil {
			pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := m.sink.Publish(pubCtx, &ev); err != nil {
				m.metrics.RecordError("transition_sink")
				m.log.Error("publish transition", applogger.Error(err),
					applogger.String("hypothesis", ev.HypothesisID))
			}
			cancel()
		}
	}

	m.subMu.Lock()
	for _, ch := range m.subscribers {
		close(ch)
	}
	m.subscribers = nil
	m.subMu.Unlock()
}

// Subscribe registers a transition listener. Slow listeners lose events
// rather than stalling the engine.
func (m *LifecycleManager) Subscribe(buffer int) <-chan models.TransitionEvent {
	if buffer <= 0 {
		buffer = m.cfg.EventBuffer
	}
	ch := make(chan models.TransitionEvent, buffer)
	m.subMu.Lock()
	m.subscribers = append(m.subscribers, ch)
	m.subMu.Unlock()
	return ch
}

// emit queues one event for dispatch. Caller holds m.mu.
func (m *LifecycleManager) emit(ev models.TransitionEvent) {
	m.metrics.RecordTransition(string(ev.From), string(ev.To), ev.Reason)
	if m.closed {
		return
	}
	select {
	case m.events <- ev:
	default:
		m.eventDropped.Add(1)
		m.metrics.RecordError("transition_queue_full")
	}
}

// Admit inserts candidates after the authoritative duplicate scan. Returns
// how many were admitted and how many were suppressed. Insertion is
// serialized here so suppression always sees a consistent membership view.
func (m *LifecycleManager) Admit(cands []*models.Hypothesis, now time.Time) (admitted, suppressed int) {
	if len(cands) == 0 {
		return 0, 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range cands {
		fam := h.Family()
		if m.existsLocked(fam, h.Predicate.Threshold) {
			suppressed++
			m.duplicates.Add(1)
			m.metrics.RecordDuplicateSuppressed(h.Strategy)
			continue
		}
		h.Status = models.StatusCandidate
		h.CreatedAt = now
		h.StatusAt = now
		h.Stats.Recent = models.NewRecentWindow(m.cfg.DecayWindow)
		t := &tracked{h: h}
		m.all[h.ID] = t
		m.indexSymbolLocked(h.Symbol, h.ID, t)
		m.families[fam] = append(m.families[fam], familyEntry{id: h.ID, threshold: h.Predicate.Threshold})
		admitted++
		m.log.Debug("hypothesis admitted",
			applogger.String("id", h.ID),
			applogger.String("symbol", h.Symbol),
			applogger.String("predicate", h.Predicate.String()),
			applogger.String("strategy", h.Strategy),
		)
	}
	return admitted, suppressed
}

// existsLocked reports whether a structurally equivalent predicate is live,
// or archived inside the retention window. Caller holds m.mu.
func (m *LifecycleManager) existsLocked(family string, threshold float64) bool {
	eps := m.cfg.Epsilon
	for _, fe := range m.families[family] {
		if math.Abs(fe.threshold-threshold) <= eps {
			return true
		}
	}
	if eps > 0 {
		b := int64(math.Floor(threshold / eps))
		for _, bb := range [3]int64{b - 1, b, b + 1} {
			if v, ok := m.archIdx.Get(family + "#" + strconv.FormatInt(bb, 10)); ok {
				if tv, ok := v.(float64); ok && math.Abs(tv-threshold) <= eps {
					return true
				}
			}
		}
	}
	return false
}

// Lookup returns the live tracked hypothesis for id.
func (m *LifecycleManager) Lookup(id string) (*tracked, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.all[id]
	return t, ok
}

// LiveForSymbol returns the live hypotheses tracking a symbol.
func (m *LifecycleManager) LiveForSymbol(symbol string) []*tracked {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bySym := m.bySymbol[symbol]
	if len(bySym) == 0 {
		return nil
	}
	out := make([]*tracked, 0, len(bySym))
	for _, t := range bySym {
		out = append(out, t)
	}
	return out
}

// indexSymbolLocked adds one live hypothesis to the symbol index. Caller
// holds m.mu.
func (m *LifecycleManager) indexSymbolLocked(symbol, id string, t *tracked) {
	bySym, ok := m.bySymbol[symbol]
	if !ok {
		bySym = make(map[string]*tracked)
		m.bySymbol[symbol] = bySym
	}
	bySym[id] = t
}

// MarkTesting moves a CANDIDATE to TESTING when its first prediction arms.
func (m *LifecycleManager) MarkTesting(t *tracked, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.mu.Lock()
	isCandidate := t.h.Status == models.StatusCandidate
	t.mu.Unlock()
	if isCandidate {
		m.transitionLocked(t, models.StatusTesting, models.ReasonFirstEval, at)
	}
}

// OnUpdated runs the promotion policy after one statistics update. At most
// one transition applies to the updated hypothesis; a displacement may
// additionally retire the lowest ACTIVE entry it evicts.
func (m *LifecycleManager) OnUpdated(t *tracked, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t.mu.Lock()
	status := t.h.Status
	n := t.h.Stats.N
	mean := t.h.Stats.Mean
	llr := t.h.Stats.LLR
	recentFull := t.h.Stats.Recent.Full()
	recentHit := t.h.Stats.Recent.HitRate()
	score := t.h.Score()
	t.mu.Unlock()

	switch status {
	case models.StatusTesting:
		if n < m.cfg.MinSamples {
			return
		}
		switch m.test.Decide(llr) {
		case hypo.DecideEdge:
			if mean > m.cfg.MinEdge {
				m.transitionLocked(t, models.StatusValidated, models.ReasonEdge, at)
				return
			}
		case hypo.DecideNull:
			m.transitionLocked(t, models.StatusRejected, models.ReasonNoEdge, at)
			return
		}
		if m.cfg.MaxSamples > 0 && n >= m.cfg.MaxSamples {
			m.transitionLocked(t, models.StatusRejected, models.ReasonInconclusive, at)
		}

	case models.StatusValidated:
		m.tryPromoteLocked(t, score, at)

	case models.StatusActive:
		if recentFull && recentHit < m.cfg.DecayThreshold {
			m.transitionLocked(t, models.StatusRetired, models.ReasonDecay, at)
		}
	}
}

// tryPromoteLocked admits a VALIDATED hypothesis into the pool, displacing
// the lowest ACTIVE entry when the pool is full and the newcomer outranks
// it. Caller holds m.mu.
func (m *LifecycleManager) tryPromoteLocked(t *tracked, score float64, at time.Time) {
	if m.pool.Size() < m.cfg.PoolCapacity {
		m.transitionLocked(t, models.StatusActive, models.ReasonAdmitted, at)
		m.rejectRedundantLocked(t, score, at)
		return
	}
	lowest := m.pool.Lowest()
	if lowest == nil || lowest == t {
		return
	}
	lowest.mu.Lock()
	lowestScore := lowest.h.Score()
	lowest.mu.Unlock()
	if score <= lowestScore {
		return
	}
	m.transitionLocked(lowest, models.StatusRetired, models.ReasonDisplaced, at)
	m.transitionLocked(t, models.StatusActive, models.ReasonAdmitted, at)
	m.rejectRedundantLocked(t, score, at)
}

// rejectRedundantLocked rejects live TESTING/VALIDATED peers whose predicate
// sits within epsilon of a freshly promoted, better-scoring hypothesis.
// Caller holds m.mu.
func (m *LifecycleManager) rejectRedundantLocked(t *tracked, score float64, at time.Time) {
	t.mu.Lock()
	fam := t.h.Family()
	threshold := t.h.Predicate.Threshold
	selfID := t.h.ID
	t.mu.Unlock()

	for _, fe := range m.families[fam] {
		if fe.id == selfID || math.Abs(fe.threshold-threshold) > m.cfg.Epsilon {
			continue
		}
		peer, ok := m.all[fe.id]
		if !ok {
			continue
		}
		peer.mu.Lock()
		peerStatus := peer.h.Status
		peerScore := peer.h.Score()
		peer.mu.Unlock()
		if (peerStatus == models.StatusTesting || peerStatus == models.StatusValidated) && peerScore < score {
			m.transitionLocked(peer, models.StatusRejected, models.ReasonRedundant, at)
		}
	}
}

// transitionLocked applies one status change, maintains every index, and
// emits the event. Caller holds m.mu.
func (m *LifecycleManager) transitionLocked(t *tracked, to models.Status, reason string, at time.Time) {
	t.mu.Lock()
	from := t.h.Status
	if !models.CanTransition(from, to) {
		t.mu.Unlock()
		m.log.Error("illegal transition suppressed",
			applogger.String("id", t.h.ID),
			applogger.String("from", string(from)),
			applogger.String("to", string(to)),
		)
		m.metrics.RecordError("illegal_transition")
		return
	}
	t.h.Status = to
	t.h.StatusAt = at
	if to == models.StatusActive {
		t.h.PromotedAt = at
	}
	ev := models.TransitionEvent{
		HypothesisID: t.h.ID,
		Symbol:       t.h.Symbol,
		From:         from,
		To:           to,
		Reason:       reason,
		At:           at,
		N:            t.h.Stats.N,
		Mean:         t.h.Stats.Mean,
		HitRate:      t.h.Stats.HitRate(),
	}
	id := t.h.ID
	symbol := t.h.Symbol
	fam := t.h.Family()
	threshold := t.h.Predicate.Threshold
	t.mu.Unlock()

	switch to {
	case models.StatusActive:
		m.pool.Add(t)
		m.metrics.SetPoolSize(m.pool.Size())
	case models.StatusRetired, models.StatusRejected:
		if from == models.StatusActive {
			m.pool.Remove(id)
			m.metrics.SetPoolSize(m.pool.Size())
		}
		m.removeFamilyLocked(fam, id)
		delete(m.all, id)
		if bySym := m.bySymbol[symbol]; bySym != nil {
			delete(bySym, id)
			if len(bySym) == 0 {
				delete(m.bySymbol, symbol)
			}
		}
		m.archived[id] = t
		if m.cfg.Epsilon > 0 {
			b := int64(math.Floor(threshold / m.cfg.Epsilon))
			m.archIdx.Set(fam+"#"+strconv.FormatInt(b, 10), threshold, m.cfg.Retention)
		}
	}

	m.log.Info("hypothesis transition",
		applogger.String("id", id),
		applogger.String("from", string(from)),
		applogger.String("to", string(to)),
		applogger.String("reason", reason),
		applogger.Int64("n", ev.N),
	)
	m.emit(ev)
}

func (m *LifecycleManager) removeFamilyLocked(fam, id string) {
	entries := m.families[fam]
	for i, fe := range entries {
		if fe.id == id {
			entries[i] = entries[len(entries)-1]
			entries = entries[:len(entries)-1]
			break
		}
	}
	if len(entries) == 0 {
		delete(m.families, fam)
		return
	}
	m.families[fam] = entries
}

// BuildGenView assembles the consistent snapshot one generation cycle reads:
// latest vectors, mutation parents, and an Exists check over a copy of the
// live family index so strategies can probe it concurrently.
func (m *LifecycleManager) BuildGenView(now time.Time, latest map[string]*models.FeatureVector) *hypo.GenView {
	m.mu.RLock()
	parents := make([]*models.Hypothesis, 0, 16)
	for _, t := range m.all {
		t.mu.Lock()
		if t.h.Status == models.StatusValidated || t.h.Status == models.StatusActive {
			parents = append(parents, t.h.Clone())
		}
		t.mu.Unlock()
	}
	famCopy := make(map[string][]familyEntry, len(m.families))
	for fam, entries := range m.families {
		famCopy[fam] = append([]familyEntry(nil), entries...)
	}
	m.mu.RUnlock()

	eps := m.cfg.Epsilon
	archIdx := m.archIdx
	exists := func(family string, threshold float64) bool {
		for _, fe := range famCopy[family] {
			if math.Abs(fe.threshold-threshold) <= eps {
				return true
			}
		}
		if eps > 0 {
			b := int64(math.Floor(threshold / eps))
			for _, bb := range [3]int64{b - 1, b, b + 1} {
				if v, ok := archIdx.Get(family + "#" + strconv.FormatInt(bb, 10)); ok {
					if tv, ok := v.(float64); ok && math.Abs(tv-threshold) <= eps {
						return true
					}
				}
			}
		}
		return false
	}

	return &hypo.GenView{Now: now, Latest: latest, Parents: parents, Exists: exists}
}

// List returns copies of hypotheses matching the filters, newest first.
// Archived hypotheses are included until the retention sweep drops them.
func (m *LifecycleManager) List(status models.Status, symbol string, limit int) []models.Hypothesis {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Hypothesis, 0, limit)
	collect := func(src map[string]*tracked) {
		for _, t := range src {
			h := t.snapshot()
			if status != "" && h.Status != status {
				continue
			}
			if symbol != "" && h.Symbol != symbol {
				continue
			}
			out = append(out, h)
		}
	}
	collect(m.all)
	if status == "" || status.Terminal() {
		collect(m.archived)
	}
	sortHypothesesByCreated(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// GetByID returns a copy of one hypothesis, live or archived.
func (m *LifecycleManager) GetByID(id string) (models.Hypothesis, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t, ok := m.all[id]; ok {
		return t.snapshot(), true
	}
	if t, ok := m.archived[id]; ok {
		return t.snapshot(), true
	}
	return models.Hypothesis{}, false
}

// Counts returns the population per status.
func (m *LifecycleManager) Counts() map[models.Status]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[models.Status]int, 6)
	for _, t := range m.all {
		t.mu.Lock()
		counts[t.h.Status]++
		t.mu.Unlock()
	}
	for _, t := range m.archived {
		t.mu.Lock()
		counts[t.h.Status]++
		t.mu.Unlock()
	}
	return counts
}

// Duplicates returns how many candidates duplicate suppression discarded.
func (m *LifecycleManager) Duplicates() int64 { return m.duplicates.Load() }

// DroppedEvents returns how many transition events overflowed a consumer.
func (m *LifecycleManager) DroppedEvents() int64 { return m.eventDropped.Load() }

// RecentTransitions returns the newest buffered events, optionally filtered
// by hypothesis id.
func (m *LifecycleManager) RecentTransitions(hypothesisID string, limit int) []models.TransitionEvent {
	m.evMu.Lock()
	defer m.evMu.Unlock()
	out := make([]models.TransitionEvent, 0, limit)
	n := len(m.ring)
	for i := 0; i < n && len(out) < limit; i++ {
		ev := m.ring[((m.ringPos-1-i)%n+n)%n]
		if hypothesisID != "" && ev.HypothesisID != hypothesisID {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// SweepRetention drops archived hypotheses whose retention window closed and
// compacts the archive index. Returns how many were dropped.
func (m *LifecycleManager) SweepRetention(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	dropped := 0
	for id, t := range m.archived {
		t.mu.Lock()
		expired := now.Sub(t.h.StatusAt) > m.cfg.Retention
		t.mu.Unlock()
		if expired {
			delete(m.archived, id)
			dropped++
		}
	}
	m.archIdx.Cleanup()
	return dropped
}

// Restore reinserts snapshot state after a restart: non-terminal hypotheses
// rejoin the live set (ACTIVE ones rejoin the pool), terminal ones rejoin
// the archive with whatever retention remains.
func (m *LifecycleManager) Restore(hyps []*models.Hypothesis, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range hyps {
		if len(h.Stats.Recent.Wins) == 0 {
			h.Stats.Recent = models.NewRecentWindow(m.cfg.DecayWindow)
		}
		t := &tracked{h: h}
		if h.Status.Terminal() {
			if now.Sub(h.StatusAt) <= m.cfg.Retention {
				m.archived[h.ID] = t
				if m.cfg.Epsilon > 0 {
					b := int64(math.Floor(h.Predicate.Threshold / m.cfg.Epsilon))
					ttl := m.cfg.Retention - now.Sub(h.StatusAt)
					m.archIdx.Set(h.Family()+"#"+strconv.FormatInt(b, 10), h.Predicate.Threshold, ttl)
				}
			}
			continue
		}
		m.all[h.ID] = t
		m.indexSymbolLocked(h.Symbol, h.ID, t)
		m.families[h.Family()] = append(m.families[h.Family()], familyEntry{id: h.ID, threshold: h.Predicate.Threshold})
		if h.Status == models.StatusActive {
			m.pool.Add(t)
		}
	}
	m.metrics.SetPoolSize(m.pool.Size())
	m.log.Info("lifecycle state restored",
		applogger.Int("live", len(m.all)),
		applogger.Int("archived", len(m.archived)),
		applogger.Int("pool", m.pool.Size()),
	)
}

// LiveSnapshots returns copies of every live hypothesis for persistence.
func (m *LifecycleManager) LiveSnapshots() []*models.Hypothesis {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Hypothesis, 0, len(m.all))
	for _, t := range m.all {
		h := t.snapshot()
		out = append(out, &h)
	}
	return out
}

func sortHypothesesByCreated(hs []models.Hypothesis) {
	sort.Slice(hs, func(i, j int) bool {
		if !hs[i].CreatedAt.Equal(hs[j].CreatedAt) {
			return hs[i].CreatedAt.After(hs[j].CreatedAt)
		}
		return hs[i].ID < hs[j].ID
	})
}
