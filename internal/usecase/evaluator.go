package usecase

import (
	"hash/fnv"
	"math"
	"sync/atomic"
	"time"

	"EdgeLab/internal/domain/models"
	domrepo "EdgeLab/internal/domain/repository"
	hypo "EdgeLab/internal/services/hypothesis"
	applogger "EdgeLab/pkg/logger"
)

// EvaluatorConfig sizes the statistic update shards.
type EvaluatorConfig struct {
	Workers   int
	QueueSize int
}

type statUpdate struct {
	t       *tracked
	outcome float64
	win     bool
	at      time.Time
}

// Evaluator arms a pending evaluation whenever a live predicate fires and
// resolves pendings in due-timestamp order once their horizon elapses.
// Updates shard by hypothesis id across a fixed worker set: one hypothesis
// always lands on the same worker, so its statistics are written by exactly
// one goroutine and in dispatch order. Arming and resolution both happen on
// the engine's single intake goroutine.
type Evaluator struct {
	log      *applogger.Logger
	metrics  domrepo.Metrics
	mgr      *LifecycleManager
	test     *hypo.SPRT
	interval time.Duration

	pending      map[string]*hypo.PendingQueue
	pendingCount atomic.Int64

	workers []chan statUpdate
	stopped bool
	done    chan struct{}
}

// NewEvaluator wires the evaluator. interval is the wall-clock length of one
// bar; horizons in bars convert to due timestamps with it.
func NewEvaluator(
	log *applogger.Logger,
	metrics domrepo.Metrics,
	mgr *LifecycleManager,
	test *hypo.SPRT,
	interval time.Duration,
	cfg EvaluatorConfig,
) *Evaluator {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	e := &Evaluator{
		log:      log,
		metrics:  metrics,
		mgr:      mgr,
		test:     test,
		interval: interval,
		pending:  make(map[string]*hypo.PendingQueue),
		workers:  make([]chan statUpdate, cfg.Workers),
		done:     make(chan struct{}),
	}
	for i := range e.workers {
		e.workers[i] = make(chan statUpdate, cfg.QueueSize)
	}
	return e
}

// Start launches the update workers.
func (e *Evaluator) Start() {
	remaining := make(chan struct{}, len(e.workers))
	for _, ch := range e.workers {
		go func(ch chan statUpdate) {
			e.runWorker(ch)
			remaining <- struct{}{}
		}(ch)
	}
	go func() {
		for range e.workers {
			<-remaining
		}
		close(e.done)
	}()
}

// Stop closes the shards and waits until every queued update has been
// applied, so no hypothesis is left mid-update on shutdown.
func (e *Evaluator) Stop() {
	if e.stopped {
		return
	}
	e.stopped = true
	for _, ch := range e.workers {
		close(ch)
	}
	<-e.done
}

// PendingCount returns the number of armed, unresolved predictions.
func (e *Evaluator) PendingCount() int64 { return e.pendingCount.Load() }

// OnObservation resolves every due pending for the bar's symbol, then arms
// new predictions where live predicates fire on fv. fv is nil while the
// feature window warms up; resolution still proceeds because it needs only
// the close price.
func (e *Evaluator) OnObservation(o *models.Observation, fv *models.FeatureVector) {
	q := e.pending[o.Symbol]
	if q == nil {
		q = hypo.NewPendingQueue()
		e.pending[o.Symbol] = q
	}

	for _, p := range q.PopDue(o.Timestamp) {
		e.pendingCount.Add(-1)
		e.resolve(q, p, o)
	}

	if fv != nil {
		e.arm(q, o, fv)
	}

	e.metrics.SetPendingEvaluations(int(e.pendingCount.Load()))
}

// resolve scores one elapsed prediction and dispatches the statistic update
// to the hypothesis's shard.
func (e *Evaluator) resolve(q *hypo.PendingQueue, p *hypo.PendingEval, o *models.Observation) {
	if p.DueAt.After(o.Timestamp) {
		// PopDue makes this unreachable; check it anyway.
		e.metrics.RecordError("horizon_not_elapsed")
		e.log.Error("pending surfaced before its horizon",
			applogger.Error(models.ErrHorizonNotElapsed),
			applogger.String("hypothesis", p.HypothesisID),
		)
		q.Push(p)
		e.pendingCount.Add(1)
		return
	}
	t, ok := e.mgr.Lookup(p.HypothesisID)
	if !ok {
		// Reached a terminal status while this prediction was in flight.
		e.metrics.RecordError("stale_pending")
		return
	}
	if p.EntryPrice <= 0 || o.Close <= 0 {
		e.metrics.RecordError("resolve_price")
		return
	}
	outcome := float64(p.Direction) * math.Log(o.Close/p.EntryPrice)
	e.dispatch(statUpdate{t: t, outcome: outcome, win: outcome > 0, at: o.Timestamp})
}

// arm pushes a pending evaluation for every live hypothesis on the symbol
// whose predicate fires. A CANDIDATE moves to TESTING on its first arm.
func (e *Evaluator) arm(q *hypo.PendingQueue, o *models.Observation, fv *models.FeatureVector) {
	for _, t := range e.mgr.LiveForSymbol(o.Symbol) {
		t.mu.Lock()
		status := t.h.Status
		pred := t.h.Predicate
		pr := t.h.Prediction
		id := t.h.ID
		t.mu.Unlock()

		switch status {
		case models.StatusCandidate, models.StatusTesting, models.StatusValidated, models.StatusActive:
		default:
			continue
		}
		if !pred.Fires(fv) {
			continue
		}
		if status == models.StatusCandidate {
			e.mgr.MarkTesting(t, o.Timestamp)
		}
		q.Push(&hypo.PendingEval{
			HypothesisID: id,
			Symbol:       o.Symbol,
			Direction:    pr.Direction,
			EntryPrice:   o.Close,
			PredictedAt:  o.Timestamp,
			DueAt:        o.Timestamp.Add(time.Duration(pr.Horizon) * e.interval),
		})
		e.pendingCount.Add(1)
	}
}

// dispatch routes one update to its shard. The send blocks when the shard
// is saturated; intake slows instead of reordering or dropping updates.
func (e *Evaluator) dispatch(u statUpdate) {
	idx := shardOf(u.t.h.ID, len(e.workers))
	e.workers[idx] <- u
}

func (e *Evaluator) runWorker(ch chan statUpdate) {
	for u := range ch {
		start := time.Now()
		u.t.mu.Lock()
		hypo.UpdateOutcome(&u.t.h.Stats, u.outcome, u.win)
		u.t.h.Stats.LLR += e.test.Step(u.win)
		symbol := u.t.h.Symbol
		u.t.mu.Unlock()

		e.metrics.RecordEvaluation(symbol)
		e.mgr.OnUpdated(u.t, u.at)
		e.mgr.Pool().MarkDirty()
		e.metrics.RecordLatency("evaluate", time.Since(start).Seconds())
	}
}

// shardOf maps a hypothesis id onto a worker index.
func shardOf(id string, workers int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return int(h.Sum32() % uint32(workers))
}
