package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"EdgeLab/internal/domain/models"
	drepo "EdgeLab/internal/domain/repository"
	mid "EdgeLab/internal/middleware"
	"EdgeLab/internal/services/features"
	hypo "EdgeLab/internal/services/hypothesis"
	applogger "EdgeLab/pkg/logger"
)

// EngineConfig controls the cadence and budget of hypothesis generation.
type EngineConfig struct {
	GenerateEvery  int // bars between generation rounds
	GenerateBudget int // max candidates per round
}

// Engine is the single intake path of the hypothesis lifecycle. It consumes
// the observation feed through the ordering pipeline, maintains feature
// windows, resolves due evaluations, and triggers generation rounds on a
// fixed bar cadence.
type Engine struct {
	log       *applogger.Logger
	metrics   drepo.Metrics
	feed      drepo.ObservationFeed
	pipe      *mid.ObservationPipeline
	extractor *features.Extractor
	gen       *hypo.Generator
	eval      *Evaluator
	mgr       *LifecycleManager
	archiver  *ObservationArchiver
	cfg       EngineConfig

	// mu serializes Process and OnFeedGap. The pipeline flush goroutine can
	// re-deliver buffered bars concurrently with live intake.
	mu      sync.Mutex
	latest  map[string]*models.FeatureVector
	lastBar map[string]time.Time

	observations atomic.Int64
	stale        atomic.Int64
	admitted     atomic.Int64
	suppressed   atomic.Int64

	drainOnce sync.Once
	drained   chan struct{}
}

// NewEngine creates a new Engine instance.
func NewEngine(
	log *applogger.Logger,
	metrics drepo.Metrics,
	feed drepo.ObservationFeed,
	extractor *features.Extractor,
	gen *hypo.Generator,
	eval *Evaluator,
	mgr *LifecycleManager,
	archiver *ObservationArchiver,
	cfg EngineConfig,
) *Engine {
	if cfg.GenerateEvery <= 0 {
		cfg.GenerateEvery = 32
	}
	if cfg.GenerateBudget <= 0 {
		cfg.GenerateBudget = 64
	}
	return &Engine{
		log:       log,
		metrics:   metrics,
		feed:      feed,
		extractor: extractor,
		gen:       gen,
		eval:      eval,
		mgr:       mgr,
		archiver:  archiver,
		cfg:       cfg,
		latest:    make(map[string]*models.FeatureVector),
		lastBar:   make(map[string]time.Time),
		drained:   make(chan struct{}),
	}
}

// SetPipeline attaches the ordering pipeline in front of Process.
func (e *Engine) SetPipeline(p *mid.ObservationPipeline) { e.pipe = p }

// Pipeline returns the attached ordering pipeline, nil before SetPipeline.
// External intakes such as the Kafka handler submit through it.
func (e *Engine) Pipeline() *mid.ObservationPipeline { return e.pipe }

// IsConnected reports feed health; engines without a feed are always live.
func (e *Engine) IsConnected() bool {
	if e.feed == nil {
		return true
	}
	return e.feed.IsConnected()
}

// Observations returns the number of bars accepted into the engine.
func (e *Engine) Observations() int64 { return e.observations.Load() }

// StaleDropped returns the number of bars dropped by the replay guard.
func (e *Engine) StaleDropped() int64 { return e.stale.Load() }

// Admitted returns the number of candidates admitted across all rounds.
func (e *Engine) Admitted() int64 { return e.admitted.Load() }

// Suppressed returns the number of duplicate candidates suppressed.
func (e *Engine) Suppressed() int64 { return e.suppressed.Load() }

// Drained is closed when a finite feed exhausts its range.
func (e *Engine) Drained() <-chan struct{} { return e.drained }

// Start launches all background stages and, when a feed is attached,
// connects it and begins consuming. With a nil feed the engine is driven
// through the pipeline by an external intake such as the Kafka handler.
func (e *Engine) Start(ctx context.Context) error {
	e.mgr.Start(ctx)
	e.eval.Start()
	if e.archiver != nil {
		e.archiver.Start(ctx)
	}
	if e.pipe != nil {
		e.pipe.Start(ctx)
	}
	if e.feed == nil {
		return nil
	}
	if err := e.feed.Connect(ctx); err != nil {
		return fmt.Errorf("connect feed: %w", err)
	}
	if err := e.feed.Subscribe(ctx); err != nil {
		return fmt.Errorf("subscribe feed: %w", err)
	}
	obCh, errCh := e.feed.Read(ctx)
	go e.consume(ctx, obCh, errCh)
	return nil
}

func (e *Engine) consume(ctx context.Context, obCh <-chan *models.Observation, errCh <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errCh:
			if err != nil {
				e.metrics.RecordError("feed")
				e.log.Warn("feed error, reconnecting", applogger.Error(err))
				_ = e.feed.Reconnect(ctx)
			}
		case o, ok := <-obCh:
			if !ok {
				e.drainOnce.Do(func() { close(e.drained) })
				return
			}
			if o == nil {
				continue
			}
			if e.pipe != nil {
				_ = e.pipe.Process(ctx, o)
			} else {
				_ = e.Process(ctx, o)
			}
		}
	}
}

// Process handles one closed bar. It implements middleware.Proc and is the
// only writer of the feature windows and the generation cadence.
func (e *Engine) Process(ctx context.Context, o *models.Observation) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if last, ok := e.lastBar[o.Symbol]; ok && !o.Timestamp.After(last) {
		// Re-delivered out of the pipeline buffer after newer bars passed.
		e.stale.Add(1)
		return nil
	}
	e.lastBar[o.Symbol] = o.Timestamp

	e.metrics.RecordObservation(o.Symbol)
	e.observations.Add(1)

	if e.archiver != nil {
		e.archiver.Enqueue(o)
	}

	fv, err := e.extractor.Push(o)
	if err != nil && !errors.Is(err, models.ErrInsufficientData) {
		e.metrics.RecordError("extract")
		return fmt.Errorf("extract features: %w", err)
	}
	if fv != nil {
		e.latest[o.Symbol] = fv
		e.gen.Observe(fv)
	}

	e.eval.OnObservation(o, fv)

	if n := e.observations.Load(); n%int64(e.cfg.GenerateEvery) == 0 {
		e.generate(o.Timestamp)
	}
	e.mgr.Pool().RebuildIfDirty()
	return nil
}

// generate runs one budget-bounded generation round against the current
// feature state. Caller holds e.mu, so strategies see a stable view.
func (e *Engine) generate(now time.Time) {
	if len(e.latest) == 0 {
		return
	}
	start := time.Now()
	view := e.mgr.BuildGenView(now, e.latest)
	cands := e.gen.Generate(view, e.cfg.GenerateBudget)
	admitted, suppressed := e.mgr.Admit(cands, now)
	e.admitted.Add(int64(admitted))
	e.suppressed.Add(int64(suppressed))
	e.metrics.RecordLatency("generate", time.Since(start).Seconds())
	e.log.Debug("generation round",
		applogger.Int("proposed", len(cands)),
		applogger.Int("admitted", admitted),
		applogger.Int("suppressed", suppressed))
}

// OnFeedGap resets the affected symbol window after a feed discontinuity.
// Pending evaluations are left in place and resolve against later bars.
func (e *Engine) OnFeedGap(symbol string, from, to time.Time) {
	e.mu.Lock()
	e.extractor.Reset(symbol)
	delete(e.latest, symbol)
	e.mu.Unlock()
	e.log.Warn("feed gap, feature window reset",
		applogger.String("symbol", symbol),
		applogger.Duration("gap", to.Sub(from)))
}

// Stop closes the feed without draining downstream stages.
func (e *Engine) Stop() error {
	if e.feed == nil {
		return nil
	}
	return e.feed.Close()
}

// Shutdown stops intake first, then drains evaluation workers, the archive
// buffer and finally the transition dispatcher.
func (e *Engine) Shutdown(ctx context.Context) error {
	if e.pipe != nil {
		e.pipe.Stop()
	}
	var err error
	if e.feed != nil {
		err = e.feed.Close()
	}
	e.eval.Stop()
	if e.archiver != nil {
		e.archiver.Stop()
	}
	e.mgr.Stop()
	return err
}
