package usecase

import (
	"context"
	"math"
	"testing"
	"time"

	"EdgeLab/internal/domain/models"
	drepo "EdgeLab/internal/domain/repository"
	"EdgeLab/internal/services/features"
	hypo "EdgeLab/internal/services/hypothesis"
)

func testEngine(t *testing.T, feed drepo.ObservationFeed, window int, ecfg EngineConfig, lcfg LifecycleConfig) (*Engine, *LifecycleManager) {
	t.Helper()
	log := testLogger(t)
	test := testSPRT(t)
	pool := NewStrategyPool(lcfg.PoolCapacity)
	mgr := NewLifecycleManager(log, nopMetrics{}, pool, nil, test, lcfg)
	eval := NewEvaluator(log, nopMetrics{}, mgr, test, time.Minute, EvaluatorConfig{Workers: 2, QueueSize: 512})
	gen := hypo.NewGenerator(log, 128, hypo.WithSeed(17), hypo.WithMaxHorizon(4))
	ext := features.NewExtractor(window)
	return NewEngine(log, nopMetrics{}, feed, ext, gen, eval, mgr, nil, ecfg), mgr
}

// trendBar yields a strictly rising close (every bar-to-bar ratio stays above
// 1.002), so upward predictions always win and downward ones always lose.
func trendBar(i int, symbol string) *models.Observation {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	cls := 100 * math.Pow(1.003, float64(i)) * (1 + 0.0004*math.Sin(float64(i)))
	return &models.Observation{
		Symbol:    symbol,
		Timestamp: base.Add(time.Duration(i) * time.Minute),
		Open:      cls * 0.999,
		High:      cls * 1.004,
		Low:       cls * 0.996,
		Close:     cls,
		Volume:    10 + float64(i%5),
	}
}

func TestEngineLifecycleEndToEnd(t *testing.T) {
	lcfg := defaultLifecycleConfig()
	lcfg.PoolCapacity = 8
	eng, mgr := testEngine(t, nil, 8, EngineConfig{GenerateEvery: 8, GenerateBudget: 48}, lcfg)

	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < 600; i++ {
		if err := eng.Process(ctx, trendBar(i, "BTCUSDT")); err != nil {
			t.Fatalf("bar %d: %v", i, err)
		}
	}
	if err := eng.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	if got := eng.Observations(); got != 600 {
		t.Fatalf("observations = %d, want 600", got)
	}
	if eng.Admitted() == 0 {
		t.Fatal("no candidates admitted over the run")
	}

	rank := mgr.Pool().Rank()
	if len(rank) == 0 {
		t.Fatal("pool is empty after a long monotone trend")
	}
	for i, e := range rank {
		if e.Hypothesis.Status != models.StatusActive {
			t.Errorf("pool member %s has status %s", e.Hypothesis.ID, e.Hypothesis.Status)
		}
		if e.Hypothesis.Prediction.Direction != models.DirUp {
			t.Errorf("pool member %s predicts %s in a rising market", e.Hypothesis.ID, e.Hypothesis.Prediction.Direction)
		}
		if e.Hypothesis.Stats.N < lcfg.MinSamples {
			t.Errorf("pool member %s promoted with %d samples", e.Hypothesis.ID, e.Hypothesis.Stats.N)
		}
		if i > 0 && e.Score > rank[i-1].Score {
			t.Errorf("rank not descending at %d: %v after %v", i, e.Score, rank[i-1].Score)
		}
	}

	if got := mgr.Counts()[models.StatusRejected]; got == 0 {
		t.Error("no rejections over a run where half the directions must lose")
	}
}

func TestEngineGenerationCadence(t *testing.T) {
	eng, _ := testEngine(t, nil, 4, EngineConfig{GenerateEvery: 16, GenerateBudget: 24}, defaultLifecycleConfig())
	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	for i := 0; i < 15; i++ {
		if err := eng.Process(ctx, trendBar(i, "BTCUSDT")); err != nil {
			t.Fatalf("bar %d: %v", i, err)
		}
	}
	if got := eng.Admitted() + eng.Suppressed(); got != 0 {
		t.Fatalf("generation ran before the cadence: %d candidates seen", got)
	}

	if err := eng.Process(ctx, trendBar(15, "BTCUSDT")); err != nil {
		t.Fatalf("bar 15: %v", err)
	}
	if got := eng.Admitted() + eng.Suppressed(); got == 0 {
		t.Fatal("no generation round on the cadence bar")
	}
	if err := eng.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestEngineDropsNonAdvancingBars(t *testing.T) {
	eng, _ := testEngine(t, nil, 4, EngineConfig{}, defaultLifecycleConfig())
	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	b0, b1 := trendBar(0, "BTCUSDT"), trendBar(1, "BTCUSDT")
	if err := eng.Process(ctx, b0); err != nil {
		t.Fatalf("first bar: %v", err)
	}
	if err := eng.Process(ctx, b1); err != nil {
		t.Fatalf("second bar: %v", err)
	}
	// Re-delivery of an already-seen timestamp and an older one both drop
	// silently.
	if err := eng.Process(ctx, b1); err != nil {
		t.Fatalf("duplicate bar: %v", err)
	}
	if err := eng.Process(ctx, b0); err != nil {
		t.Fatalf("older bar: %v", err)
	}

	if got := eng.Observations(); got != 2 {
		t.Errorf("observations = %d, want 2", got)
	}
	if got := eng.StaleDropped(); got != 2 {
		t.Errorf("stale dropped = %d, want 2", got)
	}
	if err := eng.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestEngineFeedGapResetsFeatureWindow(t *testing.T) {
	eng, _ := testEngine(t, nil, 4, EngineConfig{}, defaultLifecycleConfig())
	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	for i := 0; i < 4; i++ {
		if err := eng.Process(ctx, trendBar(i, "BTCUSDT")); err != nil {
			t.Fatalf("bar %d: %v", i, err)
		}
	}
	if !eng.extractor.Ready("BTCUSDT") {
		t.Fatal("window should be full before the gap")
	}

	eng.OnFeedGap("BTCUSDT", trendBar(3, "BTCUSDT").Timestamp, trendBar(10, "BTCUSDT").Timestamp)

	if eng.extractor.Ready("BTCUSDT") {
		t.Error("feature window survived the gap")
	}
	eng.mu.Lock()
	_, hasLatest := eng.latest["BTCUSDT"]
	eng.mu.Unlock()
	if hasLatest {
		t.Error("stale feature vector survived the gap")
	}

	// Bars after the gap re-warm from scratch.
	if err := eng.Process(ctx, trendBar(10, "BTCUSDT")); err != nil {
		t.Fatalf("post-gap bar: %v", err)
	}
	if eng.extractor.Ready("BTCUSDT") {
		t.Error("window refilled from a single post-gap bar")
	}
	if err := eng.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

type stubFeed struct {
	obs  chan *models.Observation
	errs chan error
}

func newStubFeed() *stubFeed {
	return &stubFeed{
		obs:  make(chan *models.Observation, 16),
		errs: make(chan error, 1),
	}
}

func (f *stubFeed) Connect(context.Context) error   { return nil }
func (f *stubFeed) Subscribe(context.Context) error { return nil }
func (f *stubFeed) Read(context.Context) (<-chan *models.Observation, <-chan error) {
	return f.obs, f.errs
}
func (f *stubFeed) Reconnect(context.Context) error { return nil }
func (f *stubFeed) Close() error                    { return nil }
func (f *stubFeed) IsConnected() bool               { return true }

func TestEngineDrainedOnFeedExhaustion(t *testing.T) {
	feed := newStubFeed()
	feed.obs <- trendBar(0, "BTCUSDT")
	close(feed.obs)

	eng, _ := testEngine(t, feed, 4, EngineConfig{}, defaultLifecycleConfig())
	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	select {
	case <-eng.Drained():
	case <-time.After(2 * time.Second):
		t.Fatal("engine never drained a closed feed")
	}
	if got := eng.Observations(); got != 1 {
		t.Errorf("observations = %d, want 1", got)
	}
	if !eng.IsConnected() {
		t.Error("stub feed should report connected")
	}
	if err := eng.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
