package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"EdgeLab/internal/domain/models"
)

type pipeMetrics struct{}

func (pipeMetrics) RecordObservation(string)         {}
func (pipeMetrics) RecordFeedGap(string)             {}
func (pipeMetrics) RecordEvaluation(string)          {}
func (pipeMetrics) RecordTransition(_, _, _ string)  {}
func (pipeMetrics) RecordDuplicateSuppressed(string) {}
func (pipeMetrics) RecordError(string)               {}
func (pipeMetrics) RecordLatency(string, float64)    {}
func (pipeMetrics) SetPoolSize(int)                  {}
func (pipeMetrics) SetPendingEvaluations(int)        {}
func (pipeMetrics) SetAtRisk(bool)                   {}

type recordingProc struct {
	mu   sync.Mutex
	got  []*models.Observation
	fail bool
}

func (r *recordingProc) Process(_ context.Context, o *models.Observation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("downstream unavailable")
	}
	r.got = append(r.got, o)
	return nil
}

func (r *recordingProc) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func (r *recordingProc) setFail(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = v
}

func pipeBar(i int, symbol string) *models.Observation {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	return &models.Observation{
		Symbol:    symbol,
		Timestamp: base.Add(time.Duration(i) * time.Minute),
		Open:      100,
		High:      101,
		Low:       99,
		Close:     100.5,
		Volume:    1,
	}
}

func TestPipelineRejectsInvalidBars(t *testing.T) {
	proc := &recordingProc{}
	p := NewObservationPipeline(proc, pipeMetrics{})

	bad := pipeBar(0, "BTCUSDT")
	bad.Close = -1
	if err := p.Process(context.Background(), bad); err == nil {
		t.Fatal("invalid bar accepted")
	}
	if proc.count() != 0 {
		t.Fatalf("invalid bar reached downstream: %d", proc.count())
	}
}

func TestPipelineEnforcesPerSymbolOrder(t *testing.T) {
	proc := &recordingProc{}
	p := NewObservationPipeline(proc, pipeMetrics{})
	ctx := context.Background()

	if err := p.Process(ctx, pipeBar(0, "BTCUSDT")); err != nil {
		t.Fatalf("first bar: %v", err)
	}
	if err := p.Process(ctx, pipeBar(1, "BTCUSDT")); err != nil {
		t.Fatalf("second bar: %v", err)
	}

	err := p.Process(ctx, pipeBar(1, "BTCUSDT"))
	if !errors.Is(err, models.ErrDuplicateObservation) {
		t.Fatalf("duplicate bar: %v", err)
	}
	err = p.Process(ctx, pipeBar(0, "BTCUSDT"))
	if !errors.Is(err, models.ErrOutOfOrder) {
		t.Fatalf("regressing bar: %v", err)
	}

	// Each symbol keeps its own clock.
	if err := p.Process(ctx, pipeBar(0, "ETHUSDT")); err != nil {
		t.Fatalf("other symbol: %v", err)
	}
	if proc.count() != 3 {
		t.Fatalf("forwarded = %d, want 3", proc.count())
	}
}

func TestPipelineSignalsGaps(t *testing.T) {
	type gap struct {
		symbol   string
		from, to time.Time
	}
	var gaps []gap
	proc := &recordingProc{}
	p := NewObservationPipeline(proc, pipeMetrics{},
		WithGapTolerance(2*time.Minute),
		WithGapHandler(func(symbol string, from, to time.Time) {
			gaps = append(gaps, gap{symbol, from, to})
		}),
	)
	ctx := context.Background()

	if err := p.Process(ctx, pipeBar(0, "BTCUSDT")); err != nil {
		t.Fatalf("bar 0: %v", err)
	}
	if err := p.Process(ctx, pipeBar(1, "BTCUSDT")); err != nil {
		t.Fatalf("bar 1: %v", err)
	}
	if len(gaps) != 0 {
		t.Fatalf("gap signaled on continuous bars: %+v", gaps)
	}

	// Nine minutes of silence against a two minute tolerance.
	if err := p.Process(ctx, pipeBar(10, "BTCUSDT")); err != nil {
		t.Fatalf("bar 10: %v", err)
	}
	if len(gaps) != 1 {
		t.Fatalf("gaps = %d, want 1", len(gaps))
	}
	if gaps[0].symbol != "BTCUSDT" ||
		!gaps[0].from.Equal(pipeBar(1, "BTCUSDT").Timestamp) ||
		!gaps[0].to.Equal(pipeBar(10, "BTCUSDT").Timestamp) {
		t.Fatalf("gap = %+v", gaps[0])
	}
	// The bar that revealed the gap is still forwarded.
	if proc.count() != 3 {
		t.Fatalf("forwarded = %d, want 3", proc.count())
	}
}

func TestPipelineBuffersAndReplaysOnDownstreamError(t *testing.T) {
	proc := &recordingProc{}
	proc.setFail(true)
	p := NewObservationPipeline(proc, pipeMetrics{}, WithBufferSize(8))
	ctx := context.Background()
	p.Start(ctx)
	defer p.Stop()

	if err := p.Process(ctx, pipeBar(0, "BTCUSDT")); err == nil {
		t.Fatal("downstream failure not surfaced")
	}
	proc.setFail(false)

	deadline := time.Now().Add(5 * time.Second)
	for proc.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("buffered bar never replayed")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if proc.count() != 1 {
		t.Fatalf("replayed = %d, want 1", proc.count())
	}
}

func TestPipelineProcessSafeAfterStop(t *testing.T) {
	proc := &recordingProc{}
	p := NewObservationPipeline(proc, pipeMetrics{})
	p.Start(context.Background())
	p.Stop()

	if err := p.Process(context.Background(), pipeBar(0, "BTCUSDT")); err != nil {
		t.Fatalf("process after stop: %v", err)
	}
	if proc.count() != 1 {
		t.Fatalf("forwarded = %d, want 1", proc.count())
	}
}
