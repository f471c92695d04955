package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"EdgeLab/internal/domain/models"
	domrepo "EdgeLab/internal/domain/repository"
)

// Proc is the minimal downstream interface the pipeline needs.
type Proc interface {
	Process(ctx context.Context, o *models.Observation) error
}

// ObservationPipeline guards the engine intake. It validates bar structure,
// enforces strictly increasing per-symbol timestamps (rejecting duplicates
// and out-of-order bars instead of reordering them), surfaces feed gaps as
// an explicit signal, and buffers when downstream errors.
type ObservationPipeline struct {
	proc         Proc
	metrics      domrepo.Metrics
	gapTolerance time.Duration
	bufSize      int
	bufCh        chan *models.Observation
	stopCh       chan struct{}
	started      bool
	mu           sync.Mutex
	lastSeen     map[string]time.Time // per-symbol last accepted bar time
	transform    func(*models.Observation) *models.Observation
	onGap        func(symbol string, from, to time.Time)
}

type PipelineOption func(*ObservationPipeline)

// WithGapTolerance sets the largest inter-bar spacing treated as continuous.
// Zero disables gap detection.
func WithGapTolerance(d time.Duration) PipelineOption {
	return func(p *ObservationPipeline) {
		if d >= 0 {
			p.gapTolerance = d
		}
	}
}

// WithBufferSize sets the temporary buffer size when downstream is unavailable.
func WithBufferSize(n int) PipelineOption {
	return func(p *ObservationPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithTransform sets a normalization hook applied before ordering checks.
func WithTransform(fn func(*models.Observation) *models.Observation) PipelineOption {
	return func(p *ObservationPipeline) { p.transform = fn }
}

// WithGapHandler registers a callback invoked once per detected
// discontinuity, before the bar that revealed it is forwarded.
func WithGapHandler(fn func(symbol string, from, to time.Time)) PipelineOption {
	return func(p *ObservationPipeline) { p.onGap = fn }
}

// NewObservationPipeline creates a new pipeline in front of proc.
func NewObservationPipeline(proc Proc, metrics domrepo.Metrics, opts ...PipelineOption) *ObservationPipeline {
	p := &ObservationPipeline{
		proc:         proc,
		metrics:      metrics,
		gapTolerance: 0,
		bufSize:      1000,
		bufCh:        make(chan *models.Observation, 1000),
		stopCh:       make(chan struct{}),
		lastSeen:     make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.bufSize != cap(p.bufCh) {
		p.bufCh = make(chan *models.Observation, p.bufSize)
	}
	return p
}

// Start launches background flushing of buffered observations.
func (p *ObservationPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go func() {
		backoff := 50 * time.Millisecond
		for {
			select {
			case <-p.stopCh:
				return
			case o := <-p.bufCh:
				if o == nil {
					continue
				}
				if err := p.proc.Process(ctx, o); err != nil {
					if backoff < 2*time.Second {
						backoff *= 2
					}
					p.metrics.RecordError("pipeline_flush")
					time.Sleep(backoff)
					select {
					case p.bufCh <- o:
					default:
						p.metrics.RecordError("pipeline_buffer_drop")
					}
				} else {
					backoff = 50 * time.Millisecond
				}
			}
		}
	}()
}

// Stop stops the background flushing.
func (p *ObservationPipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()
	close(p.stopCh)
}

// Process validates and orders one bar, then forwards it downstream,
// buffering on downstream errors. Rejected bars return the sentinel that
// names why; a detected gap is signaled but never blocks the bar.
func (p *ObservationPipeline) Process(ctx context.Context, o *models.Observation) error {
	start := time.Now()
	if err := o.Validate(); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	if p.transform != nil {
		o = p.transform(o)
		if err := o.Validate(); err != nil {
			p.metrics.RecordError("pipeline_transform_invalid")
			return err
		}
	}

	p.mu.Lock()
	last := p.lastSeen[o.Symbol]
	if !last.IsZero() {
		if o.Timestamp.Equal(last) {
			p.mu.Unlock()
			p.metrics.RecordError("pipeline_duplicate")
			return fmt.Errorf("%s at %s: %w", o.Symbol, o.Timestamp.UTC().Format(time.RFC3339), models.ErrDuplicateObservation)
		}
		if o.Timestamp.Before(last) {
			p.mu.Unlock()
			p.metrics.RecordError("pipeline_out_of_order")
			return fmt.Errorf("%s at %s behind %s: %w", o.Symbol, o.Timestamp.UTC().Format(time.RFC3339), last.UTC().Format(time.RFC3339), models.ErrOutOfOrder)
		}
	}
	gapFrom, gapped := last, false
	if !last.IsZero() && p.gapTolerance > 0 && o.Timestamp.Sub(last) > p.gapTolerance {
		gapped = true
	}
	p.lastSeen[o.Symbol] = o.Timestamp
	p.mu.Unlock()

	if gapped {
		p.metrics.RecordFeedGap(o.Symbol)
		if p.onGap != nil {
			p.onGap(o.Symbol, gapFrom, o.Timestamp)
		}
	}

	if err := p.proc.Process(ctx, o); err != nil {
		p.metrics.RecordError("pipeline_process")
		select {
		case p.bufCh <- o:
		default:
			p.metrics.RecordError("pipeline_buffer_full")
		}
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
	return nil
}
