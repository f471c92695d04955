package usecase

import (
	"context"
	"sync"
	"time"

	"EdgeLab/internal/domain/models"
	drepo "EdgeLab/internal/domain/repository"
	applogger "EdgeLab/pkg/logger"
)

// Archive backends.
const (
	BackendKafka      = "kafka"
	BackendClickHouse = "clickhouse"
	BackendNone       = "none"
)

// ObservationArchiver batches normalized bars and routes them to the
// configured archive backend. Enqueue never blocks the intake path; flushes
// happen on size or timer from a background goroutine. Archive failures are
// counted and logged but never propagate to the engine.
type ObservationArchiver struct {
	log     *applogger.Logger
	pub     drepo.BarPublisher
	store   drepo.ObservationStore
	metrics drepo.Metrics
	backend string
	batchSz int
	batchTO time.Duration

	mu     sync.Mutex
	buf    []*models.Observation
	kick   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// NewObservationArchiver creates a new ObservationArchiver instance.
func NewObservationArchiver(
	log *applogger.Logger,
	pub drepo.BarPublisher,
	store drepo.ObservationStore,
	metrics drepo.Metrics,
	backend string,
	batchSz int,
	batchTO time.Duration,
) *ObservationArchiver {
	if batchSz <= 0 {
		batchSz = 100
	}
	if batchTO <= 0 {
		batchTO = 5 * time.Second
	}
	return &ObservationArchiver{
		log:     log,
		pub:     pub,
		store:   store,
		metrics: metrics,
		backend: backend,
		batchSz: batchSz,
		batchTO: batchTO,
		buf:     make([]*models.Observation, 0, batchSz),
		kick:    make(chan struct{}, 1),
	}
}

// Start launches the background flush loop.
func (a *ObservationArchiver) Start(ctx context.Context) {
	if a.backend == BackendNone {
		return
	}
	ctx, a.cancel = context.WithCancel(ctx)
	a.done = make(chan struct{})
	go a.run(ctx)
}

// Stop flushes any buffered bars and stops the flush loop.
func (a *ObservationArchiver) Stop() {
	if a.cancel == nil {
		return
	}
	a.cancel()
	<-a.done
}

// Enqueue buffers a bar for the next flush. When the buffer overflows the
// oldest bars are dropped so a slow backend cannot stall intake.
func (a *ObservationArchiver) Enqueue(o *models.Observation) {
	if a.backend == BackendNone || o == nil {
		return
	}
	a.mu.Lock()
	a.buf = append(a.buf, o)
	n := len(a.buf)
	if max := a.batchSz * 8; n > max {
		a.buf = a.buf[n-max:]
		n = max
		a.metrics.RecordError("archive_overflow")
	}
	a.mu.Unlock()

	if n >= a.batchSz {
		select {
		case a.kick <- struct{}{}:
		default:
		}
	}
}

func (a *ObservationArchiver) run(ctx context.Context) {
	defer close(a.done)
	ticker := time.NewTicker(a.batchTO)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			a.flush(flushCtx)
			cancel()
			return
		case <-ticker.C:
			a.flush(ctx)
		case <-a.kick:
			a.flush(ctx)
		}
	}
}

func (a *ObservationArchiver) flush(ctx context.Context) {
	a.mu.Lock()
	if len(a.buf) == 0 {
		a.mu.Unlock()
		return
	}
	batch := a.buf
	a.buf = make([]*models.Observation, 0, a.batchSz)
	a.mu.Unlock()

	start := time.Now()
	var err error
	switch a.backend {
	case BackendKafka:
		err = a.pub.PublishBatch(ctx, batch)
	case BackendClickHouse:
		err = a.store.StoreBatch(ctx, batch)
	}
	if err != nil {
		a.metrics.RecordError("archive")
		a.log.Warn("archive flush failed",
			applogger.Int("bars", len(batch)),
			applogger.String("backend", a.backend),
			applogger.Error(err))
		return
	}
	a.metrics.RecordLatency("archive", time.Since(start).Seconds())
}

// Close closes underlying resources if available.
func (a *ObservationArchiver) Close() {
	if a.pub != nil {
		_ = a.pub.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}
