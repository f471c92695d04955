package usecase

import (
	"context"
	"fmt"
	"time"

	"EdgeLab/internal/domain/models"
	drepo "EdgeLab/internal/domain/repository"
	applogger "EdgeLab/pkg/logger"
	"EdgeLab/pkg/queue"
)

// TransitionTypeAppend is the queue job type for replaying failed appends.
const TransitionTypeAppend = "transition_append"

// Snapshotter drives durability: it appends every transition to the
// hypothesis store as it happens and writes periodic statistics snapshots.
// A failed append flips the at-risk gauge and hands the event to the Redis
// retry queue; the gauge clears once writes succeed again.
type Snapshotter struct {
	log     *applogger.Logger
	metrics drepo.Metrics
	store   drepo.HypothesisStore
	mgr     *LifecycleManager
	retry   *queue.RedisQueue

	done chan struct{}
}

// NewSnapshotter creates a new Snapshotter instance. The retry queue is
// optional; without it failed appends are only logged.
func NewSnapshotter(
	log *applogger.Logger,
	metrics drepo.Metrics,
	store drepo.HypothesisStore,
	mgr *LifecycleManager,
	retry *queue.RedisQueue,
) *Snapshotter {
	return &Snapshotter{
		log:     log,
		metrics: metrics,
		store:   store,
		mgr:     mgr,
		retry:   retry,
		done:    make(chan struct{}),
	}
}

// Start subscribes to the transition stream and launches the append loop.
func (s *Snapshotter) Start(ctx context.Context) {
	events := s.mgr.Subscribe(0)
	go s.run(ctx, events)
}

func (s *Snapshotter) run(ctx context.Context, events <-chan models.TransitionEvent) {
	defer close(s.done)
	for ev := range events {
		s.append(ctx, ev)
	}
}

func (s *Snapshotter) append(ctx context.Context, ev models.TransitionEvent) {
	appendCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err := s.store.AppendTransition(appendCtx, &ev)
	cancel()
	if err == nil {
		s.metrics.SetAtRisk(false)
		return
	}

	s.metrics.RecordError("transition_append")
	s.metrics.SetAtRisk(true)
	s.log.Error("append transition failed",
		applogger.String("hypothesis", ev.HypothesisID),
		applogger.String("to", string(ev.To)),
		applogger.Error(err))

	if s.retry == nil {
		return
	}
	if err := s.retry.Enqueue(ctx, TransitionTypeAppend, ev); err != nil {
		s.metrics.RecordError("transition_retry_enqueue")
		s.log.Error("enqueue transition retry", applogger.Error(err))
	}
}

// SnapshotNow persists statistics snapshots for every live hypothesis.
func (s *Snapshotter) SnapshotNow(ctx context.Context) error {
	hyps := s.mgr.LiveSnapshots()
	start := time.Now()
	if err := s.store.SaveSnapshots(ctx, hyps); err != nil {
		s.metrics.RecordError("snapshot")
		s.metrics.SetAtRisk(true)
		return fmt.Errorf("save snapshots: %w", err)
	}
	s.metrics.SetAtRisk(false)
	s.metrics.RecordLatency("snapshot", time.Since(start).Seconds())
	s.log.Info("snapshot saved", applogger.Int("hypotheses", len(hyps)))
	return nil
}

// Restore rebuilds lifecycle state from the latest persisted snapshots.
// Call before the engine starts consuming.
func (s *Snapshotter) Restore(ctx context.Context) error {
	hyps, err := s.store.LoadSnapshots(ctx)
	if err != nil {
		return fmt.Errorf("load snapshots: %w", err)
	}
	s.mgr.Restore(hyps, time.Now())
	return nil
}

// Wait blocks until the append loop has drained or ctx expires. The loop
// exits when the lifecycle manager closes its subscriber channels.
func (s *Snapshotter) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return nil
	}
}

// TransitionReplayJob re-applies transition appends that failed their first
// write. The Redis queue drives retry pacing and dead-lettering.
type TransitionReplayJob struct {
	log     *applogger.Logger
	metrics drepo.Metrics
	store   drepo.HypothesisStore
}

// NewTransitionReplayJob creates the queue job for failed appends.
func NewTransitionReplayJob(log *applogger.Logger, metrics drepo.Metrics, store drepo.HypothesisStore) *TransitionReplayJob {
	return &TransitionReplayJob{log: log, metrics: metrics, store: store}
}

func (j *TransitionReplayJob) Name() string { return "transition-replay" }
func (j *TransitionReplayJob) Type() string { return TransitionTypeAppend }

func (j *TransitionReplayJob) Handle(ctx context.Context, payload interface{}) error {
	ev, err := queue.ParsePayload[models.TransitionEvent](payload)
	if err != nil {
		return fmt.Errorf("parse transition payload: %w", err)
	}
	if err := j.store.AppendTransition(ctx, ev); err != nil {
		return fmt.Errorf("append transition: %w", err)
	}
	j.metrics.SetAtRisk(false)
	j.log.Info("transition replayed", applogger.String("hypothesis", ev.HypothesisID))
	return nil
}
