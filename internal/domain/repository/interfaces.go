package repository

import (
	"context"
	"time"

	"EdgeLab/internal/domain/models"
)

// ObservationFeed is a time-ordered source of closed bars. Live adapters
// stream until Close; backfill adapters close the observation channel when
// the requested range is exhausted.
type ObservationFeed interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.Observation, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// TransitionSink receives every lifecycle transition for downstream
// execution and alerting layers.
type TransitionSink interface {
	Publish(ctx context.Context, ev *models.TransitionEvent) error
	Close() error
}

// BarPublisher forwards normalized bars to an external stream backend.
type BarPublisher interface {
	Publish(ctx context.Context, o *models.Observation) error
	PublishBatch(ctx context.Context, obs []*models.Observation) error
	Close() error
}

// HypothesisStore persists the append-only transition log and periodic
// statistics snapshots. Snapshots are sufficient to rebuild pool state after
// a restart without replaying observations.
type HypothesisStore interface {
	Init(ctx context.Context) error // ensure tables, health checks
	AppendTransition(ctx context.Context, ev *models.TransitionEvent) error
	SaveSnapshots(ctx context.Context, hyps []*models.Hypothesis) error
	LoadSnapshots(ctx context.Context) ([]*models.Hypothesis, error) // latest snapshot per hypothesis
	Transitions(ctx context.Context, hypothesisID string, limit int) ([]*models.TransitionEvent, error)
	Health(ctx context.Context) error
	Close() error
}

// ObservationStore archives the normalized bar stream.
type ObservationStore interface {
	Init(ctx context.Context) error
	StoreBatch(ctx context.Context, obs []*models.Observation) error
	Query(ctx context.Context, symbol string, from, to time.Time, limit int) ([]*models.Observation, error)
	Health(ctx context.Context) error
	Close() error
}

// Metrics is the domain-facing metrics surface. Implementations must be
// safe for concurrent use.
type Metrics interface {
	RecordObservation(symbol string)
	RecordFeedGap(symbol string)
	RecordEvaluation(symbol string)
	RecordTransition(from, to, reason string)
	RecordDuplicateSuppressed(strategy string)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
	SetPoolSize(n int)
	SetPendingEvaluations(n int)
	SetAtRisk(atRisk bool)
}
