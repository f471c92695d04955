package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	observations *prometheus.CounterVec
	feedGaps     *prometheus.CounterVec
	evaluations  *prometheus.CounterVec
	transitions  *prometheus.CounterVec
	duplicates   *prometheus.CounterVec
	errorsTotal  *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	poolSize     prometheus.Gauge
	pendingEvals prometheus.Gauge
	atRisk       prometheus.Gauge
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		observations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edgelab_observations_total",
				Help: "Total number of bars accepted per symbol",
			},
			[]string{"symbol"},
		),
		feedGaps: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edgelab_feed_gaps_total",
				Help: "Total number of feed discontinuities per symbol",
			},
			[]string{"symbol"},
		),
		evaluations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edgelab_evaluations_total",
				Help: "Total number of resolved outcome evaluations per symbol",
			},
			[]string{"symbol"},
		),
		transitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edgelab_transitions_total",
				Help: "Total number of lifecycle transitions",
			},
			[]string{"from", "to", "reason"},
		),
		duplicates: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edgelab_duplicates_suppressed_total",
				Help: "Total number of duplicate candidates suppressed per strategy",
			},
			[]string{"strategy"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edgelab_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "edgelab_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		poolSize: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "edgelab_pool_size",
				Help: "Current number of active strategies in the pool",
			},
		),
		pendingEvals: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "edgelab_pending_evaluations",
				Help: "Predictions waiting for their horizon to elapse",
			},
		),
		atRisk: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "edgelab_persistence_at_risk",
				Help: "Set to 1 while hypothesis writes are failing",
			},
		),
	}
}

// RecordObservation counts one accepted bar for a symbol.
func (r *Recorder) RecordObservation(symbol string) {
	r.observations.WithLabelValues(symbol).Inc()
}

// RecordFeedGap counts one feed discontinuity for a symbol.
func (r *Recorder) RecordFeedGap(symbol string) {
	r.feedGaps.WithLabelValues(symbol).Inc()
}

// RecordEvaluation counts one resolved evaluation for a symbol.
func (r *Recorder) RecordEvaluation(symbol string) {
	r.evaluations.WithLabelValues(symbol).Inc()
}

// RecordTransition counts one lifecycle transition.
func (r *Recorder) RecordTransition(from, to, reason string) {
	r.transitions.WithLabelValues(from, to, reason).Inc()
}

// RecordDuplicateSuppressed counts one suppressed duplicate candidate.
func (r *Recorder) RecordDuplicateSuppressed(strategy string) {
	r.duplicates.WithLabelValues(strategy).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// SetPoolSize sets the current strategy pool size.
func (r *Recorder) SetPoolSize(n int) {
	r.poolSize.Set(float64(n))
}

// SetPendingEvaluations sets the current pending evaluation count.
func (r *Recorder) SetPendingEvaluations(n int) {
	r.pendingEvals.Set(float64(n))
}

// SetAtRisk flags whether hypothesis persistence is currently failing.
func (r *Recorder) SetAtRisk(atRisk bool) {
	if atRisk {
		r.atRisk.Set(1)
	} else {
		r.atRisk.Set(0)
	}
}
