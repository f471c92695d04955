package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	GeneratorProposed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgelab",
			Subsystem: "generator",
			Name:      "proposed_total",
			Help:      "Candidates proposed per generation strategy",
		},
		[]string{"strategy"},
	)

	GeneratorLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "edgelab",
			Subsystem: "generator",
			Name:      "latency_seconds",
			Help:      "Per-strategy proposal latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"strategy"},
	)
)

func Register() {
	once.Do(func() {
		prometheus.MustRegister(GeneratorProposed, GeneratorLatency)
	})
}
