package kafka

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	producerMessages *prometheus.CounterVec
	producerErrors   *prometheus.CounterVec
	producerBytes    *prometheus.CounterVec
	producerLatency  *prometheus.HistogramVec

	consumerQueueDepth    *prometheus.GaugeVec
	consumerQueueFullness *prometheus.GaugeVec
	consumerHandleLatency *prometheus.HistogramVec

	metricsOnce sync.Once
)

// registerMetrics creates the package collectors on first use. Producer and
// consumer share the registration so either entry point suffices.
func registerMetrics() {
	metricsOnce.Do(func() {
		producerMessages = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edgelab_kafka_producer_messages_total",
				Help: "Messages published, by topic, compression and result.",
			},
			[]string{"topic", "compression", "result"},
		)
		producerErrors = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edgelab_kafka_producer_errors_total",
				Help: "Publish failures by topic.",
			},
			[]string{"topic"},
		)
		producerBytes = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edgelab_kafka_producer_bytes_total",
				Help: "Payload bytes published.",
			},
			[]string{"topic", "compression"},
		)
		producerLatency = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "edgelab_kafka_producer_publish_seconds",
				Help:    "Publish latency.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"topic"},
		)

		consumerQueueDepth = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "edgelab_kafka_consumer_queue_depth",
				Help: "Messages waiting for a worker.",
			},
			[]string{"topic"},
		)
		consumerQueueFullness = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "edgelab_kafka_consumer_queue_fullness",
				Help: "Worker queue utilization (len/cap).",
			},
			[]string{"topic"},
		)
		consumerHandleLatency = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "edgelab_kafka_consumer_handle_seconds",
				Help: "Handler time per message.",
			},
			[]string{"topic"},
		)
	})
}

func observePublish(topic, comp string, bytes int64, count int, elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
		producerErrors.WithLabelValues(topic).Inc()
	}
	producerMessages.WithLabelValues(topic, comp, result).Add(float64(count))
	producerBytes.WithLabelValues(topic, comp).Add(float64(bytes))
	producerLatency.WithLabelValues(topic).Observe(elapsed.Seconds())
}
