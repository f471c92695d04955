package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"EdgeLab/internal/domain/models"
	domrepo "EdgeLab/internal/domain/repository"
	mid "EdgeLab/internal/middleware"
	pkgkafka "EdgeLab/pkg/kafka"
)

// KafkaBarsHandler consumes closed bars from Kafka and feeds the pipeline.
// It is the intake path when the feed mode is "kafka".
type KafkaBarsHandler struct {
	topic   string
	next    mid.Proc
	metrics domrepo.Metrics
}

func NewKafkaBarsHandler(topic string, next mid.Proc, metrics domrepo.Metrics) *KafkaBarsHandler {
	return &KafkaBarsHandler{topic: topic, next: next, metrics: metrics}
}

func (h *KafkaBarsHandler) Topic() string { return h.topic }

// incoming message schema: {symbol, t, o, h, l, c, v}
func (h *KafkaBarsHandler) Handle(ctx context.Context, b []byte) error {
	var m struct {
		Symbol string  `json:"symbol"`
		T      int64   `json:"t"`
		O      float64 `json:"o"`
		H      float64 `json:"h"`
		L      float64 `json:"l"`
		C      float64 `json:"c"`
		V      float64 `json:"v"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return err
	}

	ts := time.Unix(m.T, 0)
	if m.T > 1e11 { // ms
		ts = time.UnixMilli(m.T)
	}
	h.metrics.RecordLatency("ingest_e2e", time.Since(ts).Seconds())

	o := &models.Observation{
		Symbol:    m.Symbol,
		Timestamp: ts.UTC(),
		Open:      m.O,
		High:      m.H,
		Low:       m.L,
		Close:     m.C,
		Volume:    m.V,
	}

	err := h.next.Process(ctx, o)
	if err == nil {
		return nil
	}
	// Replays and late deliveries are normal on a Kafka topic; retrying them
	// would only re-reject the same bar.
	if errors.Is(err, models.ErrDuplicateObservation) || errors.Is(err, models.ErrOutOfOrder) {
		return nil
	}
	h.metrics.RecordError("consumer_process")
	return err
}

var _ pkgkafka.MessageHandler = (*KafkaBarsHandler)(nil)
