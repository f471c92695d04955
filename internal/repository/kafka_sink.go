package repository

import (
	"context"

	"EdgeLab/internal/domain/models"
	"EdgeLab/internal/domain/repository"
	pkgkafka "EdgeLab/pkg/kafka"
)

// KafkaTransitionSink implements TransitionSink for Kafka. Messages are
// keyed by hypothesis ID so each hypothesis keeps per-partition ordering.
type KafkaTransitionSink struct {
	producer *pkgkafka.Producer
	topic    string
}

// NewKafkaTransitionSink creates a transition sink on the given topic.
func NewKafkaTransitionSink(producer *pkgkafka.Producer, topic string) repository.TransitionSink {
	return &KafkaTransitionSink{producer: producer, topic: topic}
}

func (p *KafkaTransitionSink) Publish(ctx context.Context, ev *models.TransitionEvent) error {
	return p.producer.Publish(ctx, p.topic, []byte(ev.HypothesisID), map[string]interface{}{
		"hypothesis_id": ev.HypothesisID,
		"symbol":        ev.Symbol,
		"from":          string(ev.From),
		"to":            string(ev.To),
		"reason":        ev.Reason,
		"at":            ev.At.UnixMilli(),
		"n":             ev.N,
		"mean":          ev.Mean,
		"hit_rate":      ev.HitRate,
	})
}

func (p *KafkaTransitionSink) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// KafkaBarPublisher implements BarPublisher for Kafka. The payload matches
// the bars intake schema, so one instance's archive can feed another's
// consumer.
type KafkaBarPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

// NewKafkaBarPublisher creates a bar publisher on the given topic.
func NewKafkaBarPublisher(producer *pkgkafka.Producer, topic string) repository.BarPublisher {
	return &KafkaBarPublisher{producer: producer, topic: topic}
}

func barPayload(o *models.Observation) map[string]interface{} {
	return map[string]interface{}{
		"symbol": o.Symbol,
		"t":      o.Timestamp.UnixMilli(),
		"o":      o.Open,
		"h":      o.High,
		"l":      o.Low,
		"c":      o.Close,
		"v":      o.Volume,
	}
}

func (p *KafkaBarPublisher) Publish(ctx context.Context, o *models.Observation) error {
	return p.producer.Publish(ctx, p.topic, []byte(o.Symbol), barPayload(o))
}

func (p *KafkaBarPublisher) PublishBatch(ctx context.Context, obs []*models.Observation) error {
	if len(obs) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(obs))
	for i, o := range obs {
		msgs[i] = pkgkafka.Message{
			Key:   []byte(o.Symbol),
			Value: barPayload(o),
		}
	}
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}

func (p *KafkaBarPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
