// Package kafka wraps segmentio/kafka-go with the publish and consume
// patterns the engine uses: JSON-encoding producers with per-key ordering,
// and a consumer group with a worker pool, bounded retries and a DLQ.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// ProducerOption adjusts producer settings.
type ProducerOption func(*producerConfig)

type producerConfig struct {
	brokers      []string
	requiredAcks int
	compression  string
	maxAttempts  int
	writeTimeout time.Duration
	readTimeout  time.Duration
	batchSize    int
	batchBytes   int
	batchTimeout time.Duration
	async        bool
	hashByKey    bool
}

// WithBrokers sets the broker addresses. Required.
func WithBrokers(brokers []string) ProducerOption {
	return func(c *producerConfig) { c.brokers = brokers }
}

// WithCompression selects the codec: gzip, snappy, lz4 or zstd.
func WithCompression(codec string) ProducerOption {
	return func(c *producerConfig) { c.compression = codec }
}

// WithRequiredAcks sets the acknowledgement level (-1 waits for all
// replicas).
func WithRequiredAcks(acks int) ProducerOption {
	return func(c *producerConfig) { c.requiredAcks = acks }
}

// WithMaxAttempts bounds writer retries.
func WithMaxAttempts(n int) ProducerOption {
	return func(c *producerConfig) { c.maxAttempts = n }
}

// WithBatchSize sets messages per batch.
func WithBatchSize(n int) ProducerOption {
	return func(c *producerConfig) { c.batchSize = n }
}

// WithBatchBytes caps batch payload bytes.
func WithBatchBytes(n int) ProducerOption {
	return func(c *producerConfig) { c.batchBytes = n }
}

// WithBatchTimeout sets how long an unfilled batch may wait.
func WithBatchTimeout(d time.Duration) ProducerOption {
	return func(c *producerConfig) { c.batchTimeout = d }
}

// WithTimeouts sets writer write and read timeouts.
func WithTimeouts(write, read time.Duration) ProducerOption {
	return func(c *producerConfig) {
		c.writeTimeout = write
		c.readTimeout = read
	}
}

// WithAsync enables fire-and-forget writes.
func WithAsync(async bool) ProducerOption {
	return func(c *producerConfig) { c.async = async }
}

// WithHashByKey routes messages by key hash so one key stays on one
// partition. Required for per-symbol ordering.
func WithHashByKey(hash bool) ProducerOption {
	return func(c *producerConfig) { c.hashByKey = hash }
}

// Message is one batch element for PublishBatch.
type Message struct {
	Key   []byte
	Value interface{}
}

// Producer publishes JSON-encoded messages through a shared writer.
type Producer struct {
	w    *kafka.Writer
	comp string
}

func NewProducer(opts ...ProducerOption) (*Producer, error) {
	cfg := &producerConfig{
		requiredAcks: -1,
		compression:  "gzip",
		maxAttempts:  3,
		writeTimeout: 10 * time.Second,
		readTimeout:  10 * time.Second,
		batchSize:    100,
		batchBytes:   1 << 20,
		batchTimeout: time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.brokers) == 0 {
		return nil, fmt.Errorf("kafka: brokers not set")
	}

	var balancer kafka.Balancer = &kafka.LeastBytes{}
	if cfg.hashByKey {
		balancer = &kafka.Hash{}
	}

	registerMetrics()
	return &Producer{
		comp: cfg.compression,
		w: &kafka.Writer{
			Addr:         kafka.TCP(cfg.brokers...),
			Balancer:     balancer,
			RequiredAcks: kafka.RequiredAcks(cfg.requiredAcks),
			Compression:  compressionCodec(cfg.compression),
			MaxAttempts:  cfg.maxAttempts,
			WriteTimeout: cfg.writeTimeout,
			ReadTimeout:  cfg.readTimeout,
			BatchSize:    cfg.batchSize,
			BatchBytes:   int64(cfg.batchBytes),
			BatchTimeout: cfg.batchTimeout,
			Async:        cfg.async,
		},
	}, nil
}

// Publish sends one message. []byte and string values pass through
// unchanged, anything else is JSON-encoded.
func (p *Producer) Publish(ctx context.Context, topic string, key []byte, value interface{}) error {
	raw, err := encodeValue(value)
	if err != nil {
		return err
	}

	start := time.Now()
	err = p.w.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: raw,
		Time:  start,
	})
	observePublish(topic, p.comp, int64(len(raw)), 1, time.Since(start), err)
	return err
}

// PublishBatch sends messages in one writer call.
func (p *Producer) PublishBatch(ctx context.Context, topic string, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}

	now := time.Now()
	msgs := make([]kafka.Message, 0, len(messages))
	var total int64
	for _, m := range messages {
		raw, err := encodeValue(m.Value)
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{Topic: topic, Key: m.Key, Value: raw, Time: now})
		total += int64(len(raw))
	}

	err := p.w.WriteMessages(ctx, msgs...)
	observePublish(topic, p.comp, total, len(messages), time.Since(now), err)
	return err
}

// Close flushes and closes the writer.
func (p *Producer) Close() error {
	return p.w.Close()
}

func encodeValue(v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case []byte:
		return val, nil
	case string:
		return []byte(val), nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("kafka: encode value: %w", err)
		}
		return raw, nil
	}
}

func compressionCodec(name string) kafka.Compression {
	switch name {
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Gzip
	}
}
