package kafka

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	applogger "EdgeLab/pkg/logger"

	"github.com/segmentio/kafka-go"
)

// readPollTimeout bounds each ReadMessage call so shutdown is noticed
// promptly.
const readPollTimeout = 3 * time.Second

// MessageHandler consumes raw payloads from one topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

// ConsumerOption adjusts consumer settings.
type ConsumerOption func(*consumerConfig)

type consumerConfig struct {
	brokers    []string
	groupID    string
	workers    int
	bufferSize int
	retryMax   int
	backoffMin time.Duration
	backoffMax time.Duration
	dlqTopic   string
	minBytes   int
	maxBytes   int
	log        *applogger.Logger
}

// WithConsumerBrokers sets the broker addresses. Required.
func WithConsumerBrokers(brokers []string) ConsumerOption {
	return func(c *consumerConfig) { c.brokers = brokers }
}

// WithConsumerGroupID names the consumer group.
func WithConsumerGroupID(id string) ConsumerOption {
	return func(c *consumerConfig) { c.groupID = id }
}

// WithConsumerWorkers sets the handler goroutine count.
func WithConsumerWorkers(n int) ConsumerOption {
	return func(c *consumerConfig) { c.workers = n }
}

// WithConsumerBufferSize sets the queue between readers and workers.
func WithConsumerBufferSize(n int) ConsumerOption {
	return func(c *consumerConfig) {
		if n > 0 {
			c.bufferSize = n
		}
	}
}

// WithConsumerRetry configures handler retries and the backoff range.
func WithConsumerRetry(max int, backoffMin, backoffMax time.Duration) ConsumerOption {
	return func(c *consumerConfig) {
		c.retryMax = max
		c.backoffMin = backoffMin
		c.backoffMax = backoffMax
	}
}

// WithConsumerDLQ names the dead-letter topic. Empty disables the DLQ.
func WithConsumerDLQ(topic string) ConsumerOption {
	return func(c *consumerConfig) { c.dlqTopic = topic }
}

// WithConsumerFetch sets fetch min and max bytes.
func WithConsumerFetch(minBytes, maxBytes int) ConsumerOption {
	return func(c *consumerConfig) {
		c.minBytes = minBytes
		c.maxBytes = maxBytes
	}
}

// WithConsumerLogger wires the structured logger.
func WithConsumerLogger(l *applogger.Logger) ConsumerOption {
	return func(c *consumerConfig) {
		if l != nil {
			c.log = l
		}
	}
}

type partitionKey struct {
	topic     string
	partition int
}

type inbound struct {
	topic string
	msg   kafka.Message
}

// Consumer reads registered topics through a shared worker pool. Messages on
// the same partition are handled strictly one at a time; failed messages are
// retried with jittered backoff and land on the DLQ when configured.
type Consumer struct {
	cfg *consumerConfig
	log *applogger.Logger

	handlers map[string]MessageHandler
	readers  map[string]*kafka.Reader
	dlq      *kafka.Writer

	queue    chan *inbound
	quit     chan struct{}
	readerWG sync.WaitGroup
	workerWG sync.WaitGroup
	stopOnce sync.Once

	mu    sync.Mutex
	locks map[partitionKey]*sync.Mutex
}

// NewConsumer builds a Consumer. Register handlers before Start.
func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	cfg := &consumerConfig{
		groupID:    "default",
		workers:    1,
		bufferSize: 10,
		retryMax:   3,
		backoffMin: 50 * time.Millisecond,
		backoffMax: 2 * time.Second,
		minBytes:   10e3,
		maxBytes:   10e6,
		log:        applogger.Nop(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.brokers) == 0 {
		return nil, fmt.Errorf("kafka: brokers not set")
	}

	c := &Consumer{
		cfg:      cfg,
		log:      cfg.log,
		handlers: make(map[string]MessageHandler),
		readers:  make(map[string]*kafka.Reader),
		queue:    make(chan *inbound, cfg.bufferSize),
		quit:     make(chan struct{}),
		locks:    make(map[partitionKey]*sync.Mutex),
	}
	if cfg.dlqTopic != "" {
		c.dlq = &kafka.Writer{Addr: kafka.TCP(cfg.brokers...), Balancer: &kafka.LeastBytes{}}
	}
	registerMetrics()
	return c, nil
}

// RegisterHandler binds a handler to its topic. Later registrations for the
// same topic are ignored.
func (c *Consumer) RegisterHandler(h MessageHandler) {
	topic := h.Topic()
	if _, ok := c.handlers[topic]; ok {
		c.log.Warn("kafka handler already registered", applogger.String("topic", topic))
		return
	}
	c.handlers[topic] = h
}

// Start spawns one reader per registered topic and the worker pool.
func (c *Consumer) Start() error {
	for topic := range c.handlers {
		c.readers[topic] = kafka.NewReader(kafka.ReaderConfig{
			Brokers:  c.cfg.brokers,
			Topic:    topic,
			GroupID:  c.cfg.groupID,
			MinBytes: c.cfg.minBytes,
			MaxBytes: c.cfg.maxBytes,
		})
	}

	for i := 0; i < c.cfg.workers; i++ {
		c.workerWG.Add(1)
		go c.worker()
	}
	for topic, r := range c.readers {
		c.readerWG.Add(1)
		go c.readLoop(topic, r)
	}

	c.log.Info("kafka consumer started",
		applogger.Int("topics", len(c.readers)),
		applogger.Int("workers", c.cfg.workers))
	return nil
}

// Stop drains readers, then workers, then closes the readers and the DLQ
// writer. The context bounds the drain.
func (c *Consumer) Stop(ctx context.Context) error {
	var stopErr error
	c.stopOnce.Do(func() {
		close(c.quit)

		stopErr = waitGroup(ctx, &c.readerWG)
		if stopErr == nil {
			// Safe only once no reader can send.
			close(c.queue)
			stopErr = waitGroup(ctx, &c.workerWG)
		}

		for topic, r := range c.readers {
			if err := r.Close(); err != nil {
				c.log.Warn("kafka reader close failed",
					applogger.String("topic", topic), applogger.Error(err))
			}
		}
		if c.dlq != nil {
			if err := c.dlq.Close(); err != nil {
				c.log.Warn("kafka dlq close failed", applogger.Error(err))
			}
		}
	})
	return stopErr
}

func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("kafka consumer: drain: %w", ctx.Err())
	}
}

func (c *Consumer) readLoop(topic string, r *kafka.Reader) {
	defer c.readerWG.Done()
	for {
		select {
		case <-c.quit:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), readPollTimeout)
		msg, err := r.ReadMessage(ctx)
		cancel()
		if err != nil {
			if !errors.Is(err, context.DeadlineExceeded) {
				c.log.Error("kafka read failed",
					applogger.String("topic", topic), applogger.Error(err))
			}
			continue
		}

		select {
		case c.queue <- &inbound{topic: topic, msg: msg}:
			consumerQueueDepth.WithLabelValues(topic).Set(float64(len(c.queue)))
			consumerQueueFullness.WithLabelValues(topic).Set(float64(len(c.queue)) / float64(cap(c.queue)))
		case <-c.quit:
			return
		}
	}
}

func (c *Consumer) worker() {
	defer c.workerWG.Done()
	for in := range c.queue {
		h, ok := c.handlers[in.topic]
		if !ok {
			continue
		}
		start := time.Now()
		c.process(h, in)
		consumerHandleLatency.WithLabelValues(in.topic).Observe(time.Since(start).Seconds())
	}
}

// process runs the handler with bounded retries, then commits the offset on
// success or after a DLQ hand-off so a poison message cannot wedge its
// partition.
func (c *Consumer) process(h MessageHandler, in *inbound) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("kafka handler panic",
				applogger.String("topic", in.topic), applogger.Any("panic", r))
		}
	}()

	lock := c.partitionLock(in.topic, in.msg.Partition)
	lock.Lock()
	defer lock.Unlock()

	var err error
	for attempt := 1; ; attempt++ {
		err = h.Handle(context.Background(), in.msg.Value)
		if err == nil || attempt > c.cfg.retryMax {
			break
		}
		select {
		case <-time.After(backoffJitter(c.cfg.backoffMin, c.cfg.backoffMax, attempt)):
		case <-c.quit:
			return
		}
	}

	if err != nil {
		c.log.Error("kafka message failed",
			applogger.String("topic", in.topic),
			applogger.Int("attempts", c.cfg.retryMax+1),
			applogger.Error(err))
		if c.dlq != nil {
			c.sendToDLQ(in)
		}
	}
	if err == nil || c.dlq != nil {
		if r := c.readers[in.topic]; r != nil {
			c.commit(r, in.msg)
		}
	}
}

func (c *Consumer) sendToDLQ(in *inbound) {
	msg := kafka.Message{
		Topic:   c.cfg.dlqTopic,
		Value:   in.msg.Value,
		Time:    time.Now(),
		Headers: []kafka.Header{{Key: "source_topic", Value: []byte(in.topic)}},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.dlq.WriteMessages(ctx, msg); err != nil {
		c.log.Error("kafka dlq write failed",
			applogger.String("topic", c.cfg.dlqTopic), applogger.Error(err))
	}
}

// commit retries a few times; an uncommitted offset only means redelivery,
// so persistent failures are logged and dropped.
func (c *Consumer) commit(r *kafka.Reader, msg kafka.Message) {
	var err error
	for attempt := 1; attempt <= 3; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = r.CommitMessages(ctx, msg)
		cancel()
		if err == nil {
			return
		}
		time.Sleep(backoffJitter(50*time.Millisecond, 500*time.Millisecond, attempt))
	}
	c.log.Warn("kafka commit failed", applogger.Error(err))
}

func (c *Consumer) partitionLock(topic string, partition int) *sync.Mutex {
	key := partitionKey{topic: topic, partition: partition}
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[key]
	if !ok {
		l = &sync.Mutex{}
		c.locks[key] = l
	}
	return l
}

// backoffJitter grows min exponentially with the attempt, caps at max and
// subtracts up to half as jitter.
func backoffJitter(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	d := min << uint(attempt-1)
	if d > max || d <= 0 {
		d = max
	}
	return d - time.Duration(rand.Int63n(int64(d)/2+1))
}
