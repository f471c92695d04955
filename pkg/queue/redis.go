package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"EdgeLab/pkg/logger"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "edgelab:queue"

	popTimeout      = time.Second
	retrySweepEvery = 5 * time.Second
)

type queueKeys struct {
	pending string
	retry   string
	dead    string
}

// RedisQueue runs registered jobs off a Redis list. Failed handles are
// rescheduled through a sorted set scored by retry deadline; messages that
// exhaust their retries land on the dead-letter list for manual inspection.
type RedisQueue struct {
	log    *logger.Logger
	cfg    QueueConfig
	client *redis.Client
	keys   queueKeys
	jobs   map[string]Job

	mu      sync.RWMutex
	running bool

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	retryOnce sync.Once
}

// NewRedisQueue creates the queue. Start must be called before workers run.
func NewRedisQueue(log *logger.Logger, cfg *QueueConfig, client *redis.Client) *RedisQueue {
	normalized := QueueConfig{}
	if cfg != nil {
		normalized = *cfg
	}
	if normalized.Workers <= 0 {
		normalized.Workers = 1
	}
	if normalized.RetryDelay <= 0 {
		normalized.RetryDelay = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &RedisQueue{
		log:    log,
		cfg:    normalized,
		client: client,
		keys: queueKeys{
			pending: keyPrefix + ":pending",
			retry:   keyPrefix + ":retry",
			dead:    keyPrefix + ":dlq",
		},
		jobs:   make(map[string]Job),
		ctx:    ctx,
		cancel: cancel,
	}
}

// RegisterJob binds a job to its message type. A second registration for the
// same type is ignored.
func (r *RedisQueue) RegisterJob(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.Type()]; exists {
		r.log.Warn("queue job already registered",
			logger.String("job", job.Name()),
			logger.String("type", job.Type()))
		return
	}
	r.jobs[job.Type()] = job
	r.log.Info("queue job registered",
		logger.String("job", job.Name()),
		logger.String("type", job.Type()))
}

// Start verifies the Redis connection and launches the worker pool.
func (r *RedisQueue) Start() error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return errors.New("queue already running")
	}
	r.running = true
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		return fmt.Errorf("redis ping: %w", err)
	}

	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}
	r.log.Info("redis queue started",
		logger.Int("workers", r.cfg.Workers),
		logger.String("addr", r.client.Options().Addr))
	return nil
}

// StartRetryProcessor launches the sweeper that moves due retries back to the
// pending list. Idempotent: a second sweeper on the same sorted set would
// double-deliver messages.
func (r *RedisQueue) StartRetryProcessor() {
	r.retryOnce.Do(func() {
		r.wg.Add(1)
		go r.retrySweeper()
	})
}

// Stop cancels the workers and waits for them up to ctx's deadline.
func (r *RedisQueue) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.mu.Unlock()

	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		r.log.Warn("queue workers did not drain", logger.Error(ctx.Err()))
		return fmt.Errorf("queue stop: %w", ctx.Err())
	case <-done:
		r.log.Info("redis queue stopped")
		return nil
	}
}

// Enqueue pushes a message for msgType. The type must have a registered job
// so misrouted messages fail at the producer, not in a worker.
func (r *RedisQueue) Enqueue(ctx context.Context, msgType string, payload interface{}) error {
	r.mu.RLock()
	_, known := r.jobs[msgType]
	r.mu.RUnlock()
	if !known {
		return fmt.Errorf("queue: no job registered for type %q", msgType)
	}

	msg := Message{
		ID:        strconv.FormatInt(time.Now().UnixNano(), 10),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: marshal message: %w", err)
	}
	if err := r.client.LPush(ctx, r.keys.pending, data).Err(); err != nil {
		return fmt.Errorf("queue: push message: %w", err)
	}
	return nil
}

func (r *RedisQueue) worker(id int) {
	defer r.wg.Done()
	r.log.Debug("queue worker started", logger.Int("worker", id))
	for r.ctx.Err() == nil {
		r.poll()
	}
	r.log.Debug("queue worker stopped", logger.Int("worker", id))
}

// poll blocks on the pending list for up to popTimeout and dispatches one
// message.
func (r *RedisQueue) poll() {
	result, err := r.client.BRPop(r.ctx, popTimeout, r.keys.pending).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		r.log.Error("queue pop failed", logger.Error(err))
		select {
		case <-time.After(time.Second):
		case <-r.ctx.Done():
		}
		return
	}
	if len(result) < 2 {
		return
	}

	var msg Message
	if err := json.Unmarshal([]byte(result[1]), &msg); err != nil {
		r.log.Error("queue message corrupt", logger.Error(err))
		return
	}
	r.dispatch(msg)
}

func (r *RedisQueue) dispatch(msg Message) {
	r.mu.RLock()
	job, ok := r.jobs[msg.Type]
	r.mu.RUnlock()
	if !ok {
		r.log.Error("queue message has no job",
			logger.String("type", msg.Type),
			logger.String("id", msg.ID))
		return
	}

	start := time.Now()
	err := job.Handle(r.ctx, normalizePayload(msg.Payload))
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) {
		// Shutdown raced the handler; the retry schedule keeps the message.
		r.reschedule(msg, job)
		return
	}

	r.log.Error("queue job failed",
		logger.String("id", msg.ID),
		logger.String("job", job.Name()),
		logger.Int("attempt", msg.Attempts+1),
		logger.Int64("elapsed_ms", time.Since(start).Milliseconds()),
		logger.Error(err))

	if msg.Attempts < r.cfg.RetryLimit {
		r.reschedule(msg, job)
		return
	}
	r.log.Error("queue retries exhausted",
		logger.String("id", msg.ID),
		logger.String("job", job.Name()))
	r.deadLetter(msg)
}

// normalizePayload turns generically decoded payloads back into raw JSON so
// handlers see one canonical form after a Redis round trip.
func normalizePayload(payload interface{}) interface{} {
	switch payload.(type) {
	case map[string]interface{}, []interface{}:
		data, err := json.Marshal(payload)
		if err != nil {
			return payload
		}
		return json.RawMessage(data)
	default:
		return payload
	}
}

// reschedule parks the message in the retry set. Bookkeeping runs on a fresh
// context: the worker context is canceled during shutdown and a failed write
// here would drop the message.
func (r *RedisQueue) reschedule(msg Message, job Job) {
	msg.Attempts++
	retryAt := time.Now().Add(r.cfg.RetryDelay)

	data, err := json.Marshal(msg)
	if err != nil {
		r.log.Error("queue marshal retry", logger.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.client.ZAdd(ctx, r.keys.retry, redis.Z{
		Score:  float64(retryAt.Unix()),
		Member: data,
	}).Err(); err != nil {
		r.log.Error("queue schedule retry", logger.Error(err))
		return
	}
	r.log.Info("queue retry scheduled",
		logger.String("id", msg.ID),
		logger.String("job", job.Name()),
		logger.Int("attempt", msg.Attempts),
		logger.String("retry_at", retryAt.Format(time.RFC3339)))
}

func (r *RedisQueue) deadLetter(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		r.log.Error("queue marshal dead letter", logger.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.client.LPush(ctx, r.keys.dead, data).Err(); err != nil {
		r.log.Error("queue dead letter push", logger.Error(err))
	}
}

func (r *RedisQueue) retrySweeper() {
	defer r.wg.Done()
	ticker := time.NewTicker(retrySweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.sweepDueRetries()
		}
	}
}

// sweepDueRetries moves every message whose deadline has passed back onto the
// pending list. ZRem and LPush run in one transaction so a message is never
// in both places.
func (r *RedisQueue) sweepDueRetries() {
	due, err := r.client.ZRangeByScore(r.ctx, r.keys.retry, &redis.ZRangeBy{
		Min: "0",
		Max: strconv.FormatInt(time.Now().Unix(), 10),
	}).Result()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		r.log.Error("queue retry scan failed", logger.Error(err))
		return
	}

	for _, member := range due {
		if r.ctx.Err() != nil {
			return
		}
		pipe := r.client.TxPipeline()
		pipe.ZRem(r.ctx, r.keys.retry, member)
		pipe.LPush(r.ctx, r.keys.pending, member)
		if _, err := pipe.Exec(r.ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			r.log.Error("queue retry requeue failed", logger.Error(err))
		}
	}
}
