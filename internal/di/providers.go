package di

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	domrepo "EdgeLab/internal/domain/repository"
	"EdgeLab/internal/handler/api"
	mid "EdgeLab/internal/middleware"
	internalrepo "EdgeLab/internal/repository"
	"EdgeLab/internal/service/binance"
	"EdgeLab/internal/service/ratelimit"
	"EdgeLab/internal/service/scheduler"
	"EdgeLab/internal/services/features"
	hypo "EdgeLab/internal/services/hypothesis"
	"EdgeLab/internal/usecase"
	pkgcache "EdgeLab/pkg/cache"
	pkgch "EdgeLab/pkg/clickhouse"
	"EdgeLab/pkg/config"
	xhttp "EdgeLab/pkg/http"
	pkgkafka "EdgeLab/pkg/kafka"
	applogger "EdgeLab/pkg/logger"
	"EdgeLab/pkg/metrics"
	"EdgeLab/pkg/queue"
	"EdgeLab/pkg/server"

	"github.com/redis/go-redis/v9"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() domrepo.Metrics {
	return metrics.New()
}

// ProvideClickHouseClient creates a ClickHouse client, or nil when disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideClickHouseStore creates the ClickHouse-backed store and ensures its
// schema. Nil when ClickHouse is disabled.
func ProvideClickHouseStore(chClient *pkgch.Client, log *applogger.Logger) (*internalrepo.ClickHouseStore, error) {
	if chClient == nil {
		return nil, nil
	}
	store := internalrepo.NewClickHouseStore(chClient, log)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		_ = chClient.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return store, nil
}

// ProvideHypothesisStore exposes the store behind its domain interface.
// A typed nil pointer must not escape into the interface.
func ProvideHypothesisStore(store *internalrepo.ClickHouseStore) domrepo.HypothesisStore {
	if store == nil {
		return nil
	}
	return store
}

// ProvideObservationStore exposes the bar archive interface when the archive
// backend is ClickHouse.
func ProvideObservationStore(store *internalrepo.ClickHouseStore, cfg *config.Config) domrepo.ObservationStore {
	if store == nil || cfg.Archive.Backend != usecase.BackendClickHouse {
		return nil
	}
	return store
}

// ProvideKafkaProducer creates a Kafka producer when brokers are configured.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideTransitionSink publishes lifecycle transitions to Kafka when a
// producer is available.
func ProvideTransitionSink(producer *pkgkafka.Producer, cfg *config.Config) domrepo.TransitionSink {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaTransitionSink(producer, cfg.Kafka.TransitionsTopic)
}

// ProvideBarPublisher forwards archived bars to Kafka when the archive
// backend is Kafka.
func ProvideBarPublisher(producer *pkgkafka.Producer, cfg *config.Config) domrepo.BarPublisher {
	if producer == nil || cfg.Archive.Backend != usecase.BackendKafka {
		return nil
	}
	return internalrepo.NewKafkaBarPublisher(producer, cfg.Kafka.BarsTopic)
}

// ProvideKafkaConsumer creates a consumer for the bars topic in kafka feed
// mode.
func ProvideKafkaConsumer(cfg *config.Config, log *applogger.Logger) (*pkgkafka.Consumer, error) {
	if cfg.Feed.Mode != "kafka" {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideRedisClient creates a Redis client, or nil when disabled.
func ProvideRedisClient(cfg *config.Config) *redis.Client {
	if !cfg.Redis.Enabled {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

// ProvideRedisQueue creates the transition replay queue. It needs both Redis
// and a hypothesis store to be useful.
func ProvideRedisQueue(
	log *applogger.Logger,
	m domrepo.Metrics,
	client *redis.Client,
	store domrepo.HypothesisStore,
	cfg *config.Config,
) *queue.RedisQueue {
	if client == nil || store == nil {
		return nil
	}
	q := queue.NewRedisQueue(log, &queue.QueueConfig{
		Workers:    cfg.Redis.Queue.Workers,
		RetryLimit: cfg.Redis.Queue.RetryLimit,
		RetryDelay: cfg.Redis.Queue.RetryDelay,
	}, client)
	q.RegisterJob(usecase.NewTransitionReplayJob(log, m, store))
	return q
}

// ProvideCacheService creates the layered Redis cache backing pool export
// and the engine leadership lock. Nil when neither feature is on.
func ProvideCacheService(cfg *config.Config) (*pkgcache.LayeredCache, error) {
	if !cfg.Redis.Enabled || (!cfg.Redis.PoolExport.Enabled && !cfg.Redis.Lock.Enabled) {
		return nil, nil
	}
	host, port := splitHostPort(cfg.Redis.Addr)
	rc, err := pkgcache.NewRedisCache(
		pkgcache.WithRedisHost(host),
		pkgcache.WithRedisPort(port),
		pkgcache.WithRedisPassword(cfg.Redis.Password),
		pkgcache.WithRedisDB(cfg.Redis.DB),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return pkgcache.NewLayeredCache(rc), nil
}

// ProvidePoolExporter creates the Redis pool exporter when the cache service
// exists.
func ProvidePoolExporter(svc *pkgcache.LayeredCache, log *applogger.Logger, cfg *config.Config) *internalrepo.RedisPoolExporter {
	if svc == nil {
		return nil
	}
	return internalrepo.NewRedisPoolExporter(svc, log, cfg.Redis.Lock.Key, cfg.Redis.Lock.TTL)
}

func splitHostPort(addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 6379
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, 6379
	}
	return host, port
}

// ProvideRateLimiter creates the shared token bucket limiter.
func ProvideRateLimiter() *ratelimit.Limiter {
	return ratelimit.New()
}

// ProvideResponseCache picks the API response cache backend: the shared
// layered cache when Redis is wired, an in-process cache otherwise. Nil when
// response caching is disabled.
func ProvideResponseCache(cfg *config.Config, layered *pkgcache.LayeredCache) pkgcache.Service {
	if !cfg.Cache.Enabled {
		return nil
	}
	if layered != nil {
		return layered
	}
	return pkgcache.NewMemoryCache(pkgcache.WithMemoryJanitor(cfg.Cache.CleanupInterval))
}

// ProvideFeed selects the observation feed for the configured mode. In kafka
// mode the engine has no feed of its own; bars arrive through the consumer.
func ProvideFeed(cfg *config.Config, log *applogger.Logger, limiter *ratelimit.Limiter) domrepo.ObservationFeed {
	tf := domrepo.NormalizeTimeframe(cfg.Engine.Timeframe)
	switch cfg.Feed.Mode {
	case "backfill":
		return binance.NewBackfill(
			log,
			cfg.Binance.RESTURL,
			cfg.Feed.Symbols,
			tf,
			cfg.Binance.Backfill.Bars,
			cfg.Binance.Backfill.BatchSize,
			limiter,
			cfg.Binance.RequestsPerSec,
		)
	case "kafka":
		return nil
	default:
		return binance.NewStream(
			cfg.Binance.WebSocketURL,
			cfg.Feed.Symbols,
			tf,
			cfg.Binance.ReconnectDelay,
			cfg.Binance.PingInterval,
		)
	}
}

// ProvideSPRT builds the sequential test shared by evaluation and lifecycle.
func ProvideSPRT(cfg *config.Config) (*hypo.SPRT, error) {
	test, err := hypo.NewSPRT(cfg.Lifecycle.Confidence, cfg.Lifecycle.Power, cfg.Lifecycle.Delta)
	if err != nil {
		return nil, fmt.Errorf("sprt: %w", err)
	}
	return test, nil
}

// ProvideExtractor creates the feature extractor.
func ProvideExtractor(cfg *config.Config) *features.Extractor {
	return features.NewExtractor(cfg.Engine.Window)
}

// ProvideGenerator creates the hypothesis generator.
func ProvideGenerator(cfg *config.Config, log *applogger.Logger) *hypo.Generator {
	opts := []hypo.Option{hypo.WithMaxHorizon(cfg.Engine.MaxHorizon)}
	if cfg.Engine.Seed != 0 {
		opts = append(opts, hypo.WithSeed(cfg.Engine.Seed))
	}
	return hypo.NewGenerator(log, cfg.Engine.HistoryCapacity, opts...)
}

// ProvideStrategyPool creates the ACTIVE pool.
func ProvideStrategyPool(cfg *config.Config) *usecase.StrategyPool {
	return usecase.NewStrategyPool(cfg.Lifecycle.PoolCapacity)
}

// ProvideLifecycleManager creates the lifecycle state machine.
func ProvideLifecycleManager(
	log *applogger.Logger,
	m domrepo.Metrics,
	pool *usecase.StrategyPool,
	sink domrepo.TransitionSink,
	test *hypo.SPRT,
	cfg *config.Config,
) *usecase.LifecycleManager {
	return usecase.NewLifecycleManager(log, m, pool, sink, test, usecase.LifecycleConfig{
		MinSamples:     int64(cfg.Lifecycle.MinSamples),
		MaxSamples:     int64(cfg.Lifecycle.MaxSamples),
		MinEdge:        cfg.Lifecycle.MinEdge,
		PoolCapacity:   cfg.Lifecycle.PoolCapacity,
		DecayWindow:    cfg.Lifecycle.DecayWindow,
		DecayThreshold: cfg.Lifecycle.DecayThreshold,
		Epsilon:        cfg.Lifecycle.Epsilon,
		Retention:      cfg.Lifecycle.Retention,
		EventBuffer:    cfg.Lifecycle.EventBuffer,
	})
}

// ProvideEvaluator creates the outcome evaluator.
func ProvideEvaluator(
	log *applogger.Logger,
	m domrepo.Metrics,
	mgr *usecase.LifecycleManager,
	test *hypo.SPRT,
	cfg *config.Config,
) *usecase.Evaluator {
	interval := domrepo.NormalizeTimeframe(cfg.Engine.Timeframe).Interval()
	return usecase.NewEvaluator(log, m, mgr, test, interval, usecase.EvaluatorConfig{
		Workers:   cfg.Evaluator.Workers,
		QueueSize: cfg.Evaluator.QueueSize,
	})
}

// ProvideArchiver creates the bar archiver for the configured backend.
func ProvideArchiver(
	log *applogger.Logger,
	pub domrepo.BarPublisher,
	store domrepo.ObservationStore,
	m domrepo.Metrics,
	cfg *config.Config,
) *usecase.ObservationArchiver {
	return usecase.NewObservationArchiver(
		log, pub, store, m,
		cfg.Archive.Backend,
		cfg.Archive.BatchSize,
		cfg.Archive.BatchTimeout,
	)
}

// ProvideEngine assembles the engine and its ordering pipeline. The pipeline
// sits in front of Process for every intake path, feed or Kafka.
func ProvideEngine(
	log *applogger.Logger,
	m domrepo.Metrics,
	feed domrepo.ObservationFeed,
	extractor *features.Extractor,
	gen *hypo.Generator,
	eval *usecase.Evaluator,
	mgr *usecase.LifecycleManager,
	archiver *usecase.ObservationArchiver,
	cfg *config.Config,
) *usecase.Engine {
	eng := usecase.NewEngine(log, m, feed, extractor, gen, eval, mgr, archiver, usecase.EngineConfig{
		GenerateEvery:  cfg.Engine.GenerateEvery,
		GenerateBudget: cfg.Engine.GenerateBudget,
	})
	interval := domrepo.NormalizeTimeframe(cfg.Engine.Timeframe).Interval()
	pipe := mid.NewObservationPipeline(eng, m,
		mid.WithGapTolerance(2*interval),
		mid.WithBufferSize(cfg.Evaluator.QueueSize),
		mid.WithGapHandler(eng.OnFeedGap),
	)
	eng.SetPipeline(pipe)
	return eng
}

// ProvideBarsHandler registers the Kafka intake for the bars topic. Bars go
// through the same ordering pipeline as direct feeds.
func ProvideBarsHandler(eng *usecase.Engine, m domrepo.Metrics, cfg *config.Config) pkgkafka.MessageHandler {
	if cfg.Feed.Mode != "kafka" {
		return nil
	}
	return usecase.NewKafkaBarsHandler(cfg.Kafka.BarsTopic, eng.Pipeline(), m)
}

// ProvideSnapshotter creates the durability driver when a store exists.
func ProvideSnapshotter(
	log *applogger.Logger,
	m domrepo.Metrics,
	store domrepo.HypothesisStore,
	mgr *usecase.LifecycleManager,
	retry *queue.RedisQueue,
) *usecase.Snapshotter {
	if store == nil {
		return nil
	}
	return usecase.NewSnapshotter(log, m, store, mgr, retry)
}

// ProvideScheduler creates the cron scheduler.
func ProvideScheduler(log *applogger.Logger) *scheduler.Scheduler {
	return scheduler.New(log, context.Background())
}

// ProvideHTTPHandler builds the query API handler.
func ProvideHTTPHandler(
	log *applogger.Logger,
	mgr *usecase.LifecycleManager,
	eng *usecase.Engine,
	eval *usecase.Evaluator,
	store domrepo.HypothesisStore,
	obsStore domrepo.ObservationStore,
	cache pkgcache.Service,
	limiter *ratelimit.Limiter,
	cfg *config.Config,
) xhttp.Handler {
	h := api.NewHypothesesHandler(log, mgr, eng, eval)
	h.SetStores(store, obsStore)
	if cache != nil {
		h.SetCache(cache, cfg.Cache.TTL)
	}
	if cfg.RateLimit.Enabled {
		h.SetRateLimit(limiter, float64(cfg.RateLimit.Burst), cfg.RateLimit.RPS)
	}
	return h
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	log *applogger.Logger,
	eng *usecase.Engine,
	mgr *usecase.LifecycleManager,
	snap *usecase.Snapshotter,
	consumer *pkgkafka.Consumer,
	kh pkgkafka.MessageHandler,
	chClient *pkgch.Client,
	producer *pkgkafka.Producer,
	redisClient *redis.Client,
	rqueue *queue.RedisQueue,
	sched *scheduler.Scheduler,
	respCache pkgcache.Service,
	cacheSvc *pkgcache.LayeredCache,
	exporter *internalrepo.RedisPoolExporter,
	handler xhttp.Handler,
) *server.App {
	app := server.New(cfg, log, eng, mgr, snap, sched)
	app.SetHTTPHandler(handler)
	app.SetConsumer(consumer, kh)
	app.SetInfra(chClient, producer, redisClient, rqueue, respCache)
	app.SetPoolExport(exporter, cacheSvc)
	return app
}
