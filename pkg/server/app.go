package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	internalrepo "EdgeLab/internal/repository"
	"EdgeLab/internal/service/scheduler"
	"EdgeLab/internal/usecase"
	pkgcache "EdgeLab/pkg/cache"
	pkgch "EdgeLab/pkg/clickhouse"
	"EdgeLab/pkg/config"
	xhttp "EdgeLab/pkg/http"
	pkgkafka "EdgeLab/pkg/kafka"
	applogger "EdgeLab/pkg/logger"
	"EdgeLab/pkg/queue"

	"github.com/redis/go-redis/v9"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg   *config.Config
	log   *applogger.Logger
	eng   *usecase.Engine
	mgr   *usecase.LifecycleManager
	snap  *usecase.Snapshotter
	sched *scheduler.Scheduler

	consumer *pkgkafka.Consumer
	kh       pkgkafka.MessageHandler

	chClient    *pkgch.Client
	producer    *pkgkafka.Producer
	redisClient *redis.Client
	rqueue      *queue.RedisQueue
	respCache   pkgcache.Service

	poolExport *internalrepo.RedisPoolExporter
	cacheSvc   *pkgcache.LayeredCache

	httpServer  *xhttp.Server
	httpHandler xhttp.Handler
}

// New creates a new App instance around the engine core. Optional parts are
// attached through the Set methods; any of them may stay nil.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	eng *usecase.Engine,
	mgr *usecase.LifecycleManager,
	snap *usecase.Snapshotter,
	sched *scheduler.Scheduler,
) *App {
	return &App{
		cfg:   cfg,
		log:   log,
		eng:   eng,
		mgr:   mgr,
		snap:  snap,
		sched: sched,
	}
}

// SetHTTPHandler allows DI to inject an HTTP handler.
func (a *App) SetHTTPHandler(h xhttp.Handler) { a.httpHandler = h }

// SetConsumer attaches the Kafka intake for kafka feed mode.
func (a *App) SetConsumer(c *pkgkafka.Consumer, kh pkgkafka.MessageHandler) {
	a.consumer = c
	a.kh = kh
}

// SetInfra attaches infrastructure clients the app must close on shutdown.
func (a *App) SetInfra(
	ch *pkgch.Client,
	producer *pkgkafka.Producer,
	redisClient *redis.Client,
	rqueue *queue.RedisQueue,
	respCache pkgcache.Service,
) {
	a.chClient = ch
	a.producer = producer
	a.redisClient = redisClient
	a.rqueue = rqueue
	a.respCache = respCache
}

// SetPoolExport attaches the Redis pool exporter and its cache client.
func (a *App) SetPoolExport(exp *internalrepo.RedisPoolExporter, svc *pkgcache.LayeredCache) {
	a.poolExport = exp
	a.cacheSvc = svc
}

// Run starts the application and blocks until interrupted or, in backfill
// mode, until the feed drains.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsPath := a.cfg.Metrics.Path
	if !a.cfg.Metrics.Enabled {
		metricsPath = ""
	}
	a.httpServer = xhttp.NewServer(a.httpHandler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithLogger(a.log),
		xhttp.WithMetricsPath(metricsPath),
	)

	if a.cfg.LogCollector.Enabled && a.producer != nil {
		a.log.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   a.cfg.LogCollector.Interval,
			CountThreshold: a.cfg.LogCollector.CountThreshold,
			Topic:          a.cfg.LogCollector.Topic,
			Publisher:      &kafkaLogPublisher{producer: a.producer},
		})
	}

	// Rebuild lifecycle state before any bar flows, then start appending.
	if a.snap != nil {
		if err := a.snap.Restore(ctx); err != nil {
			a.log.Warn("state restore failed, starting cold", applogger.Error(err))
		}
		a.snap.Start(ctx)
	}

	if a.rqueue != nil {
		if err := a.rqueue.Start(); err != nil {
			a.log.Warn("redis queue start failed", applogger.Error(err))
		} else {
			a.rqueue.StartRetryProcessor()
		}
	}

	// Lifecycle state is process-local; two engines on one stream diverge.
	if a.poolExport != nil && a.cfg.Redis.Lock.Enabled {
		ok, err := a.poolExport.AcquireLeadership(ctx)
		if err != nil {
			a.log.Warn("leadership acquire failed, continuing unlocked", applogger.Error(err))
		} else if !ok {
			return fmt.Errorf("engine lock %q held by another instance", a.cfg.Redis.Lock.Key)
		}
	}

	if err := a.eng.Start(ctx); err != nil {
		return fmt.Errorf("engine start: %w", err)
	}
	a.log.Info("engine started",
		applogger.String("mode", a.cfg.Feed.Mode),
		applogger.Strings("symbols", a.cfg.Feed.Symbols))

	if a.consumer != nil && a.kh != nil {
		a.consumer.RegisterHandler(a.kh)
		go func() {
			if err := a.consumer.Start(); err != nil {
				a.log.Error("kafka consumer error", applogger.Error(err))
			}
		}()
		a.log.Info("kafka consumer started", applogger.String("topic", a.kh.Topic()))
	}

	a.startScheduler()

	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		return err
	}
	a.log.Info("http server started", applogger.Int("port", a.cfg.Server.Port))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		a.log.Info("shutdown signal received")
	case <-a.eng.Drained():
		a.log.Info("feed drained, shutting down")
	}
	return a.shutdown(ctx)
}

func (a *App) startScheduler() {
	if a.sched == nil {
		return
	}
	if a.snap != nil {
		if _, err := a.sched.Add(a.cfg.Scheduler.SnapshotSpec, "snapshot", a.snap.SnapshotNow); err != nil {
			a.log.Error("register snapshot job", applogger.Error(err))
		}
	}
	if _, err := a.sched.Add(a.cfg.Scheduler.RetentionSpec, "retention-sweep", func(ctx context.Context) error {
		removed := a.mgr.SweepRetention(time.Now())
		if removed > 0 {
			a.log.Debug("retention sweep", applogger.Int("removed", removed))
		}
		return nil
	}); err != nil {
		a.log.Error("register retention job", applogger.Error(err))
	}
	if a.poolExport != nil && a.cfg.Redis.PoolExport.Enabled {
		if _, err := a.sched.Add(a.cfg.Redis.PoolExport.Spec, "pool-export", func(ctx context.Context) error {
			return a.poolExport.Export(ctx, a.mgr.Pool().Rank(), a.cfg.Redis.PoolExport.TTL)
		}); err != nil {
			a.log.Error("register pool export job", applogger.Error(err))
		}
	}
	if a.poolExport != nil && a.cfg.Redis.Lock.Enabled {
		if _, err := a.sched.Add(a.cfg.Redis.Lock.Refresh, "leader-refresh", a.poolExport.RefreshLeadership); err != nil {
			a.log.Error("register leader refresh job", applogger.Error(err))
		}
	}
	a.sched.Start()
}

// shutdown gracefully stops all services: intake first, persistence last.
func (a *App) shutdown(ctx context.Context) error {
	if a.sched != nil {
		a.sched.Stop()
	}

	// Kafka intake feeds the engine; stop it before the pipeline.
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	if err := a.eng.Shutdown(ctx); err != nil {
		a.log.Warn("engine shutdown error", applogger.Error(err))
	}

	// The manager closed its subscriber channels above; wait for the append
	// loop to drain, then write one final snapshot.
	if a.snap != nil {
		waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := a.snap.Wait(waitCtx); err != nil {
			a.log.Warn("snapshotter drain timeout", applogger.Error(err))
		}
		cancel()
		if err := a.snap.SnapshotNow(ctx); err != nil {
			a.log.Warn("final snapshot failed", applogger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}

	if a.rqueue != nil {
		if err := a.rqueue.Stop(ctx); err != nil {
			a.log.Warn("redis queue stop error", applogger.Error(err))
		}
	}
	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			a.log.Warn("clickhouse close error", applogger.Error(err))
		}
	}
	if a.producer != nil {
		// Flush aggregated logs through the producer before it goes away.
		a.log.RemoveCollector()
		if err := a.producer.Close(); err != nil {
			a.log.Warn("kafka producer close error", applogger.Error(err))
		}
	}
	if a.poolExport != nil && a.cfg.Redis.Lock.Enabled {
		if err := a.poolExport.ReleaseLeadership(ctx); err != nil {
			a.log.Warn("leadership release error", applogger.Error(err))
		}
	}
	if a.cacheSvc != nil {
		if err := a.cacheSvc.Close(); err != nil {
			a.log.Warn("cache close error", applogger.Error(err))
		}
	}
	// The response cache is the layered service above unless Redis is off,
	// in which case it is a standalone memory cache with its own janitor.
	if mc, ok := a.respCache.(*pkgcache.MemoryCache); ok {
		_ = mc.Close()
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.log.Warn("redis close error", applogger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
	return nil
}

// kafkaLogPublisher adapts the Kafka producer to the log collector's
// publisher interface.
type kafkaLogPublisher struct {
	producer *pkgkafka.Producer
}

func (p *kafkaLogPublisher) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return p.producer.Publish(ctx, topic, nil, payload)
}
