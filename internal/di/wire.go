//go:build wireinject
// +build wireinject

package di

import (
	"EdgeLab/pkg/config"
	"EdgeLab/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,
		ProvideRedisClient,

		// Repositories
		ProvideClickHouseStore,
		ProvideHypothesisStore,
		ProvideObservationStore,
		ProvideTransitionSink,
		ProvideBarPublisher,
		ProvideFeed,

		// Services
		ProvideCacheService,
		ProvidePoolExporter,
		ProvideRateLimiter,
		ProvideResponseCache,
		ProvideSPRT,
		ProvideExtractor,
		ProvideGenerator,
		ProvideRedisQueue,
		ProvideScheduler,

		// Use cases
		ProvideStrategyPool,
		ProvideLifecycleManager,
		ProvideEvaluator,
		ProvideArchiver,
		ProvideEngine,
		ProvideBarsHandler,
		ProvideSnapshotter,

		// HTTP
		ProvideHTTPHandler,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
