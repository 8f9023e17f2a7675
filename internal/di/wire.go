//go:build wireinject
// +build wireinject

package di

import (
	"BizHealth/pkg/config"
	"BizHealth/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application with the cleanup
// that releases the model, the cache and the Kafka producer.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,
		ProvideHTTPClient,

		// Artifacts and prediction
		ProvideArtifactLoader,
		ProvideBundle,
		ProvideCacheService,
		ProvideResultCache,
		ProvideAnalyzer,
		ProvideHTTPHandler,

		// Kafka stream
		ProvideKafkaProducer,
		ProvidePredictionPublisher,
		ProvideKafkaConsumer,
		ProvideHealthStreamHandler,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil, nil
}
