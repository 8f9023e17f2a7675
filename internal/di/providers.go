package di

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"

	"BizHealth/internal/domain/repository"
	"BizHealth/internal/handler/api"
	internalrepo "BizHealth/internal/repository"
	"BizHealth/internal/services/artifacts"
	"BizHealth/internal/services/onnx"
	"BizHealth/internal/services/remote"
	"BizHealth/internal/usecase"
	"BizHealth/pkg/cache"
	"BizHealth/pkg/config"
	xhttp "BizHealth/pkg/http"
	pkgkafka "BizHealth/pkg/kafka"
	"BizHealth/pkg/logger"
	"BizHealth/pkg/metrics"
	"BizHealth/pkg/server"
)

// ProvideLogger creates the root logger from the log section.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(logger.String("env", cfg.Environment)), nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideHTTPClient creates the client used for http(s) artifact locations.
func ProvideHTTPClient(cfg *config.Config) *xhttp.Client {
	return xhttp.NewClient(xhttp.WithTimeout(cfg.Artifacts.FetchTimeout))
}

// ProvideArtifactLoader creates the loader for the configured model, scaler and labels.
func ProvideArtifactLoader(cfg *config.Config, client *xhttp.Client, m repository.Metrics, l *logger.Logger) *artifacts.Loader {
	return artifacts.NewLoader(artifacts.Options{
		Base:         cfg.Artifacts.Base,
		Model:        cfg.Artifacts.Model,
		Scaler:       cfg.Artifacts.Scaler,
		Labels:       cfg.Artifacts.Labels,
		Engine:       cfg.Model.Engine,
		ScalerKind:   cfg.Model.Scaler,
		FetchTimeout: cfg.Artifacts.FetchTimeout,
		ONNX: onnx.Options{
			LibraryPath: cfg.Model.ONNX.LibraryPath,
			InputName:   cfg.Model.ONNX.InputName,
			OutputName:  cfg.Model.ONNX.OutputName,
		},
		Remote: remote.Options{
			Attempts: cfg.Model.Remote.Attempts,
			Backoff:  cfg.Model.Remote.Backoff,
		},
	}, client, m, l)
}

// ProvideBundle loads the artifacts once for the lifetime of the service. The cleanup
// releases the model.
func ProvideBundle(loader *artifacts.Loader, l *logger.Logger) (*artifacts.Bundle, func(), error) {
	b, err := loader.Load(context.Background())
	if err != nil {
		return nil, nil, fmt.Errorf("load artifacts: %w", err)
	}
	return b, closer("model", b, l), nil
}

// ProvideCacheService creates the configured cache backend, or nil when caching is off.
func ProvideCacheService(cfg *config.Config, l *logger.Logger) (cache.Service, func(), error) {
	svc, err := newCacheService(cfg)
	if err != nil {
		return nil, nil, err
	}
	if svc == nil {
		return nil, func() {}, nil
	}
	return svc, closer("cache", svc, l), nil
}

func newCacheService(cfg *config.Config) (cache.Service, error) {
	if !cfg.Cache.Enabled {
		return nil, nil
	}
	memory := func() cache.Service {
		return cache.NewMemoryCache(cache.WithMemoryMaxSize(cfg.Cache.MaxSize))
	}
	redis := func() (cache.Service, error) {
		r := cfg.Cache.Redis
		rc, err := cache.NewRedisCache(
			cache.WithRedisAddr(net.JoinHostPort(r.Host, strconv.Itoa(r.Port))),
			cache.WithRedisAuth(r.Password, r.DB),
			cache.WithRedisPool(r.PoolSize, r.MinIdle),
			cache.WithRedisPrefix(r.Prefix),
		)
		if err != nil {
			return nil, fmt.Errorf("redis cache: %w", err)
		}
		return rc, nil
	}

	switch cfg.Cache.Backend {
	case "redis":
		return redis()
	case "layered":
		remote, err := redis()
		if err != nil {
			return nil, err
		}
		return cache.NewLayeredCache(remote, cache.WithLayeredMemory(cfg.Cache.MaxSize, cfg.Cache.L1TTL)), nil
	default:
		return memory(), nil
	}
}

// ProvideResultCache adapts the cache service to prediction results.
func ProvideResultCache(svc cache.Service) repository.ResultCache {
	if svc == nil {
		return nil
	}
	return internalrepo.NewPredictionCache(svc)
}

// ProvideAnalyzer creates the preloaded prediction service.
func ProvideAnalyzer(cfg *config.Config, b *artifacts.Bundle, rc repository.ResultCache, m repository.Metrics, l *logger.Logger) *usecase.Analyzer {
	return usecase.NewAnalyzer(b, rc, cfg.Cache.TTL, m, l)
}

// ProvideHTTPHandler creates the Echo API handler.
func ProvideHTTPHandler(cfg *config.Config, a *usecase.Analyzer, l *logger.Logger) xhttp.Handler {
	return api.NewAnalyzeEchoHandler(l.With(logger.String("component", "api")), a, api.RateLimit{
		Burst:     cfg.Server.RateLimit.Burst,
		PerSecond: cfg.Server.RateLimit.PerSecond,
	})
}

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is disabled. The cleanup
// flushes and closes it, so it must run after the app has stopped publishing.
func ProvideKafkaProducer(cfg *config.Config, l *logger.Logger) (*pkgkafka.Producer, func(), error) {
	if !cfg.Kafka.Enabled {
		return nil, func() {}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithDelivery(cfg.Kafka.RequiredAcks, cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.Linger),
		pkgkafka.WithWriteTimeout(cfg.Kafka.Producer.WriteTimeout),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, closer("kafka producer", producer, l), nil
}

// ProvidePredictionPublisher creates the Kafka publisher for scored periods.
func ProvidePredictionPublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.PredictionPublisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaPredictionPublisher(producer, cfg.Kafka.OutputTopic)
}

// ProvideKafkaConsumer creates a Kafka consumer configured from YAML, or nil when Kafka is
// disabled.
func ProvideKafkaConsumer(cfg *config.Config, l *logger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithGroup(cfg.Kafka.Brokers, cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithWorkers(cfg.Kafka.Consumer.Workers, cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithDeadLetter(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.SetHook(pkgkafka.NewHookChain(
		pkgkafka.TraceHook(),
		usecase.ValidationHook(l),
	))
	return consumer, nil
}

// ProvideHealthStreamHandler creates the handler for the weekly metrics topic.
func ProvideHealthStreamHandler(
	cfg *config.Config,
	a *usecase.Analyzer,
	pub repository.PredictionPublisher,
	m repository.Metrics,
	l *logger.Logger,
) *usecase.HealthStreamHandler {
	if pub == nil {
		return nil
	}
	return usecase.NewHealthStreamHandler(cfg.Kafka.InputTopic, a, pub, m, l)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *logger.Logger,
	a *usecase.Analyzer,
	h xhttp.Handler,
	producer *pkgkafka.Producer,
	consumer *pkgkafka.Consumer,
	sh *usecase.HealthStreamHandler,
) *server.App {
	app := server.New(cfg, l, a, h)
	if consumer != nil && sh != nil {
		app.SetStream(consumer, sh)
	}
	if producer != nil && cfg.Kafka.LogTopic != "" {
		app.SetLogSink(producer)
	}
	return app
}

func closer(what string, c io.Closer, l *logger.Logger) func() {
	return func() {
		if err := c.Close(); err != nil {
			l.Warn(what+" close error", logger.Error(err))
		}
	}
}
