package di

import (
	"runtime"
	"testing"
	"time"

	"BizHealth/internal/services/artifacts/artifactstest"
	"BizHealth/pkg/config"
	"BizHealth/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func artifactConfig(t *testing.T) *config.Config {
	p := artifactstest.Write(t, artifactstest.Default())
	cfg := config.Default()
	cfg.Artifacts.Base = p.Dir
	cfg.Artifacts.Model = p.Model
	cfg.Artifacts.Scaler = p.Scaler
	cfg.Artifacts.Labels = p.Labels
	cfg.Log.Level = "error"
	return cfg
}

// InitializeApp registers the default Prometheus collectors, so it runs once per test binary.
func TestInitializeAppReleasesResourcesOnLateFailure(t *testing.T) {
	cfg := artifactConfig(t)
	cfg.Cache.Enabled = true
	cfg.Cache.Backend = "memory"
	// kafka without brokers fails after the model and the cache were built
	cfg.Kafka.Enabled = true

	before := runtime.NumGoroutine()
	app, cleanup, err := InitializeApp(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kafka producer")
	assert.Nil(t, app)
	assert.Nil(t, cleanup)

	assert.Eventually(t, func() bool { return runtime.NumGoroutine() <= before },
		time.Second, 10*time.Millisecond, "cache cleanup goroutine leaked")
}

func TestProvideCacheServiceCleanup(t *testing.T) {
	cfg := config.Default()
	svc, cleanup, err := ProvideCacheService(cfg, logger.Nop())
	require.NoError(t, err)
	assert.Nil(t, svc)
	assert.NotPanics(t, cleanup)

	cfg.Cache.Enabled = true
	before := runtime.NumGoroutine()
	svc, cleanup, err = ProvideCacheService(cfg, logger.Nop())
	require.NoError(t, err)
	require.NotNil(t, svc)

	cleanup()
	assert.Eventually(t, func() bool { return runtime.NumGoroutine() <= before },
		time.Second, 10*time.Millisecond)
}

func TestProvideKafkaProducerDisabled(t *testing.T) {
	p, cleanup, err := ProvideKafkaProducer(config.Default(), logger.Nop())
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.NotPanics(t, cleanup)
}
