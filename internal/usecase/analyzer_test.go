package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"BizHealth/internal/domain/models"
	"BizHealth/internal/services/artifacts/artifactstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapCache struct {
	mu      sync.Mutex
	entries map[string]*models.PredictionResult
	gets    int
	failGet bool
}

func newMapCache() *mapCache {
	return &mapCache{entries: map[string]*models.PredictionResult{}}
}

func (c *mapCache) Get(_ context.Context, key string) (*models.PredictionResult, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.failGet {
		return nil, false, errors.New("connection refused")
	}
	r, ok := c.entries[key]
	return r, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, res *models.PredictionResult, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = res
	return nil
}

func TestAnalyzerMatchesPipeline(t *testing.T) {
	p := artifactstest.Write(t, artifactstest.Default())
	bundle, err := loaderFor(p).Load(context.Background())
	require.NoError(t, err)

	a := NewAnalyzer(bundle, nil, 0, nil, nil)
	defer a.Close()

	got, err := a.Analyze(context.Background(), sampleWeek())
	require.NoError(t, err)
	want, err := NewPipeline(loaderFor(p), nil, nil).Predict(context.Background(), sampleWeek())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestAnalyzerServesFromCache(t *testing.T) {
	model := &stubModel{out: []float64{0.7, 0.1, 0.1, 0.1}}
	cache := newMapCache()
	m := &recordingMetrics{}
	a := NewAnalyzer(stubBundle(t, model), cache, time.Minute, m, nil)

	first, err := a.Analyze(context.Background(), sampleWeek())
	require.NoError(t, err)
	require.Len(t, cache.entries, 1)
	for key := range cache.entries {
		assert.Regexp(t, `^pred:0123456789abcdef:[0-9a-f]{16}$`, key)
	}

	model.out = []float64{0, 0, 0, 1}
	second, err := a.Analyze(context.Background(), sampleWeek())
	require.NoError(t, err)
	assert.Equal(t, first, second, "second call must come from the cache")
	assert.Equal(t, "Cukup Sehat", second.PredictedClass)
	assert.Len(t, m.predictions, 1)

	other := sampleWeek()
	other.JumlahHariRugi = 0
	third, err := a.Analyze(context.Background(), other)
	require.NoError(t, err)
	assert.Equal(t, "Sehat", third.PredictedClass)
	assert.Len(t, cache.entries, 2)
}

func TestAnalyzerIgnoresCacheErrors(t *testing.T) {
	cache := newMapCache()
	cache.failGet = true
	a := NewAnalyzer(stubBundle(t, &stubModel{out: []float64{0.1, 0.6, 0.2, 0.1}}), cache, time.Minute, nil, nil)

	res, err := a.Analyze(context.Background(), sampleWeek())
	require.NoError(t, err)
	assert.Equal(t, "Perlu Penanganan Khusus", res.PredictedClass)
}

func TestAnalyzerInfo(t *testing.T) {
	a := NewAnalyzer(stubBundle(t, &stubModel{out: make([]float64, 4)}), nil, 0, nil, nil)

	info := a.Info()
	assert.Equal(t, "tfjs", info.Engine)
	assert.Equal(t, "standard", info.Scaler)
	assert.Equal(t, 6, info.InputWidth)
	assert.Equal(t, 4, info.OutputWidth)
	assert.Equal(t, artifactstest.Labels, info.Labels)
	assert.Len(t, info.Features, 6)
	assert.Equal(t, "0123456789abcdef", a.Fingerprint())
}
