package server

import (
	"context"
	"testing"

	"BizHealth/internal/handler/api"
	"BizHealth/internal/services/artifacts"
	"BizHealth/internal/services/artifacts/artifactstest"
	"BizHealth/internal/usecase"
	"BizHealth/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppStartAndShutdown(t *testing.T) {
	p := artifactstest.Write(t, artifactstest.Default())
	b, err := artifacts.NewLoader(artifacts.Options{
		Base: p.Dir, Model: p.Model, Scaler: p.Scaler, Labels: p.Labels,
	}, nil, nil, nil).Load(context.Background())
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Server.Port = 0
	cfg.Metrics.Enabled = false

	a := usecase.NewAnalyzer(b, nil, 0, nil, nil)
	defer a.Close()
	app := New(cfg, nil, a, api.NewAnalyzeEchoHandler(nil, a, api.RateLimit{Burst: 5, PerSecond: 1}))

	require.NoError(t, app.Start())
	require.NoError(t, app.Shutdown(context.Background()))

	// the model stays usable until its owner closes it
	res, err := a.PredictVector(context.Background(), []float64{1, 2, 3, 4, 0.1, 0.5})
	require.NoError(t, err)
	assert.NotEmpty(t, res.PredictedClass)
}
