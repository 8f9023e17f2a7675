package usecase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"BizHealth/internal/domain/models"
	"BizHealth/internal/services/artifacts"
	"BizHealth/internal/services/artifacts/artifactstest"
	"BizHealth/internal/services/decoder"
	"BizHealth/internal/services/features"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingMetrics struct {
	mu          sync.Mutex
	predictions []string
	errors      []string
	stages      []string
}

func (m *recordingMetrics) RecordPrediction(class string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.predictions = append(m.predictions, class)
}

func (m *recordingMetrics) RecordError(stage string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, stage)
}

func (m *recordingMetrics) RecordLatency(stage string, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stages = append(m.stages, stage)
}

func (m *recordingMetrics) RecordArtifactLoad(string, string, error) {}

func loaderFor(p artifactstest.Paths) *artifacts.Loader {
	return artifacts.NewLoader(artifacts.Options{
		Base:   p.Dir,
		Model:  p.Model,
		Scaler: p.Scaler,
		Labels: p.Labels,
	}, nil, nil, nil)
}

// sampleWeek is a struggling store: expenses nearly equal to income, six loss days.
func sampleWeek() models.BusinessMetrics {
	return models.BusinessMetrics{
		Pemasukan:         3000000,
		Pengeluaran:       2950000,
		JumlahTransaksi:   12,
		JumlahHariRugi:    6,
		RasioTransaksi:    12.0 / 2950001,
		PersenPengeluaran: 2950000 / 5950000.000000001,
	}
}

func TestPipelinePredictsLabelFromList(t *testing.T) {
	p := artifactstest.Write(t, artifactstest.Default())
	m := &recordingMetrics{}

	res, err := NewPipeline(loaderFor(p), m, nil).Predict(context.Background(), sampleWeek())
	require.NoError(t, err)

	assert.Contains(t, artifactstest.Labels, res.PredictedClass)
	assert.Equal(t, artifactstest.Labels[res.ClassIndex], res.PredictedClass)
	require.Len(t, res.Probabilities, len(artifactstest.Labels))

	var sum float64
	for _, v := range res.Probabilities {
		assert.GreaterOrEqual(t, v, 0.0)
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-4)
	assert.Equal(t, res.Probabilities[res.ClassIndex], res.Confidence)

	assert.Equal(t, []string{res.PredictedClass}, m.predictions)
	assert.Equal(t, []string{StageLoad, StageNormalize, StageInfer}, m.stages)
	assert.Empty(t, m.errors)
}

func TestPipelineIsDeterministic(t *testing.T) {
	p := artifactstest.Write(t, artifactstest.Default())
	pl := NewPipeline(loaderFor(p), nil, nil)

	first, err := pl.Predict(context.Background(), sampleWeek())
	require.NoError(t, err)
	second, err := pl.Predict(context.Background(), sampleWeek())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestPipelineMissingScalerFailsAtLoad(t *testing.T) {
	p := artifactstest.Write(t, artifactstest.Default())
	require.NoError(t, os.Remove(filepath.Join(p.Dir, p.Scaler)))
	m := &recordingMetrics{}

	res, err := NewPipeline(loaderFor(p), m, nil).Predict(context.Background(), sampleWeek())
	require.Error(t, err)
	assert.Nil(t, res)

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageLoad, se.Stage)
	assert.ErrorIs(t, err, artifacts.ErrArtifactNotFound)

	assert.Equal(t, []string{StageLoad}, m.errors)
	assert.NotContains(t, m.stages, StageInfer, "no inference after a failed load")
	assert.Empty(t, m.predictions)
}

func TestPipelineLabelMismatchFailsAtDecode(t *testing.T) {
	f := artifactstest.Default()
	f.Outputs = 3
	p := artifactstest.Write(t, f)

	_, err := NewPipeline(loaderFor(p), nil, nil).Predict(context.Background(), sampleWeek())
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageDecode, se.Stage)
	assert.ErrorIs(t, err, decoder.ErrLabelMismatch)
}

func TestPipelineRejectsBadRows(t *testing.T) {
	p := artifactstest.Write(t, artifactstest.Default())
	pl := NewPipeline(loaderFor(p), nil, nil)

	_, err := pl.Run(context.Background(), models.FeatureVector{1, 2, 3})
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageNormalize, se.Stage)
	assert.ErrorIs(t, err, features.ErrLengthMismatch)
}

type stubModel struct {
	closed bool
	out    []float64
	err    error
}

func (s *stubModel) Predict(context.Context, []float64) ([]float64, error) { return s.out, s.err }
func (s *stubModel) InputWidth() int                                       { return 6 }
func (s *stubModel) OutputWidth() int                                      { return len(s.out) }
func (s *stubModel) Close() error                                          { s.closed = true; return nil }

type stubLoader struct{ bundle *artifacts.Bundle }

func (l stubLoader) Load(context.Context) (*artifacts.Bundle, error) { return l.bundle, nil }

func stubBundle(t *testing.T, model *stubModel) *artifacts.Bundle {
	t.Helper()
	n, err := features.NewNormalizer(&models.ScalerParams{
		Mean:  make([]float64, 6),
		Scale: []float64{1, 1, 1, 1, 1, 1},
	}, features.KindStandard)
	require.NoError(t, err)
	return &artifacts.Bundle{
		Model:       model,
		Normalizer:  n,
		Labels:      artifactstest.Labels,
		Engine:      artifacts.EngineTFJS,
		Fingerprint: "0123456789abcdef",
	}
}

func TestPipelineReleasesBundle(t *testing.T) {
	model := &stubModel{out: []float64{0.1, 0.2, 0.3, 0.4}}
	res, err := NewPipeline(stubLoader{stubBundle(t, model)}, nil, nil).Predict(context.Background(), sampleWeek())
	require.NoError(t, err)
	assert.Equal(t, "Sehat", res.PredictedClass)
	assert.True(t, model.closed)

	model = &stubModel{err: errors.New("engine crashed")}
	_, err = NewPipeline(stubLoader{stubBundle(t, model)}, nil, nil).Predict(context.Background(), sampleWeek())
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageInfer, se.Stage)
	assert.True(t, model.closed, "closed on failure too")
}

func TestStageErrorFormat(t *testing.T) {
	err := &StageError{Stage: StageDecode, Err: decoder.ErrEmptyOutput}
	assert.Equal(t, "decode: decoder: empty model output", err.Error())
	assert.ErrorIs(t, err, decoder.ErrEmptyOutput)
}
