package usecase

import (
	"context"
	"fmt"
	"time"

	"BizHealth/internal/domain/models"
	domrepo "BizHealth/internal/domain/repository"
	"BizHealth/internal/services/artifacts"
	"BizHealth/internal/services/decoder"
	"BizHealth/internal/services/features"
	"BizHealth/pkg/logger"
	"BizHealth/pkg/metrics"
)

const (
	StageLoad      = "load"
	StageNormalize = "normalize"
	StageInfer     = "infer"
	StageDecode    = "decode"
)

// StageError tags a pipeline failure with the stage it happened in.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

// BundleLoader produces a fresh artifact bundle.
type BundleLoader interface {
	Load(ctx context.Context) (*artifacts.Bundle, error)
}

// Pipeline is the one-shot prediction: load, normalize, infer, decode. Every Run loads its
// own bundle and releases it before returning, so runs share nothing.
type Pipeline struct {
	loader  BundleLoader
	schema  features.Schema
	metrics domrepo.Metrics
	log     *logger.Logger
}

func NewPipeline(loader BundleLoader, m domrepo.Metrics, log *logger.Logger) *Pipeline {
	if m == nil {
		m = metrics.Nop{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Pipeline{loader: loader, schema: features.Default, metrics: m, log: log}
}

// Predict flattens m through the feature schema and runs the pipeline.
func (p *Pipeline) Predict(ctx context.Context, m models.BusinessMetrics) (*models.PredictionResult, error) {
	vec, err := p.schema.Vector(m)
	if err != nil {
		p.metrics.RecordError(StageNormalize)
		return nil, &StageError{Stage: StageNormalize, Err: err}
	}
	return p.Run(ctx, vec)
}

// Run executes the stages in order. The first failure aborts the run and no partial
// result is returned.
func (p *Pipeline) Run(ctx context.Context, vec models.FeatureVector) (*models.PredictionResult, error) {
	start := time.Now()
	bundle, err := p.loader.Load(ctx)
	if err != nil {
		p.metrics.RecordError(StageLoad)
		return nil, &StageError{Stage: StageLoad, Err: err}
	}
	defer bundle.Close()
	p.metrics.RecordLatency(StageLoad, time.Since(start).Seconds())

	res, err := runStages(ctx, bundle, p.schema, vec, p.metrics)
	if err != nil {
		return nil, err
	}
	p.log.Debug("prediction done",
		logger.String("class", res.PredictedClass),
		logger.Floats("probabilities", res.Probabilities),
		logger.String("fingerprint", bundle.Fingerprint),
	)
	return res, nil
}

// runStages is everything after load. The bundle is only read.
func runStages(ctx context.Context, b *artifacts.Bundle, schema features.Schema, vec models.FeatureVector, m domrepo.Metrics) (*models.PredictionResult, error) {
	fail := func(stage string, err error) (*models.PredictionResult, error) {
		m.RecordError(stage)
		return nil, &StageError{Stage: stage, Err: err}
	}

	start := time.Now()
	if err := schema.Validate(vec); err != nil {
		return fail(StageNormalize, err)
	}
	normalized, err := b.Normalizer.Normalize(vec)
	if err != nil {
		return fail(StageNormalize, err)
	}
	m.RecordLatency(StageNormalize, time.Since(start).Seconds())

	start = time.Now()
	probs, err := b.Model.Predict(ctx, normalized)
	if err != nil {
		return fail(StageInfer, err)
	}
	m.RecordLatency(StageInfer, time.Since(start).Seconds())

	res, err := decoder.Decode(probs, b.Labels)
	if err != nil {
		return fail(StageDecode, err)
	}
	m.RecordPrediction(res.PredictedClass)
	return res, nil
}
