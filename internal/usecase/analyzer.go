package usecase

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"
	"time"

	"BizHealth/internal/domain/models"
	domrepo "BizHealth/internal/domain/repository"
	"BizHealth/internal/services/artifacts"
	"BizHealth/internal/services/features"
	"BizHealth/pkg/logger"
	"BizHealth/pkg/metrics"
)

// Analyzer serves predictions from a bundle loaded once at startup. The bundle is shared
// read-only, so Analyze is safe for concurrent use.
type Analyzer struct {
	bundle   *artifacts.Bundle
	schema   features.Schema
	cache    domrepo.ResultCache
	cacheTTL time.Duration
	metrics  domrepo.Metrics
	log      *logger.Logger
}

// NewAnalyzer wraps a preloaded bundle. cache may be nil.
func NewAnalyzer(bundle *artifacts.Bundle, cache domrepo.ResultCache, cacheTTL time.Duration, m domrepo.Metrics, log *logger.Logger) *Analyzer {
	if m == nil {
		m = metrics.Nop{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Analyzer{
		bundle:   bundle,
		schema:   features.Default,
		cache:    cache,
		cacheTTL: cacheTTL,
		metrics:  m,
		log:      log.With(logger.String("component", "analyzer")),
	}
}

// Analyze classifies one week of business metrics.
func (a *Analyzer) Analyze(ctx context.Context, m models.BusinessMetrics) (*models.PredictionResult, error) {
	vec, err := a.schema.Vector(m)
	if err != nil {
		a.metrics.RecordError(StageNormalize)
		return nil, &StageError{Stage: StageNormalize, Err: err}
	}
	return a.PredictVector(ctx, vec)
}

// PredictVector classifies a row already in schema order.
func (a *Analyzer) PredictVector(ctx context.Context, vec models.FeatureVector) (*models.PredictionResult, error) {
	key := a.cacheKey(vec)
	if a.cache != nil {
		res, ok, err := a.cache.Get(ctx, key)
		if err != nil {
			a.log.Warn("prediction cache get failed", logger.Error(err))
		} else if ok {
			return res, nil
		}
	}

	res, err := runStages(ctx, a.bundle, a.schema, vec, a.metrics)
	if err != nil {
		return nil, err
	}

	if a.cache != nil {
		if err := a.cache.Set(ctx, key, res, a.cacheTTL); err != nil {
			a.log.Warn("prediction cache set failed", logger.Error(err))
		}
	}
	return res, nil
}

// cacheKey is pred:<fingerprint>:<hash of the raw row>, so a new model never serves
// results of the old one.
func (a *Analyzer) cacheKey(vec models.FeatureVector) string {
	h := fnv.New64a()
	var buf [8]byte
	for _, v := range vec {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		_, _ = h.Write(buf[:])
	}
	return fmt.Sprintf("pred:%s:%016x", a.bundle.Fingerprint, h.Sum64())
}

func (a *Analyzer) Labels() models.LabelClasses { return a.bundle.Labels }

func (a *Analyzer) Fingerprint() string { return a.bundle.Fingerprint }

// Info describes the loaded model for the /api/model endpoint.
func (a *Analyzer) Info() *models.ModelInfo {
	return &models.ModelInfo{
		Engine:      a.bundle.Engine,
		Scaler:      a.bundle.Normalizer.Kind(),
		Features:    a.schema.Names(),
		Labels:      append([]string(nil), a.bundle.Labels...),
		InputWidth:  a.bundle.Model.InputWidth(),
		OutputWidth: a.bundle.Model.OutputWidth(),
		Fingerprint: a.bundle.Fingerprint,
	}
}

func (a *Analyzer) Close() error { return a.bundle.Close() }
