package repository

import (
	"context"
	"time"

	"BizHealth/internal/domain/models"
)

type Metrics interface {
	RecordPrediction(class string)
	RecordError(stage string)
	RecordLatency(stage string, seconds float64)
	RecordArtifactLoad(artifact, source string, err error)
}

// PredictionPublisher ships scored periods to downstream consumers.
type PredictionPublisher interface {
	Publish(ctx context.Context, msg *models.HealthPredictionMessage) error
}

// ResultCache stores decoded predictions keyed by model fingerprint and input.
type ResultCache interface {
	Get(ctx context.Context, key string) (*models.PredictionResult, bool, error)
	Set(ctx context.Context, key string, res *models.PredictionResult, ttl time.Duration) error
}
