package models

import "time"

// WeeklyMetricsMessage is the payload consumed from the metrics topic.
type WeeklyMetricsMessage struct {
	Store      string    `json:"store"`
	PeriodFrom time.Time `json:"period_from"`
	AnalyzeRequest
}

// HealthPredictionMessage is the payload published to the predictions topic.
type HealthPredictionMessage struct {
	Store         string             `json:"store"`
	PeriodFrom    time.Time          `json:"period_from"`
	HealthStatus  string             `json:"health_status"`
	Confidence    float64            `json:"confidence"`
	Probabilities []ClassProbability `json:"probabilities"`
	Fingerprint   string             `json:"model_fingerprint"`
	ScoredAt      time.Time          `json:"scored_at"`
}
