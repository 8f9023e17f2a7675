package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	predictions   *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	artifactLoads *prometheus.CounterVec
}

// New creates a recorder registered on the default registry.
func New() *Recorder {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer creates a recorder registered on reg. Tests pass a fresh registry.
func NewWithRegisterer(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		predictions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bizhealth_predictions_total",
				Help: "Total number of predictions by decoded class",
			},
			[]string{"class"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bizhealth_errors_total",
				Help: "Total number of pipeline errors by stage",
			},
			[]string{"stage"},
		),
		stageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bizhealth_stage_duration_seconds",
				Help:    "Duration of pipeline stages in seconds",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"stage"},
		),
		artifactLoads: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bizhealth_artifact_loads_total",
				Help: "Artifact fetches by artifact, source and result",
			},
			[]string{"artifact", "source", "result"},
		),
	}
}

// RecordPrediction counts a decoded prediction.
func (r *Recorder) RecordPrediction(class string) {
	r.predictions.WithLabelValues(class).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(stage string) {
	r.errorsTotal.WithLabelValues(stage).Inc()
}

// RecordLatency records stage latency in seconds.
func (r *Recorder) RecordLatency(stage string, seconds float64) {
	r.stageDuration.WithLabelValues(stage).Observe(seconds)
}

func (r *Recorder) RecordArtifactLoad(artifact, source string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.artifactLoads.WithLabelValues(artifact, source, result).Inc()
}

// Nop discards everything. The demo entry point and tests use it.
type Nop struct{}

func (Nop) RecordPrediction(string)                  {}
func (Nop) RecordError(string)                       {}
func (Nop) RecordLatency(string, float64)            {}
func (Nop) RecordArtifactLoad(string, string, error) {}
