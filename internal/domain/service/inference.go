package service

import "context"

// Model is a loaded classifier. Implementations are immutable after load and safe for
// concurrent Predict calls.
type Model interface {
	// Predict maps one normalized feature row to one row of class scores.
	Predict(ctx context.Context, row []float64) ([]float64, error)
	InputWidth() int
	OutputWidth() int
	Close() error
}

// Normalizer turns a raw feature row into the scale the model was trained on.
type Normalizer interface {
	Normalize(raw []float64) ([]float64, error)
	Kind() string
	Width() int
}
