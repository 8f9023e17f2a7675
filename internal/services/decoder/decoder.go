package decoder

import (
	"errors"
	"fmt"

	"BizHealth/internal/domain/models"
)

var (
	ErrEmptyOutput   = errors.New("decoder: empty model output")
	ErrLabelMismatch = errors.New("decoder: label count does not match model output width")
)

// Argmax returns the index of the largest value. Ties go to the lowest index and NaN never
// wins. It returns -1 when no finite-comparable value exists.
func Argmax(row []float64) int {
	best := -1
	for i, v := range row {
		if v != v { // NaN
			continue
		}
		if best < 0 || v > row[best] {
			best = i
		}
	}
	return best
}

// Decode picks the most probable class. The probabilities slice is returned as-is, not copied.
func Decode(probs []float64, labels models.LabelClasses) (*models.PredictionResult, error) {
	if len(probs) == 0 {
		return nil, ErrEmptyOutput
	}
	if len(labels) != len(probs) {
		return nil, fmt.Errorf("%w: %d labels, %d outputs", ErrLabelMismatch, len(labels), len(probs))
	}
	idx := Argmax(probs)
	if idx < 0 {
		return nil, fmt.Errorf("%w: every output is NaN", ErrEmptyOutput)
	}
	return &models.PredictionResult{
		PredictedClass: labels[idx],
		ClassIndex:     idx,
		Confidence:     probs[idx],
		Probabilities:  probs,
	}, nil
}
