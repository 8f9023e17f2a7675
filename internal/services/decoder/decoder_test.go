package decoder

import (
	"math"
	"testing"

	"BizHealth/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var labels = models.LabelClasses{"Cukup Sehat", "Perlu Penanganan Khusus", "Perlu Perhatian", "Sehat"}

func TestArgmax(t *testing.T) {
	cases := []struct {
		name string
		row  []float64
		want int
	}{
		{"single", []float64{0.3}, 0},
		{"last", []float64{0.1, 0.2, 0.7}, 2},
		{"first", []float64{0.9, 0.05, 0.05}, 0},
		{"tie picks lowest", []float64{0.1, 0.45, 0.45}, 1},
		{"all equal", []float64{0.25, 0.25, 0.25, 0.25}, 0},
		{"negative scores", []float64{-3, -1, -2}, 1},
		{"nan skipped", []float64{math.NaN(), 0.2, 0.1}, 1},
		{"all nan", []float64{math.NaN(), math.NaN()}, -1},
		{"empty", nil, -1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Argmax(tc.row))
		})
	}
}

func TestDecodePicksLabelAndKeepsProbabilities(t *testing.T) {
	probs := []float64{0.1, 0.05, 0.6, 0.25}

	res, err := Decode(probs, labels)
	require.NoError(t, err)

	assert.Equal(t, "Perlu Perhatian", res.PredictedClass)
	assert.Equal(t, 2, res.ClassIndex)
	assert.Equal(t, 0.6, res.Confidence)
	require.Len(t, res.Probabilities, len(probs))
	for i := range probs {
		assert.Equal(t, math.Float64bits(probs[i]), math.Float64bits(res.Probabilities[i]))
	}
	assert.Same(t, &probs[0], &res.Probabilities[0])
}

func TestDecodeTieBreaksToLowestIndex(t *testing.T) {
	res, err := Decode([]float64{0.4, 0.1, 0.1, 0.4}, labels)
	require.NoError(t, err)
	assert.Equal(t, "Cukup Sehat", res.PredictedClass)
}

func TestDecodeRejectsLabelMismatch(t *testing.T) {
	_, err := Decode([]float64{0.2, 0.3, 0.5}, labels)
	assert.ErrorIs(t, err, ErrLabelMismatch)

	_, err = Decode([]float64{0.1, 0.1, 0.1, 0.1, 0.6}, labels)
	assert.ErrorIs(t, err, ErrLabelMismatch)
}

func TestDecodeRejectsEmptyOutput(t *testing.T) {
	_, err := Decode(nil, labels)
	assert.ErrorIs(t, err, ErrEmptyOutput)

	_, err = Decode([]float64{math.NaN(), math.NaN()}, models.LabelClasses{"a", "b"})
	assert.ErrorIs(t, err, ErrEmptyOutput)
}
