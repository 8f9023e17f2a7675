package features

import (
	"fmt"

	"BizHealth/internal/domain/models"
	domsvc "BizHealth/internal/domain/service"
)

const (
	KindStandard = "standard"
	KindMinMax   = "minmax"
	KindAuto     = "auto"
)

// Standardize computes (raw[i] - mean[i]) / scale[i]. Inputs are not modified.
func Standardize(raw, mean, scale []float64) ([]float64, error) {
	if len(raw) != len(mean) || len(raw) != len(scale) {
		return nil, fmt.Errorf("%w: raw=%d mean=%d scale=%d", ErrLengthMismatch, len(raw), len(mean), len(scale))
	}
	out := make([]float64, len(raw))
	for i := range raw {
		if scale[i] == 0 {
			return nil, fmt.Errorf("%w: index %d", ErrZeroScale, i)
		}
		out[i] = (raw[i] - mean[i]) / scale[i]
	}
	return out, nil
}

// MinMax computes (raw[i] - dataMin[i]) / dataRange[i].
func MinMax(raw, dataMin, dataRange []float64) ([]float64, error) {
	if len(raw) != len(dataMin) || len(raw) != len(dataRange) {
		return nil, fmt.Errorf("%w: raw=%d data_min=%d data_range=%d", ErrLengthMismatch, len(raw), len(dataMin), len(dataRange))
	}
	out := make([]float64, len(raw))
	for i := range raw {
		if dataRange[i] == 0 {
			return nil, fmt.Errorf("%w: index %d", ErrZeroScale, i)
		}
		out[i] = (raw[i] - dataMin[i]) / dataRange[i]
	}
	return out, nil
}

type scaler struct {
	kind   string
	offset []float64
	div    []float64
	apply  func(raw, offset, div []float64) ([]float64, error)
}

func (s *scaler) Normalize(raw []float64) ([]float64, error) { return s.apply(raw, s.offset, s.div) }
func (s *scaler) Kind() string                               { return s.kind }
func (s *scaler) Width() int                                 { return len(s.offset) }

// NewNormalizer picks the scaler variant for params. With KindAuto, mean_/scale_ wins and
// data_min_/data_range_ is the fallback.
func NewNormalizer(params *models.ScalerParams, kind string) (domsvc.Normalizer, error) {
	if params == nil {
		return nil, fmt.Errorf("features: nil scaler params")
	}
	hasStandard := len(params.Mean) > 0 || len(params.Scale) > 0
	hasMinMax := len(params.DataMin) > 0 || len(params.DataRange) > 0

	if kind == "" || kind == KindAuto {
		switch {
		case hasStandard:
			kind = KindStandard
		case hasMinMax:
			kind = KindMinMax
		default:
			return nil, fmt.Errorf("features: scaler params carry neither mean_/scale_ nor data_min_/data_range_")
		}
	}

	var s *scaler
	switch kind {
	case KindStandard:
		s = &scaler{kind: kind, offset: params.Mean, div: params.Scale, apply: Standardize}
	case KindMinMax:
		s = &scaler{kind: kind, offset: params.DataMin, div: params.DataRange, apply: MinMax}
	default:
		return nil, fmt.Errorf("features: unknown scaler kind %q", kind)
	}

	if len(s.offset) == 0 || len(s.offset) != len(s.div) {
		return nil, fmt.Errorf("%w: %s scaler has %d offsets and %d divisors", ErrLengthMismatch, kind, len(s.offset), len(s.div))
	}
	for i, d := range s.div {
		if d == 0 {
			return nil, fmt.Errorf("%w: %s scaler index %d", ErrZeroScale, kind, i)
		}
	}
	return s, nil
}
