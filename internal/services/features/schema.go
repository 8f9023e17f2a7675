package features

import (
	"errors"
	"fmt"
	"math"

	"BizHealth/internal/domain/models"
)

var (
	ErrLengthMismatch = errors.New("features: length mismatch")
	ErrNonFinite      = errors.New("features: non-finite value")
	ErrZeroScale      = errors.New("features: zero scale")
)

// Feature names in the order the classifier was trained on.
const (
	Pemasukan         = "pemasukan"
	Pengeluaran       = "pengeluaran"
	JumlahTransaksi   = "jumlah_transaksi"
	JumlahHariRugi    = "jumlah_hari_rugi"
	RasioTransaksi    = "rasio_transaksi"
	PersenPengeluaran = "persen_pengeluaran"
)

// Schema is the named, ordered contract between a BusinessMetrics record and the model input row.
type Schema struct {
	names []string
	get   []func(*models.BusinessMetrics) float64
}

// Default is the six-feature schema of the weekly cash-flow classifier.
var Default = Schema{
	names: []string{Pemasukan, Pengeluaran, JumlahTransaksi, JumlahHariRugi, RasioTransaksi, PersenPengeluaran},
	get: []func(*models.BusinessMetrics) float64{
		func(m *models.BusinessMetrics) float64 { return m.Pemasukan },
		func(m *models.BusinessMetrics) float64 { return m.Pengeluaran },
		func(m *models.BusinessMetrics) float64 { return m.JumlahTransaksi },
		func(m *models.BusinessMetrics) float64 { return m.JumlahHariRugi },
		func(m *models.BusinessMetrics) float64 { return m.RasioTransaksi },
		func(m *models.BusinessMetrics) float64 { return m.PersenPengeluaran },
	},
}

func (s Schema) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

func (s Schema) Width() int { return len(s.names) }

// Vector flattens m in schema order and validates the result.
func (s Schema) Vector(m models.BusinessMetrics) (models.FeatureVector, error) {
	vec := make(models.FeatureVector, len(s.get))
	for i, get := range s.get {
		vec[i] = get(&m)
	}
	if err := s.Validate(vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// Validate checks width and that every value is finite.
func (s Schema) Validate(vec []float64) error {
	if len(vec) != len(s.names) {
		return fmt.Errorf("%w: got %d features, schema has %d", ErrLengthMismatch, len(vec), len(s.names))
	}
	for i, v := range vec {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s=%v", ErrNonFinite, s.names[i], v)
		}
	}
	return nil
}
