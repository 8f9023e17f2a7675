package models

// BusinessMetrics is one store-week of cash-flow figures, the named input of the classifier.
type BusinessMetrics struct {
	Pemasukan         float64 `json:"pemasukan"`          // income
	Pengeluaran       float64 `json:"pengeluaran"`        // expense
	JumlahTransaksi   float64 `json:"jumlah_transaksi"`   // transaction count
	JumlahHariRugi    float64 `json:"jumlah_hari_rugi"`   // days with expense > income
	RasioTransaksi    float64 `json:"rasio_transaksi"`    // transactions per unit of expense
	PersenPengeluaran float64 `json:"persen_pengeluaran"` // expense share of total cash flow
}

// FeatureVector is a BusinessMetrics flattened in schema order.
type FeatureVector []float64

// ScalerParams holds the fitted scaler attributes exported from scikit-learn.
// StandardScaler writes mean_/scale_; MinMaxScaler writes the data_* fields and min_.
type ScalerParams struct {
	Mean      []float64 `json:"mean_,omitempty"`
	Scale     []float64 `json:"scale_,omitempty"`
	Min       []float64 `json:"min_,omitempty"`
	DataMin   []float64 `json:"data_min_,omitempty"`
	DataMax   []float64 `json:"data_max_,omitempty"`
	DataRange []float64 `json:"data_range_,omitempty"`
}

// LabelClasses maps model output index to class name.
type LabelClasses []string

// PredictionResult is the decoded model output.
type PredictionResult struct {
	PredictedClass string    `json:"predicted_class"`
	ClassIndex     int       `json:"class_index"`
	Confidence     float64   `json:"confidence"`
	Probabilities  []float64 `json:"probabilities"`
}

// ClassProbability pairs a label with its probability for display.
type ClassProbability struct {
	Label       string  `json:"label"`
	Probability float64 `json:"probability"`
}

// Breakdown zips the probabilities with their labels, in output order.
func (r *PredictionResult) Breakdown(labels LabelClasses) []ClassProbability {
	out := make([]ClassProbability, 0, len(r.Probabilities))
	for i, p := range r.Probabilities {
		if i >= len(labels) {
			break
		}
		out = append(out, ClassProbability{Label: labels[i], Probability: p})
	}
	return out
}
