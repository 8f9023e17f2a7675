package models

// Requests for the analysis HTTP endpoints.

// AnalyzeRequest mirrors the fields accepted by the /analyze endpoint. The two ratios are
// optional and derived from the raw figures when absent.
type AnalyzeRequest struct {
	Pemasukan         *float64 `json:"pemasukan" validate:"required,gte=0"`
	Pengeluaran       *float64 `json:"pengeluaran" validate:"required,gte=0"`
	JumlahTransaksi   *float64 `json:"jumlah_transaksi" validate:"required,gte=0"`
	JumlahHariRugi    *float64 `json:"jumlah_hari_rugi" validate:"required,gte=0"`
	RasioTransaksi    *float64 `json:"rasio_transaksi,omitempty" validate:"omitempty,gte=0"`
	PersenPengeluaran *float64 `json:"persen_pengeluaran,omitempty" validate:"omitempty,gte=0,lte=1"`
}

// PredictRequest carries an already ordered feature row.
type PredictRequest struct {
	Features []float64 `json:"features" validate:"required,min=1"`
}

type AnalyzeResponse struct {
	HealthStatus  string             `json:"health_status"`
	Confidence    float64            `json:"confidence"`
	ClassIndex    int                `json:"class_index"`
	Probabilities []ClassProbability `json:"probabilities"`
	Features      *BusinessMetrics   `json:"features,omitempty"`
}

type ModelInfo struct {
	Engine      string   `json:"engine"`
	Scaler      string   `json:"scaler"`
	Features    []string `json:"features"`
	Labels      []string `json:"labels"`
	InputWidth  int      `json:"input_width"`
	OutputWidth int      `json:"output_width"`
	Fingerprint string   `json:"fingerprint"`
}
