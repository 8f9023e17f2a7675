package features

import "BizHealth/internal/domain/models"

// Smoothing terms used when the ratios were computed for training.
const (
	expenseSmoothing  = 1.0
	cashFlowSmoothing = 1e-9
)

// RasioTransaksiOf returns transactions per unit of expense, jumlah_transaksi / (pengeluaran + 1).
func RasioTransaksiOf(jumlahTransaksi, pengeluaran float64) float64 {
	return jumlahTransaksi / (pengeluaran + expenseSmoothing)
}

// PersenPengeluaranOf returns the expense share of total cash flow,
// pengeluaran / (pemasukan + pengeluaran + 1e-9).
func PersenPengeluaranOf(pemasukan, pengeluaran float64) float64 {
	return pengeluaran / (pemasukan + pengeluaran + cashFlowSmoothing)
}

// FromRequest builds BusinessMetrics from an analysis request, deriving the ratios that were
// not supplied. Required fields must already be validated as present.
func FromRequest(req *models.AnalyzeRequest) models.BusinessMetrics {
	m := models.BusinessMetrics{
		Pemasukan:       deref(req.Pemasukan),
		Pengeluaran:     deref(req.Pengeluaran),
		JumlahTransaksi: deref(req.JumlahTransaksi),
		JumlahHariRugi:  deref(req.JumlahHariRugi),
	}
	if req.RasioTransaksi != nil {
		m.RasioTransaksi = *req.RasioTransaksi
	} else {
		m.RasioTransaksi = RasioTransaksiOf(m.JumlahTransaksi, m.Pengeluaran)
	}
	if req.PersenPengeluaran != nil {
		m.PersenPengeluaran = *req.PersenPengeluaran
	} else {
		m.PersenPengeluaran = PersenPengeluaranOf(m.Pemasukan, m.Pengeluaran)
	}
	return m
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
