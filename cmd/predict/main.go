// Command predict scores one sample store-week with the configured artifacts and prints
// the decoded class.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"BizHealth/internal/domain/models"
	"BizHealth/internal/services/artifacts"
	"BizHealth/internal/services/onnx"
	"BizHealth/internal/services/remote"
	"BizHealth/internal/usecase"
	"BizHealth/pkg/config"
	xhttp "BizHealth/pkg/http"
	"BizHealth/pkg/logger"
)

// sampleWeek: expenses almost equal to income and six loss days in the week.
func sampleWeek() models.BusinessMetrics {
	return models.BusinessMetrics{
		Pemasukan:         3000000,
		Pengeluaran:       2950000,
		JumlahTransaksi:   12,
		JumlahHariRugi:    6,
		RasioTransaksi:    12.0 / 2950001,
		PersenPengeluaran: 2950000 / 5950000.000000001,
	}
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	l, err := logger.New(&logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: "stderr"})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}

	if err := run(context.Background(), cfg, l, os.Stdout); err != nil {
		l.Error("prediction failed", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, l *logger.Logger, out io.Writer) error {
	loader := artifacts.NewLoader(artifacts.Options{
		Base:         cfg.Artifacts.Base,
		Model:        cfg.Artifacts.Model,
		Scaler:       cfg.Artifacts.Scaler,
		Labels:       cfg.Artifacts.Labels,
		Engine:       cfg.Model.Engine,
		ScalerKind:   cfg.Model.Scaler,
		FetchTimeout: cfg.Artifacts.FetchTimeout,
		ONNX: onnx.Options{
			LibraryPath: cfg.Model.ONNX.LibraryPath,
			InputName:   cfg.Model.ONNX.InputName,
			OutputName:  cfg.Model.ONNX.OutputName,
		},
		Remote: remote.Options{
			Attempts: cfg.Model.Remote.Attempts,
			Backoff:  cfg.Model.Remote.Backoff,
		},
	}, xhttp.NewClient(xhttp.WithTimeout(cfg.Artifacts.FetchTimeout)), nil, l)

	res, err := usecase.NewPipeline(loader, nil, l).Predict(ctx, sampleWeek())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Predicted class: %s\n", res.PredictedClass)
	fmt.Fprintf(out, "Probabilities: %v\n", res.Probabilities)
	return nil
}
