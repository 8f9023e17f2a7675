package server

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"BizHealth/internal/usecase"
	"BizHealth/pkg/config"
	xhttp "BizHealth/pkg/http"
	pkgkafka "BizHealth/pkg/kafka"
	applogger "BizHealth/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg         *config.Config
	log         *applogger.Logger
	analyzer    *usecase.Analyzer
	httpHandler xhttp.Handler
	httpServer  *xhttp.Server

	consumer *pkgkafka.Consumer
	sh       pkgkafka.MessageHandler
	logSink  applogger.Publisher
}

// New creates a new App instance with all dependencies.
func New(cfg *config.Config, l *applogger.Logger, a *usecase.Analyzer, h xhttp.Handler) *App {
	if l == nil {
		l = applogger.Nop()
	}
	return &App{cfg: cfg, log: l, analyzer: a, httpHandler: h}
}

// SetStream enables the Kafka scoring stream.
func (a *App) SetStream(c *pkgkafka.Consumer, h pkgkafka.MessageHandler) {
	a.consumer, a.sh = c, h
}

// SetLogSink ships aggregated error logs to kafka.log_topic.
func (a *App) SetLogSink(p applogger.Publisher) { a.logSink = p }

// Start brings up the log sink, the Kafka stream and the HTTP server.
func (a *App) Start() error {
	if a.logSink != nil {
		a.log.AddCollector(&applogger.CollectionConfig{
			TimeInterval: a.cfg.Kafka.LogInterval,
			Topic:        a.cfg.Kafka.LogTopic,
			Publisher:    a.logSink,
		})
	}

	metricsPath := ""
	if a.cfg.Metrics.Enabled {
		metricsPath = a.cfg.Metrics.Path
	}
	a.httpServer = xhttp.NewServer(a.httpHandler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithSlowThreshold(a.cfg.Server.SlowThreshold),
		xhttp.WithBodyLimit(a.cfg.Server.BodyLimit),
		xhttp.WithCORSOrigins(a.cfg.Server.CORSOrigins...),
		xhttp.WithMetrics(metricsPath, prometheus.DefaultRegisterer, prometheus.DefaultGatherer),
		xhttp.WithLogger(a.log),
	)

	// Start consumer if configured
	if a.consumer != nil && a.sh != nil {
		a.consumer.RegisterHandler(a.sh)
		if err := a.consumer.Start(); err != nil {
			a.log.Error("kafka consumer error", applogger.Error(err))
			return err
		}
		a.log.Info("kafka consumer started", applogger.String("topic", a.sh.Topic()))
	}

	// Start HTTP server
	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		return err
	}

	if a.analyzer != nil {
		info := a.analyzer.Info()
		a.log.Info("serving model",
			applogger.String("engine", info.Engine),
			applogger.String("fingerprint", info.Fingerprint),
			applogger.Strings("labels", info.Labels),
		)
	}
	return nil
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	if err := a.Start(); err != nil {
		_ = a.Shutdown(context.Background())
		return err
	}

	// Wait for interrupt
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.log.Info("shutdown signal received")
	return a.Shutdown(context.Background())
}

// Shutdown stops intake and flushes pending error logs. The model, the cache and the Kafka
// producer belong to whoever built them and are closed after Shutdown returns.
func (a *App) Shutdown(ctx context.Context) error {
	a.log.Info("shutting down...")

	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.log.Error("http shutdown error", applogger.Error(err))
		}
	}
	if c, ok := a.httpHandler.(io.Closer); ok {
		_ = c.Close()
	}

	if a.consumer != nil {
		stopCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
		if err := a.consumer.Stop(stopCtx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
		cancel()
	}

	// flush while the producer is still open
	a.log.RemoveCollector()

	a.log.Info("shutdown complete")
	return nil
}
