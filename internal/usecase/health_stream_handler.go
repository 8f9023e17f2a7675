package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"BizHealth/internal/domain/models"
	domrepo "BizHealth/internal/domain/repository"
	"BizHealth/internal/services/features"
	pkgkafka "BizHealth/pkg/kafka"
	"BizHealth/pkg/logger"

	"github.com/go-playground/validator/v10"
	"github.com/segmentio/kafka-go"
)

// HealthAnalyzer is the part of Analyzer the stream handler needs.
type HealthAnalyzer interface {
	Analyze(ctx context.Context, m models.BusinessMetrics) (*models.PredictionResult, error)
	Labels() models.LabelClasses
	Fingerprint() string
}

// HealthStreamHandler scores weekly metrics messages and publishes one prediction per
// message.
type HealthStreamHandler struct {
	topic     string
	analyzer  HealthAnalyzer
	publisher domrepo.PredictionPublisher
	metrics   domrepo.Metrics
	log       *logger.Logger
	now       func() time.Time
}

func NewHealthStreamHandler(topic string, analyzer HealthAnalyzer, publisher domrepo.PredictionPublisher, m domrepo.Metrics, log *logger.Logger) *HealthStreamHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &HealthStreamHandler{
		topic:     topic,
		analyzer:  analyzer,
		publisher: publisher,
		metrics:   m,
		log:       log.With(logger.String("component", "health_stream")),
		now:       time.Now,
	}
}

func (h *HealthStreamHandler) Topic() string { return h.topic }

// Handle expects a WeeklyMetricsMessage. Errors are returned to the consumer, which
// retries and finally parks the message on the DLQ.
func (h *HealthStreamHandler) Handle(ctx context.Context, b []byte) error {
	msg, err := DecodeWeeklyMetrics(b)
	if err != nil {
		return err
	}

	res, err := h.analyzer.Analyze(ctx, features.FromRequest(&msg.AnalyzeRequest))
	if err != nil {
		return fmt.Errorf("analyze store %s: %w", msg.Store, err)
	}

	out := &models.HealthPredictionMessage{
		Store:         msg.Store,
		PeriodFrom:    msg.PeriodFrom,
		HealthStatus:  res.PredictedClass,
		Confidence:    res.Confidence,
		Probabilities: res.Breakdown(h.analyzer.Labels()),
		Fingerprint:   h.analyzer.Fingerprint(),
		ScoredAt:      h.now().UTC(),
	}
	if err := h.publisher.Publish(ctx, out); err != nil {
		if h.metrics != nil {
			h.metrics.RecordError("publish")
		}
		return fmt.Errorf("publish prediction for %s: %w", msg.Store, err)
	}

	h.log.Debug("store scored",
		logger.String("store", msg.Store),
		logger.String("class", res.PredictedClass),
		logger.String("trace_id", pkgkafka.TraceID(ctx)),
	)
	return nil
}

var _ pkgkafka.MessageHandler = (*HealthStreamHandler)(nil)

var validate = validator.New()

// DecodeWeeklyMetrics unmarshals and validates a metrics message.
func DecodeWeeklyMetrics(b []byte) (*models.WeeklyMetricsMessage, error) {
	var msg models.WeeklyMetricsMessage
	if err := json.Unmarshal(b, &msg); err != nil {
		return nil, &pkgkafka.HookError{Code: "ERR_DECODE", Err: err}
	}
	if msg.Store == "" {
		return nil, &pkgkafka.HookError{Code: "ERR_VALIDATE", Err: fmt.Errorf("store is required")}
	}
	if err := validate.Struct(&msg.AnalyzeRequest); err != nil {
		return nil, &pkgkafka.HookError{Code: "ERR_VALIDATE", Err: err}
	}
	return &msg, nil
}

// ValidationHook rejects undecodable or invalid messages before the handler runs, so
// they skip retries and go straight to the DLQ.
func ValidationHook(log *logger.Logger) pkgkafka.ConsumerHook {
	if log == nil {
		log = logger.Nop()
	}
	return pkgkafka.HookFuncs{
		Before: func(ctx context.Context, topic string, km kafka.Message, data []byte) (context.Context, []byte, error) {
			if _, err := DecodeWeeklyMetrics(data); err != nil {
				log.Warn("rejecting message",
					logger.String("topic", topic),
					logger.Int("partition", km.Partition),
					logger.Int64("offset", km.Offset),
					logger.Error(err),
				)
				return ctx, data, err
			}
			return ctx, data, nil
		},
	}
}
