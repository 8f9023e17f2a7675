package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
)

// Writer is the part of *kafka.Writer the producer uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes JSON payloads: predictions, dead letters and aggregated error logs.
type Producer struct {
	writer      Writer
	compression string
}

// NewProducer builds a kafka-go writer. No connection is made until the first publish.
func NewProducer(opts ...ProducerOption) (*Producer, error) {
	cfg := &ProducerConfig{
		RequiredAcks: -1,
		MaxAttempts:  3,
		Compression:  "snappy",
		BatchSize:    100,
		Linger:       50 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("brokers are required")
	}
	codec, ok := codecs[cfg.Compression]
	if !ok {
		return nil, fmt.Errorf("unknown compression %q", cfg.Compression)
	}

	return NewProducerWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		MaxAttempts:  cfg.MaxAttempts,
		Compression:  codec,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.Linger,
		WriteTimeout: cfg.WriteTimeout,
	}, cfg.Compression), nil
}

// NewProducerWithWriter wraps w; compression only labels the metrics.
func NewProducerWithWriter(w Writer, compression string) *Producer {
	producerMetricsOnce.Do(func() { producerMetrics = newPublishMetrics(prometheus.DefaultRegisterer) })
	return &Producer{writer: w, compression: compression}
}

// Publish writes value to topic under key. []byte and string values go out as they are;
// anything else is JSON encoded and tagged with a content-type header.
func (p *Producer) Publish(ctx context.Context, topic string, key []byte, value interface{}) error {
	msg := kafka.Message{Topic: topic, Key: key, Time: time.Now()}
	switch v := value.(type) {
	case []byte:
		msg.Value = v
	case string:
		msg.Value = []byte(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", topic, err)
		}
		msg.Value = b
		msg.Headers = []kafka.Header{{Key: "content-type", Value: []byte("application/json")}}
	}

	err := p.writer.WriteMessages(ctx, msg)
	producerMetrics.observe(topic, p.compression, len(msg.Value), time.Since(msg.Time), err)
	return err
}

// PublishMessage publishes without a key, so messages spread over partitions. It makes
// the producer a logger.Publisher.
func (p *Producer) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return p.Publish(ctx, topic, nil, payload)
}

// Close flushes pending batches.
func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

var codecs = map[string]kafka.Compression{
	"none":   0,
	"gzip":   kafka.Gzip,
	"snappy": kafka.Snappy,
	"lz4":    kafka.Lz4,
	"zstd":   kafka.Zstd,
}

type publishMetrics struct {
	messages *prometheus.CounterVec
	bytes    *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var (
	producerMetrics     *publishMetrics
	producerMetricsOnce sync.Once
)

func newPublishMetrics(reg prometheus.Registerer) *publishMetrics {
	f := promauto.With(reg)
	return &publishMetrics{
		messages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bizhealth_kafka_producer_messages_total",
			Help: "Published messages by outcome",
		}, []string{"topic", "compression", "result"}),
		bytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bizhealth_kafka_producer_bytes_total",
			Help: "Payload bytes handed to the writer",
		}, []string{"topic", "compression"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bizhealth_kafka_producer_publish_seconds",
			Help:    "Time until the writer acknowledged a message",
			Buckets: prometheus.DefBuckets,
		}, []string{"topic"}),
	}
}

func (m *publishMetrics) observe(topic, compression string, size int, took time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.messages.WithLabelValues(topic, compression, result).Inc()
	m.bytes.WithLabelValues(topic, compression).Add(float64(size))
	m.latency.WithLabelValues(topic).Observe(took.Seconds())
}
