package kafka

import (
	"time"

	"BizHealth/pkg/logger"
)

// ProducerOption configures NewProducer.
type ProducerOption func(*ProducerConfig)

// ProducerConfig holds writer settings. Messages are always partitioned by key, so every
// week of one store lands on one partition; unkeyed messages are spread round-robin.
type ProducerConfig struct {
	Brokers      []string
	RequiredAcks int
	MaxAttempts  int
	Compression  string
	BatchSize    int
	Linger       time.Duration
	WriteTimeout time.Duration
}

// WithBrokers sets the bootstrap brokers.
func WithBrokers(brokers []string) ProducerOption {
	return func(c *ProducerConfig) { c.Brokers = brokers }
}

// WithDelivery sets the acks the writer waits for (-1 means all in-sync replicas) and how
// many times it tries a batch.
func WithDelivery(requiredAcks, maxAttempts int) ProducerOption {
	return func(c *ProducerConfig) { c.RequiredAcks, c.MaxAttempts = requiredAcks, maxAttempts }
}

// WithCompression sets the codec: none, gzip, snappy, lz4 or zstd.
func WithCompression(codec string) ProducerOption {
	return func(c *ProducerConfig) { c.Compression = codec }
}

// WithBatching flushes a batch when it holds size messages or after linger, whichever
// comes first.
func WithBatching(size int, linger time.Duration) ProducerOption {
	return func(c *ProducerConfig) { c.BatchSize, c.Linger = size, linger }
}

// WithWriteTimeout bounds one write to the brokers.
func WithWriteTimeout(d time.Duration) ProducerOption {
	return func(c *ProducerConfig) { c.WriteTimeout = d }
}

// ConsumerOption configures NewConsumer.
type ConsumerOption func(*ConsumerConfig)

// ConsumerConfig holds reader and worker pool settings.
type ConsumerConfig struct {
	Brokers []string
	GroupID string
	// Workers score deliveries concurrently; QueueSize bounds fetched but unhandled ones.
	Workers    int
	QueueSize  int
	RetryMax   int
	BackoffMin time.Duration
	BackoffMax time.Duration
	// DeadLetterTopic receives deliveries that failed every attempt. Empty drops them
	// uncommitted.
	DeadLetterTopic string
	MinBytes        int
	MaxBytes        int
	Logger          *logger.Logger
}

// WithGroup sets the bootstrap brokers and the consumer group.
func WithGroup(brokers []string, groupID string) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.Brokers = brokers
		if groupID != "" {
			c.GroupID = groupID
		}
	}
}

// WithWorkers sizes the worker pool and its queue. Non-positive values keep the defaults.
func WithWorkers(workers, queueSize int) ConsumerOption {
	return func(c *ConsumerConfig) {
		if workers > 0 {
			c.Workers = workers
		}
		if queueSize > 0 {
			c.QueueSize = queueSize
		}
	}
}

// WithRetry retries a failed handler max times, backing off between backoffMin and
// backoffMax.
func WithRetry(max int, backoffMin, backoffMax time.Duration) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.RetryMax, c.BackoffMin, c.BackoffMax = max, backoffMin, backoffMax
	}
}

// WithDeadLetter parks deliveries that exhausted their retries on topic.
func WithDeadLetter(topic string) ConsumerOption {
	return func(c *ConsumerConfig) { c.DeadLetterTopic = topic }
}

// WithFetchBytes bounds the size of one fetch from a partition.
func WithFetchBytes(min, max int) ConsumerOption {
	return func(c *ConsumerConfig) { c.MinBytes, c.MaxBytes = min, max }
}

// WithConsumerLogger sets the logger.
func WithConsumerLogger(l *logger.Logger) ConsumerOption {
	return func(c *ConsumerConfig) { c.Logger = l }
}
