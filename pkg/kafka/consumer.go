package kafka

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"BizHealth/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
)

// MessageHandler handles the payloads of one topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

// Reader is the part of *kafka.Reader the consumer uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

const (
	outcomeOK         = "ok"
	outcomeDeadLetter = "dlq"
	outcomeFailed     = "failed"
)

// Consumer fetches every registered topic and hands deliveries to a worker pool. Deliveries
// of one partition are handled one at a time, so the weeks of a store stay in order.
type Consumer struct {
	cfg        *ConsumerConfig
	log        *logger.Logger
	open       func(topic string) Reader
	readers    map[string]Reader
	handlers   map[string]MessageHandler
	hook       ConsumerHook
	deadLetter Writer

	ctx      context.Context
	cancel   context.CancelFunc
	fetchers sync.WaitGroup
	workers  sync.WaitGroup
	stopOnce sync.Once
	queue    chan delivery

	mu         sync.Mutex
	partitions map[partitionKey]*sync.Mutex
}

type delivery struct {
	topic string
	msg   kafka.Message
}

type partitionKey struct {
	topic     string
	partition int
}

// NewConsumer validates the options. Readers are opened by Start.
func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	cfg := &ConsumerConfig{
		GroupID:    "bizhealth",
		Workers:    1,
		QueueSize:  10,
		RetryMax:   3,
		BackoffMin: 50 * time.Millisecond,
		BackoffMax: 2 * time.Second,
		MinBytes:   1,
		MaxBytes:   10e6,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("brokers are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Consumer{
		cfg:        cfg,
		log:        cfg.Logger.With(logger.String("component", "kafka_consumer")),
		readers:    make(map[string]Reader),
		handlers:   make(map[string]MessageHandler),
		hook:       NoopHook{},
		ctx:        ctx,
		cancel:     cancel,
		queue:      make(chan delivery, cfg.QueueSize),
		partitions: make(map[partitionKey]*sync.Mutex),
	}
	c.open = func(topic string) Reader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			Topic:    topic,
			GroupID:  cfg.GroupID,
			MinBytes: cfg.MinBytes,
			MaxBytes: cfg.MaxBytes,
		})
	}
	if cfg.DeadLetterTopic != "" {
		c.deadLetter = &kafka.Writer{Addr: kafka.TCP(cfg.Brokers...), Balancer: &kafka.Hash{}}
	}

	initConsumerMetricsOnce()
	return c, nil
}

// RegisterHandler routes a topic to h. A second handler for the same topic is ignored.
func (c *Consumer) RegisterHandler(h MessageHandler) {
	topic := h.Topic()
	if _, dup := c.handlers[topic]; dup {
		c.log.Warn("handler already registered", logger.String("topic", topic))
		return
	}
	c.handlers[topic] = h
}

// SetHook replaces the lifecycle hook. Nil keeps the current one.
func (c *Consumer) SetHook(h ConsumerHook) {
	if h != nil {
		c.hook = h
	}
}

// Start opens one reader per registered topic and starts the workers.
func (c *Consumer) Start() error {
	if len(c.handlers) == 0 {
		return errors.New("no handlers registered")
	}
	for topic := range c.handlers {
		c.readers[topic] = c.open(topic)
	}

	c.workers.Add(c.cfg.Workers)
	for i := 0; i < c.cfg.Workers; i++ {
		go func() {
			defer c.workers.Done()
			for d := range c.queue {
				c.handle(d)
			}
		}()
	}

	c.fetchers.Add(len(c.readers))
	for topic, r := range c.readers {
		go c.fetch(topic, r)
	}

	c.log.Info("kafka consumer started",
		logger.Int("workers", c.cfg.Workers),
		logger.Int("topics", len(c.readers)),
		logger.String("group", c.cfg.GroupID),
	)
	return nil
}

// Stop stops fetching, lets the workers finish the queued deliveries and closes the
// readers. ctx bounds the wait for the workers.
func (c *Consumer) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		c.cancel()
		c.fetchers.Wait()
		close(c.queue)

		drained := make(chan struct{})
		go func() {
			c.workers.Wait()
			close(drained)
		}()
		select {
		case <-drained:
		case <-ctx.Done():
			err = fmt.Errorf("timeout waiting for consumer to stop: %w", ctx.Err())
		}

		for topic, r := range c.readers {
			if cerr := r.Close(); cerr != nil {
				c.log.Warn("close reader", logger.String("topic", topic), logger.Error(cerr))
			}
		}
		if c.deadLetter != nil {
			if cerr := c.deadLetter.Close(); cerr != nil {
				c.log.Warn("close dead letter writer", logger.Error(cerr))
			}
		}
		if err == nil {
			c.log.Info("kafka consumer stopped")
		}
	})
	return err
}

func (c *Consumer) fetch(topic string, r Reader) {
	defer c.fetchers.Done()

	for failures := 0; ; {
		msg, err := r.FetchMessage(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			failures++
			c.log.Warn("fetch message", logger.String("topic", topic), logger.Int("failures", failures), logger.Error(err))
			if !c.sleep(backoff(c.cfg.BackoffMin, c.cfg.BackoffMax, failures)) {
				return
			}
			continue
		}
		failures = 0

		// blocks while the workers are behind
		select {
		case c.queue <- delivery{topic: topic, msg: msg}:
			consumerQueueDepth.WithLabelValues(topic).Set(float64(len(c.queue)))
		case <-c.ctx.Done():
			return
		}
	}
}

// handle runs the handler under the partition lock, parks a final failure on the dead
// letter topic and commits unless the delivery is lost.
func (c *Consumer) handle(d delivery) {
	h, ok := c.handlers[d.topic]
	if !ok {
		return
	}
	start := time.Now()

	lock := c.partitionLock(d.topic, d.msg.Partition)
	lock.Lock()
	defer lock.Unlock()

	outcome := outcomeOK
	if attempts, err := c.attempt(h, d); err != nil {
		outcome = c.fail(d, attempts, err)
	}

	// a parked delivery is committed as well so it is not fetched again
	if outcome != outcomeFailed {
		if r := c.readers[d.topic]; r != nil {
			_ = c.commit(r, d.msg)
		}
	}
	consumerMessagesTotal.WithLabelValues(d.topic, outcome).Inc()
	consumerHandleLatency.WithLabelValues(d.topic).Observe(time.Since(start).Seconds())
}

// attempt runs the hook and handler until one succeeds or the retries run out. A hook
// error is final.
func (c *Consumer) attempt(h MessageHandler, d delivery) (int, error) {
	for attempts := 1; ; attempts++ {
		ctx, data, err := c.hook.BeforeHandle(c.ctx, d.topic, d.msg, d.msg.Value)
		if err != nil {
			return attempts, err
		}
		err = safeHandle(ctx, h, data)
		c.hook.AfterHandle(ctx, d.topic, d.msg, err)
		if err == nil || attempts > c.cfg.RetryMax {
			return attempts, err
		}
		if !c.sleep(backoff(c.cfg.BackoffMin, c.cfg.BackoffMax, attempts)) {
			return attempts, errors.Join(err, c.ctx.Err())
		}
	}
}

func (c *Consumer) fail(d delivery, attempts int, err error) string {
	c.hook.OnError(c.ctx, d.topic, d.msg, err)
	c.log.Error("message handling failed",
		logger.String("topic", d.topic),
		logger.Int("partition", d.msg.Partition),
		logger.Int64("offset", d.msg.Offset),
		logger.Int("attempts", attempts),
		logger.Error(err),
	)
	if c.deadLetter == nil {
		return outcomeFailed
	}

	headers := make([]kafka.Header, 0, len(d.msg.Headers)+5)
	headers = append(headers, d.msg.Headers...)
	parked := kafka.Message{
		Topic: c.cfg.DeadLetterTopic,
		Key:   d.msg.Key,
		Value: d.msg.Value,
		Time:  time.Now(),
		Headers: append(headers,
			kafka.Header{Key: "source_topic", Value: []byte(d.topic)},
			kafka.Header{Key: "source_partition", Value: []byte(strconv.Itoa(d.msg.Partition))},
			kafka.Header{Key: "source_offset", Value: []byte(strconv.FormatInt(d.msg.Offset, 10))},
			kafka.Header{Key: "attempts", Value: []byte(strconv.Itoa(attempts))},
			kafka.Header{Key: "error", Value: []byte(err.Error())},
		),
	}
	if werr := c.deadLetter.WriteMessages(context.Background(), parked); werr != nil {
		c.log.Error("dead letter write failed", logger.String("dlq_topic", c.cfg.DeadLetterTopic), logger.Error(werr))
		return outcomeFailed
	}
	return outcomeDeadLetter
}

func safeHandle(ctx context.Context, h MessageHandler, data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in handler for topic %s: %v", h.Topic(), r)
		}
	}()
	return h.Handle(ctx, data)
}

const commitAttempts = 3

// commit survives short broker hiccups. It ignores the consumer context so offsets of
// deliveries drained during Stop are still committed.
func (c *Consumer) commit(r Reader, msg kafka.Message) error {
	var err error
	for attempt := 1; attempt <= commitAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = r.CommitMessages(ctx, msg)
		cancel()
		if err == nil {
			return nil
		}
		time.Sleep(backoff(50*time.Millisecond, 500*time.Millisecond, attempt))
	}
	c.log.Error("commit failed",
		logger.String("topic", msg.Topic),
		logger.Int64("offset", msg.Offset),
		logger.Error(err),
	)
	return err
}

// sleep waits d and reports false if the consumer was stopped meanwhile.
func (c *Consumer) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *Consumer) partitionLock(topic string, partition int) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := partitionKey{topic: topic, partition: partition}
	l, ok := c.partitions[k]
	if !ok {
		l = &sync.Mutex{}
		c.partitions[k] = l
	}
	return l
}

// backoff doubles from min per attempt up to max and takes up to half of it off at random.
func backoff(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	d := max
	if attempt < 32 {
		if exp := min << uint(attempt-1); exp > 0 && exp < max {
			d = exp
		}
	}
	if half := int64(d) / 2; half > 0 {
		d -= time.Duration(rand.Int63n(half))
	}
	return d
}

var (
	consumerQueueDepth    *prometheus.GaugeVec
	consumerMessagesTotal *prometheus.CounterVec
	consumerHandleLatency *prometheus.HistogramVec
	consumerOnce          sync.Once
	consumerRegisterer    prometheus.Registerer = prometheus.DefaultRegisterer
)

// SetConsumerMetricsRegisterer sets the registerer for consumer metrics. Call it before
// the first NewConsumer.
func SetConsumerMetricsRegisterer(reg prometheus.Registerer) { consumerRegisterer = reg }

func initConsumerMetricsOnce() {
	consumerOnce.Do(func() {
		consumerQueueDepth = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "bizhealth_kafka_consumer_queue_depth", Help: "Fetched deliveries waiting for a worker"},
			[]string{"topic"},
		)
		consumerMessagesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "bizhealth_kafka_consumer_messages_total", Help: "Handled deliveries by outcome"},
			[]string{"topic", "result"},
		)
		consumerHandleLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "bizhealth_kafka_consumer_handle_seconds", Help: "Time from dequeue to commit per delivery"},
			[]string{"topic"},
		)
		consumerRegisterer.MustRegister(consumerQueueDepth, consumerMessagesTotal, consumerHandleLatency)
	})
}
