package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *memWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *memWriter) Close() error { return nil }

type memReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []kafka.Message
}

func (r *memReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	for {
		r.mu.Lock()
		if len(r.queue) > 0 {
			m := r.queue[0]
			r.queue = r.queue[1:]
			r.mu.Unlock()
			return m, nil
		}
		r.mu.Unlock()
		select {
		case <-ctx.Done():
			return kafka.Message{}, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (r *memReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *memReader) Close() error { return nil }

func (r *memReader) committedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

type funcHandler struct {
	topic string
	fn    func(context.Context, []byte) error
}

func (h funcHandler) Topic() string                              { return h.topic }
func (h funcHandler) Handle(ctx context.Context, b []byte) error { return h.fn(ctx, b) }

func newTestConsumer(t *testing.T, h MessageHandler, retries int) (*Consumer, *memReader, *memWriter) {
	t.Helper()
	c, err := NewConsumer(
		WithGroup([]string{"localhost:9092"}, ""),
		WithRetry(retries, time.Millisecond, time.Millisecond),
		WithDeadLetter("metrics.dlq"),
	)
	require.NoError(t, err)
	dlq := &memWriter{}
	c.deadLetter = dlq
	reader := &memReader{}
	c.readers[h.Topic()] = reader
	c.RegisterHandler(h)
	return c, reader, dlq
}

func TestProcessCommitsOnSuccess(t *testing.T) {
	var got []byte
	c, reader, dlq := newTestConsumer(t, funcHandler{"metrics", func(_ context.Context, b []byte) error {
		got = b
		return nil
	}}, 2)

	c.handle(delivery{topic: "metrics", msg: kafka.Message{Topic: "metrics", Value: []byte(`{"store":"a"}`)}})

	assert.Equal(t, `{"store":"a"}`, string(got))
	assert.Equal(t, 1, reader.committedCount())
	assert.Empty(t, dlq.msgs)
}

func TestProcessRetriesThenParksInDLQ(t *testing.T) {
	calls := 0
	c, reader, dlq := newTestConsumer(t, funcHandler{"metrics", func(context.Context, []byte) error {
		calls++
		return errors.New("model busy")
	}}, 2)

	c.handle(delivery{topic: "metrics", msg: kafka.Message{
		Topic:   "metrics",
		Key:     []byte("store-1"),
		Value:   []byte("x"),
		Headers: []kafka.Header{{Key: "trace_id", Value: []byte("abc-123")}},
	}})

	assert.Equal(t, 3, calls, "first attempt plus two retries")
	require.Len(t, dlq.msgs, 1)
	assert.Equal(t, "metrics.dlq", dlq.msgs[0].Topic)
	assert.Equal(t, "store-1", string(dlq.msgs[0].Key))
	assert.Equal(t, 1, reader.committedCount())

	headers := map[string]string{}
	for _, h := range dlq.msgs[0].Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "metrics", headers["source_topic"])
	assert.Equal(t, "3", headers["attempts"])
	assert.Equal(t, "model busy", headers["error"])
	assert.Equal(t, "abc-123", headers["trace_id"], "original headers are carried over")
}

func TestProcessDoesNotCommitWhenDLQFails(t *testing.T) {
	c, reader, dlq := newTestConsumer(t, funcHandler{"metrics", func(context.Context, []byte) error {
		return errors.New("boom")
	}}, 0)
	dlq.err = errors.New("broker down")

	c.handle(delivery{topic: "metrics", msg: kafka.Message{Value: []byte("x")}})
	assert.Zero(t, reader.committedCount())
}

func TestHookErrorSkipsRetries(t *testing.T) {
	calls := 0
	c, _, dlq := newTestConsumer(t, funcHandler{"metrics", func(context.Context, []byte) error {
		calls++
		return nil
	}}, 5)
	c.SetHook(HookFuncs{
		Before: func(ctx context.Context, _ string, _ kafka.Message, data []byte) (context.Context, []byte, error) {
			return ctx, data, &HookError{Code: "ERR_DECODE"}
		},
	})

	c.handle(delivery{topic: "metrics", msg: kafka.Message{Value: []byte("not json")}})
	assert.Zero(t, calls)
	assert.Len(t, dlq.msgs, 1)
}

func TestHandlerPanicBecomesError(t *testing.T) {
	c, _, dlq := newTestConsumer(t, funcHandler{"metrics", func(context.Context, []byte) error {
		panic("nil bundle")
	}}, 0)

	c.handle(delivery{topic: "metrics", msg: kafka.Message{Value: []byte("x")}})
	require.Len(t, dlq.msgs, 1)
}

func TestConsumerStartStop(t *testing.T) {
	done := make(chan string, 1)
	c, err := NewConsumer(WithGroup([]string{"localhost:9092"}, "scoring"), WithWorkers(2, 4))
	require.NoError(t, err)
	reader := &memReader{queue: []kafka.Message{{Topic: "metrics", Value: []byte("hello")}}}
	c.open = func(string) Reader { return reader }
	c.RegisterHandler(funcHandler{"metrics", func(_ context.Context, b []byte) error {
		done <- string(b)
		return nil
	}})

	require.NoError(t, c.Start())
	select {
	case got := <-done:
		assert.Equal(t, "hello", got)
	case <-time.After(2 * time.Second):
		t.Fatal("message not handled")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Stop(ctx))
	assert.Equal(t, 1, reader.committedCount())
}

func TestTraceHookAndChain(t *testing.T) {
	chain := NewHookChain(nil, TraceHook(), HookFuncs{
		Before: func(ctx context.Context, _ string, _ kafka.Message, data []byte) (context.Context, []byte, error) {
			assert.Equal(t, "abc-123", TraceID(ctx))
			return ctx, data, nil
		},
	})
	km := kafka.Message{Headers: []kafka.Header{{Key: "trace_id", Value: []byte("abc-123")}}}
	ctx, data, err := chain.BeforeHandle(context.Background(), "metrics", km, []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "abc-123", TraceID(ctx))
	assert.Equal(t, "x", string(data))

	panicky := NewHookChain(HookFuncs{
		Before: func(context.Context, string, kafka.Message, []byte) (context.Context, []byte, error) {
			panic("bad hook")
		},
	})
	_, _, err = panicky.BeforeHandle(context.Background(), "metrics", km, nil)
	var he *HookError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, "ERR_PANIC", he.Code)
}

func TestProducerEncodesJSON(t *testing.T) {
	w := &memWriter{}
	p := NewProducerWithWriter(w, "snappy")

	require.NoError(t, p.Publish(context.Background(), "predictions", []byte("store-1"), map[string]string{"health_status": "Sehat"}))
	require.NoError(t, p.PublishMessage(context.Background(), "logs", "raw line"))

	require.Len(t, w.msgs, 2)
	var v map[string]string
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &v))
	assert.Equal(t, "Sehat", v["health_status"])
	assert.Equal(t, "store-1", string(w.msgs[0].Key))
	assert.Equal(t, "logs", w.msgs[1].Topic)
	assert.Equal(t, "raw line", string(w.msgs[1].Value))
	assert.Nil(t, w.msgs[1].Key)
	assert.Equal(t, []kafka.Header{{Key: "content-type", Value: []byte("application/json")}}, w.msgs[0].Headers)
	assert.Empty(t, w.msgs[1].Headers)
}

func TestBackoffStaysInRange(t *testing.T) {
	for attempt := 1; attempt < 40; attempt++ {
		d := backoff(10*time.Millisecond, 100*time.Millisecond, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 100*time.Millisecond)
	}
}

func TestProducerRequiresBrokers(t *testing.T) {
	_, err := NewProducer()
	assert.Error(t, err)
	_, err = NewProducer(WithBrokers([]string{"localhost:9092"}), WithCompression("brotli"))
	assert.ErrorContains(t, err, "brotli")
	p, err := NewProducer(WithBrokers([]string{"localhost:9092"}), WithCompression("zstd"), WithBatching(10, time.Millisecond))
	require.NoError(t, err)
	assert.NoError(t, p.Close())
	_, err = NewConsumer()
	assert.Error(t, err)
}
