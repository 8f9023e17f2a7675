package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, zerolog.DebugLevel, "json", "")

	l.Info("prediction done",
		String("class", "Sehat"),
		Int("width", 4),
		Float64("confidence", 0.75),
		Floats("probs", []float64{0.75, 0.25}),
		Bool("cached", false),
	)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "prediction done", entry["message"])
	assert.Equal(t, "Sehat", entry["class"])
	assert.Equal(t, float64(4), entry["width"])
	assert.Equal(t, 0.75, entry["confidence"])
	assert.Equal(t, []interface{}{0.75, 0.25}, entry["probs"])
	assert.Equal(t, false, entry["cached"])
}

func TestListAndDurationFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, zerolog.InfoLevel, "json", "")

	l.Info("artifacts loaded",
		Strings("labels", []string{"Sehat", "Perlu Perhatian"}),
		Duration("duration_ms", 1500*time.Millisecond),
		Error(nil),
	)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, []interface{}{"Sehat", "Perlu Perhatian"}, entry["labels"])
	assert.Equal(t, float64(1500), entry["duration_ms"])
	assert.Nil(t, Error(nil).Value)
}

func TestLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, zerolog.WarnLevel, "json", "")

	l.Info("dropped")
	assert.Zero(t, buf.Len())

	l.Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestWithCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, zerolog.InfoLevel, "json", "").With(String("component", "loader"))

	l.Info("hello")
	assert.Contains(t, buf.String(), `"component":"loader"`)
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(&Config{Level: "chatty"})
	assert.Error(t, err)
}

type capturePublisher struct {
	mu      sync.Mutex
	topic   string
	batches [][]AggregatedLogEntry
}

func (p *capturePublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic = topic
	p.batches = append(p.batches, payload.([]AggregatedLogEntry))
	return nil
}

func TestCollectorDeduplicatesErrors(t *testing.T) {
	pub := &capturePublisher{}
	l := NewWithWriter(&bytes.Buffer{}, zerolog.InfoLevel, "json", "")
	child := l.With(String("component", "loader"))
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 100, Topic: "logs", Publisher: pub})

	for i := 0; i < 3; i++ {
		child.Error("load failed", Error(errors.New("boom")))
	}
	l.Error("decode failed")
	assert.Equal(t, 2, l.sink.load().Pending())

	l.RemoveCollector()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.batches, 1)
	assert.Equal(t, "logs", pub.topic)

	counts := map[string]int{}
	for _, e := range pub.batches[0] {
		counts[e.Message] = e.Count
		assert.Contains(t, e.Caller, "logger/logger_test.go:")
		if e.Message == "load failed" {
			assert.Equal(t, "boom", e.Fields["error"])
		}
	}
	assert.Equal(t, map[string]int{"load failed": 3, "decode failed": 1}, counts)
}
