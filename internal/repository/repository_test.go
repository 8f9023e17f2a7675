package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"BizHealth/internal/domain/models"
	"BizHealth/pkg/cache"
	pkgkafka "BizHealth/pkg/kafka"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredictionCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	mc := cache.NewMemoryCache()
	defer mc.Close()
	c := NewPredictionCache(mc)

	_, ok, err := c.Get(ctx, "pred:x:1")
	require.NoError(t, err)
	assert.False(t, ok)

	want := &models.PredictionResult{PredictedClass: "Sehat", ClassIndex: 3, Confidence: 0.7, Probabilities: []float64{0.1, 0.1, 0.1, 0.7}}
	require.NoError(t, c.Set(ctx, "pred:x:1", want, time.Minute))

	got, ok, err := c.Get(ctx, "pred:x:1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, got)
}

type memWriter struct{ msgs []kafka.Message }

func (w *memWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}
func (w *memWriter) Close() error { return nil }

func TestKafkaPredictionPublisherKeysByStore(t *testing.T) {
	w := &memWriter{}
	p := NewKafkaPredictionPublisher(pkgkafka.NewProducerWithWriter(w, "snappy"), "umkm.health_predictions")

	require.NoError(t, p.Publish(context.Background(), &models.HealthPredictionMessage{
		Store:        "warung-42",
		HealthStatus: "Perlu Perhatian",
		Confidence:   0.61,
	}))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "umkm.health_predictions", w.msgs[0].Topic)
	assert.Equal(t, "warung-42", string(w.msgs[0].Key))

	var got models.HealthPredictionMessage
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, "Perlu Perhatian", got.HealthStatus)
}
