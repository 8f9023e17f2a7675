package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorderCounts(t *testing.T) {
	r := NewWithRegisterer(prometheus.NewRegistry())

	r.RecordPrediction("Sehat")
	r.RecordPrediction("Sehat")
	r.RecordError("decode")
	r.RecordArtifactLoad("scaler", "file", nil)
	r.RecordArtifactLoad("scaler", "file", errors.New("missing"))
	r.RecordLatency("infer", 0.002)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.predictions.WithLabelValues("Sehat")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.errorsTotal.WithLabelValues("decode")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.artifactLoads.WithLabelValues("scaler", "file", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.artifactLoads.WithLabelValues("scaler", "file", "error")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.stageDuration))
}
