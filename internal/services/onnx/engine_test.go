package onnx

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ort "github.com/yalue/onnxruntime_go"
)

// These tests need the onnxruntime shared library and a small classifier exported to ONNX:
//
//	ONNXRUNTIME_LIB=/usr/lib/libonnxruntime.so BIZHEALTH_ONNX_MODEL=testdata/model.onnx go test ./...
func loadFromEnv(t *testing.T) *Engine {
	t.Helper()
	lib, modelPath := os.Getenv("ONNXRUNTIME_LIB"), os.Getenv("BIZHEALTH_ONNX_MODEL")
	if lib == "" || modelPath == "" {
		t.Skip("ONNXRUNTIME_LIB and BIZHEALTH_ONNX_MODEL not set")
	}
	data, err := os.ReadFile(modelPath)
	require.NoError(t, err)

	e, err := Load(data, Options{LibraryPath: lib})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestEnginePredict(t *testing.T) {
	e := loadFromEnv(t)
	require.Positive(t, e.InputWidth())

	out, err := e.Predict(context.Background(), make([]float64, e.InputWidth()))
	require.NoError(t, err)
	require.NotEmpty(t, out)
	if e.OutputWidth() > 0 {
		assert.Len(t, out, e.OutputWidth())
	}
}

func TestEngineRejectsWrongWidth(t *testing.T) {
	e := loadFromEnv(t)
	_, err := e.Predict(context.Background(), make([]float64, e.InputWidth()+1))
	assert.ErrorIs(t, err, ErrInputWidth)
}

func TestPick(t *testing.T) {
	infos := []ort.InputOutputInfo{{Name: "dense_input"}, {Name: "mask"}}

	got, err := pick(infos, "", "input")
	require.NoError(t, err)
	assert.Equal(t, "dense_input", got.Name)

	got, err = pick(infos, "mask", "input")
	require.NoError(t, err)
	assert.Equal(t, "mask", got.Name)

	_, err = pick(infos, "missing", "input")
	assert.Error(t, err)
	_, err = pick(nil, "", "output")
	assert.Error(t, err)
}

func TestLastDim(t *testing.T) {
	assert.Equal(t, 6, lastDim(ort.NewShape(-1, 6)))
	assert.Equal(t, -1, lastDim(ort.NewShape(1, -1)))
	assert.Equal(t, 0, lastDim(nil))
}
