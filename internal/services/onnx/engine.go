package onnx

import (
	"context"
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	ErrInputWidth = errors.New("onnx: input width mismatch")
	// ErrRuntime means the onnxruntime library could not be started. The model was not looked at.
	ErrRuntime = errors.New("onnx: runtime unavailable")
)

type Options struct {
	// LibraryPath points at the onnxruntime shared library. Empty uses the loader's default.
	LibraryPath string
	// InputName and OutputName select the graph tensors; empty picks the first of each.
	InputName  string
	OutputName string
}

var envMu sync.Mutex

// initEnvironment initializes the process-wide runtime once.
func initEnvironment(libraryPath string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("%w: initialize environment: %w", ErrRuntime, err)
	}
	return nil
}

// Engine runs a single-input single-output classifier exported to ONNX.
type Engine struct {
	session    *ort.DynamicAdvancedSession
	inputName  string
	outputName string
	in         int
	out        int
}

// Load creates a session from the raw .onnx bytes.
func Load(data []byte, opts Options) (*Engine, error) {
	if err := initEnvironment(opts.LibraryPath); err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfoWithONNXData(data)
	if err != nil {
		return nil, fmt.Errorf("failed to read model inputs: %w", err)
	}
	inInfo, err := pick(inputs, opts.InputName, "input")
	if err != nil {
		return nil, err
	}
	outInfo, err := pick(outputs, opts.OutputName, "output")
	if err != nil {
		return nil, err
	}

	in := lastDim(inInfo.Dimensions)
	if in <= 0 {
		return nil, fmt.Errorf("onnx: input %q has no static feature dimension: %v", inInfo.Name, inInfo.Dimensions)
	}

	session, err := ort.NewDynamicAdvancedSessionWithONNXData(data,
		[]string{inInfo.Name}, []string{outInfo.Name}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &Engine{
		session:    session,
		inputName:  inInfo.Name,
		outputName: outInfo.Name,
		in:         in,
		out:        lastDim(outInfo.Dimensions),
	}, nil
}

func pick(infos []ort.InputOutputInfo, name, kind string) (ort.InputOutputInfo, error) {
	if len(infos) == 0 {
		return ort.InputOutputInfo{}, fmt.Errorf("onnx: model declares no %s", kind)
	}
	if name == "" {
		return infos[0], nil
	}
	for _, info := range infos {
		if info.Name == name {
			return info, nil
		}
	}
	return ort.InputOutputInfo{}, fmt.Errorf("onnx: model has no %s named %q", kind, name)
}

func lastDim(s ort.Shape) int {
	if len(s) == 0 {
		return 0
	}
	return int(s[len(s)-1])
}

// Predict feeds one [1, in] row. Each call owns its tensors, so calls may run concurrently.
func (e *Engine) Predict(ctx context.Context, row []float64) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(row) != e.in {
		return nil, fmt.Errorf("%w: got %d features, model expects %d", ErrInputWidth, len(row), e.in)
	}

	data := make([]float32, len(row))
	for i, v := range row {
		data[i] = float32(v)
	}
	input, err := ort.NewTensor(ort.NewShape(1, int64(e.in)), data)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer input.Destroy()

	// a nil output is allocated by the runtime when the width is dynamic
	outputs := []ort.ArbitraryTensor{nil}
	if e.out > 0 {
		t, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(e.out)))
		if err != nil {
			return nil, fmt.Errorf("failed to create output tensor: %w", err)
		}
		outputs[0] = t
	}
	defer func() {
		if outputs[0] != nil {
			outputs[0].Destroy()
		}
	}()

	if err := e.session.Run([]ort.ArbitraryTensor{input}, outputs); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	t, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("onnx: output %q is not a float32 tensor", e.outputName)
	}
	raw := t.GetData()
	out := make([]float64, len(raw))
	for i, v := range raw {
		out[i] = float64(v)
	}
	return out, nil
}

func (e *Engine) InputWidth() int { return e.in }

// OutputWidth is 0 when the graph leaves the class dimension dynamic.
func (e *Engine) OutputWidth() int { return e.out }

func (e *Engine) Close() error {
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	return err
}
