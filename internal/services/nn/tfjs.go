package nn

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnsupportedModel = errors.New("nn: unsupported model format")
	ErrUnsupportedLayer = errors.New("nn: unsupported layer")
	ErrMalformed        = errors.New("nn: malformed model")
	ErrInputWidth       = errors.New("nn: input width mismatch")
)

const formatLayersModel = "layers-model"

// ModelJSON is the model.json written by the TensorFlow.js converter.
type ModelJSON struct {
	Format          string          `json:"format"`
	GeneratedBy     string          `json:"generatedBy"`
	ConvertedBy     string          `json:"convertedBy"`
	ModelTopology   json.RawMessage `json:"modelTopology"`
	WeightsManifest []WeightGroup   `json:"weightsManifest"`
}

// WeightGroup lists weights stored contiguously across the concatenation of Paths.
type WeightGroup struct {
	Paths   []string     `json:"paths"`
	Weights []WeightSpec `json:"weights"`
}

type WeightSpec struct {
	Name         string        `json:"name"`
	Shape        []int         `json:"shape"`
	Dtype        string        `json:"dtype"`
	Quantization *Quantization `json:"quantization,omitempty"`
}

type Quantization struct {
	Dtype string  `json:"dtype"`
	Min   float64 `json:"min"`
	Scale float64 `json:"scale"`
}

type topology struct {
	ClassName   string          `json:"class_name"`
	Config      json.RawMessage `json:"config"`
	ModelConfig *topology       `json:"model_config"`
}

type sequentialConfig struct {
	Name   string      `json:"name"`
	Layers []layerJSON `json:"layers"`
}

type layerJSON struct {
	ClassName string      `json:"class_name"`
	Config    layerConfig `json:"config"`
}

type layerConfig struct {
	Name            string          `json:"name"`
	Units           int             `json:"units"`
	Activation      json.RawMessage `json:"activation"`
	UseBias         *bool           `json:"use_bias"`
	BatchInputShape []*int          `json:"batch_input_shape"`
	BatchShape      []*int          `json:"batch_shape"`
	InputShape      []*int          `json:"input_shape"`
	Rate            float64         `json:"rate"`
}

// ParseModelJSON decodes model.json and checks that it is a layers model.
func ParseModelJSON(b []byte) (*ModelJSON, error) {
	var m ModelJSON
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if m.Format != "" && m.Format != formatLayersModel {
		return nil, fmt.Errorf("%w: format %q, only %q is supported", ErrUnsupportedModel, m.Format, formatLayersModel)
	}
	if len(m.ModelTopology) == 0 {
		return nil, fmt.Errorf("%w: missing modelTopology", ErrMalformed)
	}
	return &m, nil
}

// layers returns the Sequential layer list, unwrapping the model_config envelope that
// HDF5 conversions produce and accepting the old list-valued config.
func (m *ModelJSON) layers() (string, []layerJSON, error) {
	var top topology
	if err := json.Unmarshal(m.ModelTopology, &top); err != nil {
		return "", nil, fmt.Errorf("%w: modelTopology: %v", ErrMalformed, err)
	}
	if top.ModelConfig != nil {
		top = *top.ModelConfig
	}
	if top.ClassName != "Sequential" {
		return "", nil, fmt.Errorf("%w: model class %q, only Sequential is supported", ErrUnsupportedModel, top.ClassName)
	}

	var cfg sequentialConfig
	if err := json.Unmarshal(top.Config, &cfg); err != nil {
		var list []layerJSON
		if lerr := json.Unmarshal(top.Config, &list); lerr != nil {
			return "", nil, fmt.Errorf("%w: sequential config: %v", ErrMalformed, err)
		}
		cfg.Layers = list
	}
	if len(cfg.Layers) == 0 {
		return "", nil, fmt.Errorf("%w: sequential model has no layers", ErrMalformed)
	}
	return cfg.Name, cfg.Layers, nil
}

// declaredInputWidth reads the last dimension of whichever input shape the layer declares.
func (c *layerConfig) declaredInputWidth() int {
	for _, shape := range [][]*int{c.BatchInputShape, c.BatchShape} {
		if len(shape) >= 2 && shape[len(shape)-1] != nil {
			return *shape[len(shape)-1]
		}
	}
	if len(c.InputShape) >= 1 && c.InputShape[len(c.InputShape)-1] != nil {
		return *c.InputShape[len(c.InputShape)-1]
	}
	return 0
}

// activationName accepts "relu" as well as the object forms Keras writes for serialized
// functions, e.g. {"class_name": "function", "config": "relu", "registered_name": "relu"}.
func (c *layerConfig) activationName() (string, error) {
	if len(c.Activation) == 0 || string(c.Activation) == "null" {
		return "linear", nil
	}
	var s string
	if err := json.Unmarshal(c.Activation, &s); err == nil {
		return s, nil
	}
	var obj struct {
		ClassName      string          `json:"class_name"`
		Config         json.RawMessage `json:"config"`
		RegisteredName string          `json:"registered_name"`
	}
	if err := json.Unmarshal(c.Activation, &obj); err != nil {
		return "", fmt.Errorf("%w: activation of %s: %v", ErrMalformed, c.Name, err)
	}
	if err := json.Unmarshal(obj.Config, &s); err == nil && s != "" {
		return s, nil
	}
	if obj.RegisteredName != "" {
		return obj.RegisteredName, nil
	}
	var named struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(obj.Config, &named); err == nil && named.Name != "" {
		return named.Name, nil
	}
	return obj.ClassName, nil
}
