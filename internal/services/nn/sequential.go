package nn

import (
	"context"
	"fmt"
)

// Sequential is a loaded TF.js layers model restricted to a chain of dense layers.
// It is immutable after Load and safe for concurrent use.
type Sequential struct {
	name   string
	in     int
	out    int
	layers []layer
}

// Load parses model.json, fetches its weight shards through fetch and builds the layer chain.
func Load(ctx context.Context, modelJSON []byte, fetch ShardFetcher) (*Sequential, error) {
	m, err := ParseModelJSON(modelJSON)
	if err != nil {
		return nil, err
	}
	name, specs, err := m.layers()
	if err != nil {
		return nil, err
	}
	tensors, err := LoadWeights(ctx, m.WeightsManifest, fetch)
	if err != nil {
		return nil, err
	}
	return build(name, specs, newWeightSet(tensors))
}

func build(name string, specs []layerJSON, weights *weightSet) (*Sequential, error) {
	s := &Sequential{name: name}
	width := 0
	for i, spec := range specs {
		cfg := spec.Config
		if i == 0 || width == 0 {
			if w := cfg.declaredInputWidth(); w > 0 {
				width = w
			}
		}
		if s.in == 0 {
			s.in = width
		}

		switch {
		case passThroughLayers[spec.ClassName]:
			s.layers = append(s.layers, identity{})
		case spec.ClassName == "Activation":
			an, err := cfg.activationName()
			if err != nil {
				return nil, err
			}
			act, err := lookupActivation(an)
			if err != nil {
				return nil, err
			}
			s.layers = append(s.layers, &activationLayer{act: act})
		case spec.ClassName == "Dense":
			d, err := buildDense(cfg, width, weights)
			if err != nil {
				return nil, err
			}
			s.layers = append(s.layers, d)
		default:
			return nil, fmt.Errorf("%w: %s (%s)", ErrUnsupportedLayer, spec.ClassName, cfg.Name)
		}
		width = s.layers[len(s.layers)-1].outWidth(width)
	}

	if s.in <= 0 {
		return nil, fmt.Errorf("%w: input width is not declared", ErrMalformed)
	}
	if left := weights.unused(); len(left) > 0 {
		return nil, fmt.Errorf("%w: weights not used by any layer: %v", ErrMalformed, left)
	}
	s.out = width
	return s, nil
}

func buildDense(cfg layerConfig, in int, weights *weightSet) (*dense, error) {
	if cfg.Units <= 0 {
		return nil, fmt.Errorf("%w: dense layer %s has %d units", ErrMalformed, cfg.Name, cfg.Units)
	}
	if in <= 0 {
		return nil, fmt.Errorf("%w: dense layer %s has no known input width", ErrMalformed, cfg.Name)
	}
	an, err := cfg.activationName()
	if err != nil {
		return nil, err
	}
	act, err := lookupActivation(an)
	if err != nil {
		return nil, err
	}

	kernel, err := weights.take(cfg.Name, "kernel")
	if err != nil {
		return nil, err
	}
	if len(kernel.Shape) != 2 || kernel.Shape[0] != in || kernel.Shape[1] != cfg.Units {
		return nil, fmt.Errorf("%w: %s has shape %v, want [%d %d]", ErrMalformed, kernel.Name, kernel.Shape, in, cfg.Units)
	}
	d := &dense{name: cfg.Name, in: in, out: cfg.Units, kernel: kernel.Data, act: act}

	if cfg.UseBias == nil || *cfg.UseBias {
		bias, err := weights.take(cfg.Name, "bias")
		if err != nil {
			return nil, err
		}
		if len(bias.Shape) != 1 || bias.Shape[0] != cfg.Units {
			return nil, fmt.Errorf("%w: %s has shape %v, want [%d]", ErrMalformed, bias.Name, bias.Shape, cfg.Units)
		}
		d.bias = bias.Data
	}
	return d, nil
}

// Predict runs one row through the network. Computation is float32, like the TF.js
// runtime, and the result is widened to float64.
func (s *Sequential) Predict(ctx context.Context, row []float64) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(row) != s.in {
		return nil, fmt.Errorf("%w: got %d features, model expects %d", ErrInputWidth, len(row), s.in)
	}
	x := make([]float32, len(row))
	for i, v := range row {
		x[i] = float32(v)
	}
	for _, l := range s.layers {
		x = l.forward(x)
	}
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = float64(v)
	}
	return out, nil
}

func (s *Sequential) Name() string     { return s.name }
func (s *Sequential) InputWidth() int  { return s.in }
func (s *Sequential) OutputWidth() int { return s.out }
func (s *Sequential) Close() error     { return nil }
