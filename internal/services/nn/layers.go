package nn

import (
	"fmt"
	"math"
)

type layer interface {
	forward(in []float32) []float32
	outWidth(inWidth int) int
}

type activation func(v []float32)

var activations = map[string]activation{
	"linear":       func([]float32) {},
	"relu":         mapEach(func(x float64) float64 { return math.Max(0, x) }),
	"relu6":        mapEach(func(x float64) float64 { return math.Min(6, math.Max(0, x)) }),
	"elu":          mapEach(elu),
	"selu":         mapEach(selu),
	"sigmoid":      mapEach(sigmoid),
	"hard_sigmoid": mapEach(func(x float64) float64 { return math.Min(1, math.Max(0, 0.2*x+0.5)) }),
	"tanh":         mapEach(math.Tanh),
	"softplus":     mapEach(func(x float64) float64 { return math.Log1p(math.Exp(x)) }),
	"softsign":     mapEach(func(x float64) float64 { return x / (1 + math.Abs(x)) }),
	"swish":        mapEach(func(x float64) float64 { return x * sigmoid(x) }),
	"silu":         mapEach(func(x float64) float64 { return x * sigmoid(x) }),
	"softmax":      softmax,
}

func lookupActivation(name string) (activation, error) {
	switch name {
	case "hardSigmoid":
		name = "hard_sigmoid"
	case "", "identity":
		name = "linear"
	}
	a, ok := activations[name]
	if !ok {
		return nil, fmt.Errorf("%w: activation %q", ErrUnsupportedLayer, name)
	}
	return a, nil
}

func mapEach(f func(float64) float64) activation {
	return func(v []float32) {
		for i, x := range v {
			v[i] = float32(f(float64(x)))
		}
	}
}

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

func elu(x float64) float64 {
	if x > 0 {
		return x
	}
	return math.Expm1(x)
}

func selu(x float64) float64 {
	const (
		alpha = 1.6732632423543772848170429916717
		scale = 1.0507009873554804934193349852946
	)
	if x > 0 {
		return scale * x
	}
	return scale * alpha * math.Expm1(x)
}

// softmax subtracts the row maximum before exponentiating.
func softmax(v []float32) {
	if len(v) == 0 {
		return
	}
	maxV := v[0]
	for _, x := range v[1:] {
		if x > maxV {
			maxV = x
		}
	}
	var sum float32
	for i, x := range v {
		e := float32(math.Exp(float64(x - maxV)))
		v[i] = e
		sum += e
	}
	for i := range v {
		v[i] /= sum
	}
}

// dense computes act(x·W + b) with W stored [in, out] row-major.
type dense struct {
	name   string
	in     int
	out    int
	kernel []float32
	bias   []float32
	act    activation
}

func (d *dense) forward(x []float32) []float32 {
	y := make([]float32, d.out)
	if d.bias != nil {
		copy(y, d.bias)
	}
	for i := 0; i < d.in; i++ {
		xi := x[i]
		if xi == 0 {
			continue
		}
		row := d.kernel[i*d.out : (i+1)*d.out]
		for j, w := range row {
			y[j] += xi * w
		}
	}
	d.act(y)
	return y
}

func (d *dense) outWidth(int) int { return d.out }

// activationLayer is a standalone Activation layer.
type activationLayer struct{ act activation }

func (a *activationLayer) forward(x []float32) []float32 {
	y := append([]float32(nil), x...)
	a.act(y)
	return y
}

func (a *activationLayer) outWidth(in int) int { return in }

// identity covers layers that only act during training, plus InputLayer and Flatten on
// a rank-2 input.
type identity struct{}

func (identity) forward(x []float32) []float32 { return x }
func (identity) outWidth(in int) int           { return in }

var passThroughLayers = map[string]bool{
	"InputLayer":      true,
	"Dropout":         true,
	"GaussianNoise":   true,
	"GaussianDropout": true,
	"AlphaDropout":    true,
	"Flatten":         true,
}
