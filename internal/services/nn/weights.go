package nn

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// ShardFetcher returns the bytes of a weight shard named relative to model.json.
type ShardFetcher func(ctx context.Context, path string) ([]byte, error)

// Tensor is a dense float32 array in row-major order.
type Tensor struct {
	Name  string
	Shape []int
	Data  []float32
}

func numElements(shape []int) (int, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("%w: negative dimension in shape %v", ErrMalformed, shape)
		}
		if d > 0 && n > math.MaxInt/d {
			return 0, fmt.Errorf("%w: shape %v overflows", ErrMalformed, shape)
		}
		n *= d
	}
	return n, nil
}

// LoadWeights fetches every shard of every group and decodes the weights in manifest order.
func LoadWeights(ctx context.Context, manifest []WeightGroup, fetch ShardFetcher) ([]*Tensor, error) {
	var out []*Tensor
	for gi, group := range manifest {
		var buf []byte
		for _, p := range group.Paths {
			b, err := fetch(ctx, p)
			if err != nil {
				return nil, fmt.Errorf("weight shard %s: %w", p, err)
			}
			buf = append(buf, b...)
		}
		tensors, err := decodeGroup(group.Weights, buf)
		if err != nil {
			return nil, fmt.Errorf("weight group %d: %w", gi, err)
		}
		out = append(out, tensors...)
	}
	return out, nil
}

func decodeGroup(specs []WeightSpec, buf []byte) ([]*Tensor, error) {
	out := make([]*Tensor, 0, len(specs))
	off := 0
	for _, spec := range specs {
		n, err := numElements(spec.Shape)
		if err != nil {
			return nil, err
		}
		width, decode, err := elementDecoder(spec)
		if err != nil {
			return nil, err
		}
		if n > (len(buf)-off)/width {
			return nil, fmt.Errorf("%w: weight %s needs %d elements of %d bytes at offset %d, group has %d",
				ErrMalformed, spec.Name, n, width, off, len(buf))
		}
		size := n * width
		data := make([]float32, n)
		for i := 0; i < n; i++ {
			data[i] = decode(buf[off+i*width:])
		}
		off += size
		out = append(out, &Tensor{Name: spec.Name, Shape: spec.Shape, Data: data})
	}
	return out, nil
}

// elementDecoder returns the stored element width in bytes and a function turning
// one stored element into float32.
func elementDecoder(spec WeightSpec) (int, func([]byte) float32, error) {
	if q := spec.Quantization; q != nil {
		switch q.Dtype {
		case "uint8":
			return 1, func(b []byte) float32 { return float32(q.Min + q.Scale*float64(b[0])) }, nil
		case "uint16":
			return 2, func(b []byte) float32 {
				return float32(q.Min + q.Scale*float64(binary.LittleEndian.Uint16(b)))
			}, nil
		case "float16":
			return 2, func(b []byte) float32 { return halfToFloat(binary.LittleEndian.Uint16(b)) }, nil
		default:
			return 0, nil, fmt.Errorf("%w: weight %s quantized as %q", ErrUnsupportedModel, spec.Name, q.Dtype)
		}
	}
	switch spec.Dtype {
	case "", "float32":
		return 4, func(b []byte) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(b)) }, nil
	case "int32":
		return 4, func(b []byte) float32 { return float32(int32(binary.LittleEndian.Uint32(b))) }, nil
	default:
		return 0, nil, fmt.Errorf("%w: weight %s has dtype %q", ErrUnsupportedModel, spec.Name, spec.Dtype)
	}
}

// halfToFloat converts IEEE 754 binary16 to float32.
func halfToFloat(h uint16) float32 {
	sign := uint32(h>>15) << 31
	exp := uint32(h>>10) & 0x1f
	frac := uint32(h) & 0x3ff

	switch {
	case exp == 0 && frac == 0:
		return math.Float32frombits(sign)
	case exp == 0:
		// subnormal: renormalize
		e := uint32(127 - 15 + 1)
		for frac&0x400 == 0 {
			frac <<= 1
			e--
		}
		frac &= 0x3ff
		return math.Float32frombits(sign | e<<23 | frac<<13)
	case exp == 0x1f:
		return math.Float32frombits(sign | 0xff<<23 | frac<<13)
	default:
		return math.Float32frombits(sign | (exp+127-15)<<23 | frac<<13)
	}
}

// weightSet hands out decoded weights to layers, by name when possible and in manifest
// order otherwise.
type weightSet struct {
	tensors []*Tensor
	used    []bool
}

func newWeightSet(tensors []*Tensor) *weightSet {
	return &weightSet{tensors: tensors, used: make([]bool, len(tensors))}
}

func (w *weightSet) take(layer, param string) (*Tensor, error) {
	suffix := layer + "/" + param
	for i, t := range w.tensors {
		if !w.used[i] && (t.Name == suffix || strings.HasSuffix(t.Name, "/"+suffix)) {
			w.used[i] = true
			return t, nil
		}
	}
	for i, t := range w.tensors {
		if !w.used[i] && (t.Name == param || strings.HasSuffix(t.Name, "/"+param)) {
			w.used[i] = true
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: no %s weight left for layer %s", ErrMalformed, param, layer)
}

func (w *weightSet) unused() []string {
	var names []string
	for i, t := range w.tensors {
		if !w.used[i] {
			names = append(names, t.Name)
		}
	}
	return names
}
