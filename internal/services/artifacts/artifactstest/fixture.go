// Package artifactstest writes small but complete artifact sets for tests.
package artifactstest

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"
)

// Labels are the classes of the weekly health classifier, in LabelEncoder order.
var Labels = []string{"Cukup Sehat", "Perlu Penanganan Khusus", "Perlu Perhatian", "Sehat"}

// Fixture describes what Write puts on disk. Zero values take the defaults of Default().
type Fixture struct {
	Inputs int
	Hidden int
	Labels []string
	// Mean and Scale go into scaler_params.json; nil writes a min-max scaler instead.
	Mean  []float64
	Scale []float64
	// Outputs overrides the width of the final layer, to build mismatched bundles.
	Outputs int
}

func Default() Fixture {
	return Fixture{
		Inputs: 6,
		Hidden: 8,
		Labels: Labels,
		Mean:   []float64{2500000, 2100000, 10, 2, 1e-5, 0.45},
		Scale:  []float64{800000, 700000, 4, 1.5, 2e-5, 0.1},
	}
}

// Paths are the files Write created, relative to Dir.
type Paths struct {
	Dir    string
	Model  string
	Scaler string
	Labels string
}

// Write lays out tfjs_model/model.json, its weight shard, scaler_params.json and
// label_classes.json under a fresh temp dir.
func Write(t testing.TB, f Fixture) Paths {
	t.Helper()
	dir := t.TempDir()
	p := Paths{
		Dir:    dir,
		Model:  "tfjs_model/model.json",
		Scaler: "scaler_params.json",
		Labels: "label_classes.json",
	}
	out := f.Outputs
	if out == 0 {
		out = len(f.Labels)
	}

	modelJSON, shard := ModelFiles(f.Inputs, f.Hidden, out)
	mustWrite(t, filepath.Join(dir, p.Model), modelJSON)
	mustWrite(t, filepath.Join(dir, "tfjs_model", "group1-shard1of1.bin"), shard)

	var scaler map[string][]float64
	if f.Mean != nil {
		scaler = map[string][]float64{"mean_": f.Mean, "scale_": f.Scale}
	} else {
		lo, rng := make([]float64, f.Inputs), make([]float64, f.Inputs)
		for i := range rng {
			rng[i] = 1
		}
		scaler = map[string][]float64{"data_min_": lo, "data_range_": rng}
	}
	mustWrite(t, filepath.Join(dir, p.Scaler), mustJSON(t, scaler))
	mustWrite(t, filepath.Join(dir, p.Labels), mustJSON(t, f.Labels))
	return p
}

// ModelFiles returns a layers-model model.json and its single shard for
// Dense(hidden, relu) -> Dropout -> Dense(out, softmax). Weights are fixed, so outputs
// are reproducible across runs.
func ModelFiles(in, hidden, out int) ([]byte, []byte) {
	type spec struct {
		Name  string `json:"name"`
		Shape []int  `json:"shape"`
		Dtype string `json:"dtype"`
	}
	doc := map[string]interface{}{
		"format":      "layers-model",
		"generatedBy": "keras v2.15.0",
		"convertedBy": "TensorFlow.js Converter v4.17.0",
		"modelTopology": map[string]interface{}{
			"class_name": "Sequential",
			"config": map[string]interface{}{
				"name": "sequential",
				"layers": []map[string]interface{}{
					{"class_name": "InputLayer", "config": map[string]interface{}{"name": "input_1", "batch_input_shape": []interface{}{nil, in}}},
					{"class_name": "Dense", "config": map[string]interface{}{"name": "dense", "units": hidden, "activation": "relu", "use_bias": true}},
					{"class_name": "Dropout", "config": map[string]interface{}{"name": "dropout", "rate": 0.3}},
					{"class_name": "Dense", "config": map[string]interface{}{"name": "dense_1", "units": out, "activation": "softmax", "use_bias": true}},
				},
			},
		},
		"weightsManifest": []map[string]interface{}{{
			"paths": []string{"group1-shard1of1.bin"},
			"weights": []spec{
				{"dense/kernel", []int{in, hidden}, "float32"},
				{"dense/bias", []int{hidden}, "float32"},
				{"dense_1/kernel", []int{hidden, out}, "float32"},
				{"dense_1/bias", []int{out}, "float32"},
			},
		}},
	}
	b, _ := json.Marshal(doc)

	var shard []byte
	seed := 1
	for _, n := range []int{in * hidden, hidden, hidden * out, out} {
		for i := 0; i < n; i++ {
			w := float32(0.5 * math.Sin(float64(seed)*1.7))
			shard = binary.LittleEndian.AppendUint32(shard, math.Float32bits(w))
			seed++
		}
	}
	return b, shard
}

func mustJSON(t testing.TB, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	return b
}

func mustWrite(t testing.TB, path string, b []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
}
