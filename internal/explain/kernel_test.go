package explain

import (
	"fmt"
	"math"
	"testing"
)

// linearPredict is an additive scoring function. For additive functions
// the permutation estimator is exact on every sample, so the test can
// assert precise values rather than statistical tolerance.
func linearPredict(weights []float64) func([][]float64) ([]float64, error) {
	return func(rows [][]float64) ([]float64, error) {
		out := make([]float64, len(rows))
		for i, x := range rows {
			for f, w := range weights {
				out[i] += w * x[f]
			}
		}
		return out, nil
	}
}

func TestKernelExplainerExactOnAdditiveFunctions(t *testing.T) {
	t.Parallel()

	weights := []float64{0.5, -0.25, 1.0}
	bg := [][]float64{{1, 2, 3}}
	e, err := NewKernelExplainer(linearPredict(weights), bg, 20, 7)
	if err != nil {
		t.Fatal(err)
	}

	x := []float64{3, 0, -1}
	vecs, err := e.ShapValues(x)
	if err != nil {
		t.Fatal(err)
	}
	phi := vecs[0]
	for f, w := range weights {
		want := w * (x[f] - bg[0][f])
		if math.Abs(phi[f]-want) > 1e-9 {
			t.Errorf("feature %d: phi = %v, want %v", f, phi[f], want)
		}
	}
}

func TestKernelExplainerSeedDeterminism(t *testing.T) {
	t.Parallel()

	// A non-additive function so sampling order actually matters.
	predict := func(rows [][]float64) ([]float64, error) {
		out := make([]float64, len(rows))
		for i, x := range rows {
			out[i] = x[0] * x[1]
		}
		return out, nil
	}
	bg := [][]float64{{0, 1}, {2, 3}, {-1, 0.5}}

	run := func(seed int64) []float64 {
		e, err := NewKernelExplainer(predict, bg, 50, seed)
		if err != nil {
			t.Fatal(err)
		}
		vecs, err := e.ShapValues([]float64{2, -1})
		if err != nil {
			t.Fatal(err)
		}
		return vecs[0]
	}

	a, b := run(11), run(11)
	for f := range a {
		if a[f] != b[f] {
			t.Errorf("feature %d differs across identical seeds: %v vs %v", f, a[f], b[f])
		}
	}
}

func TestKernelExplainerValidation(t *testing.T) {
	t.Parallel()

	predict := linearPredict([]float64{1, 1})

	if _, err := NewKernelExplainer(predict, nil, 10, 0); err == nil {
		t.Fatal("empty background must be rejected")
	}

	e, err := NewKernelExplainer(predict, [][]float64{{1, 2}}, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.ShapValues([]float64{1, 2, 3}); err == nil {
		t.Fatal("row width mismatch must be rejected")
	}
}

func TestKernelExplainerPropagatesPredictErrors(t *testing.T) {
	t.Parallel()

	predict := func([][]float64) ([]float64, error) {
		return nil, fmt.Errorf("model gone")
	}
	e, err := NewKernelExplainer(predict, [][]float64{{0, 0}}, 5, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.ShapValues([]float64{1, 1}); err == nil {
		t.Fatal("expected evaluation error")
	}
}
