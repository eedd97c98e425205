package explain

import (
	"fmt"
	"math/rand"
)

// KernelExplainer estimates Shapley values by sampling feature
// permutations against a background of representative rows and measuring
// the marginal change in the classifier's positive-class probability.
// It has no structural requirements on the model, at the cost of
// background-size x sample-budget classifier invocations per explained
// row. Estimates are stochastic; the same seed reproduces them.
type KernelExplainer struct {
	predict    func([][]float64) ([]float64, error)
	background [][]float64
	samples    int
	rng        *rand.Rand
}

// NewKernelExplainer builds the sampling explainer. The background must be
// non-empty and already transformed into feature space.
func NewKernelExplainer(predict func([][]float64) ([]float64, error), background [][]float64, samples int, seed int64) (*KernelExplainer, error) {
	if len(background) == 0 {
		return nil, fmt.Errorf("kernel explainer needs a non-empty background sample")
	}
	if samples <= 0 {
		samples = 100
	}
	return &KernelExplainer{
		predict:    predict,
		background: background,
		samples:    samples,
		rng:        rand.New(rand.NewSource(seed)),
	}, nil
}

func (e *KernelExplainer) Name() string { return "kernel" }

// ShapValues estimates probability-space contributions for one row.
// Each sampling iteration draws a background row and a feature
// permutation, then walks the permutation switching features from the
// background value to the explained value, crediting each feature with
// the probability delta its switch caused.
func (e *KernelExplainer) ShapValues(x []float64) ([][]float64, error) {
	width := len(x)
	for _, b := range e.background {
		if len(b) != width {
			return nil, fmt.Errorf("background width %d does not match row width %d", len(b), width)
		}
	}

	phi := make([]float64, width)
	batch := make([][]float64, width+1)
	cur := make([]float64, width)

	for s := 0; s < e.samples; s++ {
		bg := e.background[e.rng.Intn(len(e.background))]
		perm := e.rng.Perm(width)

		copy(cur, bg)
		batch[0] = append([]float64(nil), cur...)
		for i, f := range perm {
			cur[f] = x[f]
			batch[i+1] = append([]float64(nil), cur...)
		}

		probs, err := e.predict(batch)
		if err != nil {
			return nil, fmt.Errorf("kernel evaluation: %w", err)
		}
		if len(probs) != width+1 {
			return nil, fmt.Errorf("kernel evaluation returned %d probabilities for %d rows", len(probs), width+1)
		}
		for i, f := range perm {
			phi[f] += probs[i+1] - probs[i]
		}
	}

	for i := range phi {
		phi[i] /= float64(e.samples)
	}
	return [][]float64{phi}, nil
}
