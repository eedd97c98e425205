package explain

import (
	"fmt"

	"fraudlens/internal/model"
)

// Explainer assigns a signed contribution weight to each transformed
// feature of a single row. Implementations may return one weight vector
// per class; the service normalizes that shape.
type Explainer interface {
	Name() string
	ShapValues(x []float64) ([][]float64, error)
}

// TreeExplainer computes exact Shapley values for a boosted-tree ensemble
// by walking the tree structure with cover-weighted path fractions. No
// background sample or model evaluation is needed.
type TreeExplainer struct {
	ens *model.Booster
	// perClass mirrors wrapper-level tree explainers, which emit one
	// vector per class (the negative class being the mirror of the
	// positive one for binary logistic ensembles).
	perClass bool
}

// NewTreeExplainer builds the structural explainer from a raw booster.
func NewTreeExplainer(b *model.Booster) *TreeExplainer {
	return &TreeExplainer{ens: b}
}

// NewTreeExplainerFromClassifier builds the structural explainer through
// wrapper-level introspection. It serves tree models whose raw booster
// accessor fails (legacy layouts) and fails for non-tree models.
func NewTreeExplainerFromClassifier(c *model.Classifier) (*TreeExplainer, error) {
	ens, err := c.TreeEnsemble()
	if err != nil {
		return nil, fmt.Errorf("wrapper tree introspection: %w", err)
	}
	return &TreeExplainer{ens: ens, perClass: true}, nil
}

func (e *TreeExplainer) Name() string {
	if e.perClass {
		return "wrapper-tree"
	}
	return "native-tree"
}

// ExpectedValue is the baseline margin the contributions are measured
// against: sum over all features of phi plus this equals the row's margin.
func (e *TreeExplainer) ExpectedValue() float64 {
	return e.ens.ExpectedMargin()
}

// ShapValues returns margin-space contributions for one row.
func (e *TreeExplainer) ShapValues(x []float64) ([][]float64, error) {
	if len(x) != e.ens.NumFeatures {
		return nil, fmt.Errorf("row width %d does not match ensemble width %d", len(x), e.ens.NumFeatures)
	}
	phi := make([]float64, e.ens.NumFeatures)
	for i := range e.ens.Trees {
		treeShap(&e.ens.Trees[i], x, phi)
	}
	if !e.perClass {
		return [][]float64{phi}, nil
	}
	neg := make([]float64, len(phi))
	for i, v := range phi {
		neg[i] = -v
	}
	return [][]float64{neg, phi}, nil
}

// pathElem is one entry of the unique feature path maintained by the
// polynomial-time tree Shapley recursion.
type pathElem struct {
	feature int
	zero    float64 // fraction of background paths flowing through
	one     float64 // 1 if the explained row follows this split, else 0
	weight  float64 // permutation weight for the subset size at this depth
}

func treeShap(t *model.Tree, x []float64, phi []float64) {
	shapRecurse(t, x, phi, 0, nil, 1, 1, -1)
}

func shapRecurse(t *model.Tree, x []float64, phi []float64, node int, parent []pathElem, parentZero, parentOne float64, parentFeature int) {
	path := extendPath(parent, parentZero, parentOne, parentFeature)
	n := &t.Nodes[node]

	if n.Leaf {
		for i := 1; i < len(path); i++ {
			w := unwoundPathSum(path, i)
			el := path[i]
			phi[el.feature] += w * (el.one - el.zero) * n.Value
		}
		return
	}

	hot, cold := n.Right, n.Left
	if x[n.Feature] < n.Threshold {
		hot, cold = n.Left, n.Right
	}
	hotZero := t.Nodes[hot].Cover / n.Cover
	coldZero := t.Nodes[cold].Cover / n.Cover

	incomingZero, incomingOne := 1.0, 1.0
	if k := findFeature(path, n.Feature); k >= 0 {
		incomingZero, incomingOne = path[k].zero, path[k].one
		path = unwindPath(path, k)
	}

	shapRecurse(t, x, phi, hot, path, incomingZero*hotZero, incomingOne, n.Feature)
	shapRecurse(t, x, phi, cold, path, incomingZero*coldZero, 0, n.Feature)
}

// extendPath grows the unique path with a new split, redistributing the
// permutation weights across subset sizes. The parent slice is never
// mutated; recursion branches share it.
func extendPath(parent []pathElem, zero, one float64, feature int) []pathElem {
	m := len(parent)
	path := make([]pathElem, m+1)
	copy(path, parent)
	w := 0.0
	if m == 0 {
		w = 1.0
	}
	path[m] = pathElem{feature: feature, zero: zero, one: one, weight: w}
	for i := m - 1; i >= 0; i-- {
		path[i+1].weight += one * path[i].weight * float64(i+1) / float64(m+1)
		path[i].weight = zero * path[i].weight * float64(m-i) / float64(m+1)
	}
	return path
}

// unwindPath removes element i, reversing the weight redistribution that
// extendPath applied when it was added.
func unwindPath(p []pathElem, i int) []pathElem {
	l := len(p) - 1
	one, zero := p[i].one, p[i].zero
	out := make([]pathElem, l)
	copy(out, p[:l])

	next := p[l].weight
	for j := l - 1; j >= 0; j-- {
		if one != 0 {
			tmp := out[j].weight
			out[j].weight = next * float64(l+1) / (float64(j+1) * one)
			next = tmp - out[j].weight*zero*float64(l-j)/float64(l+1)
		} else {
			out[j].weight = out[j].weight * float64(l+1) / (zero * float64(l-j))
		}
	}
	for j := i; j < l; j++ {
		out[j].feature = out[j+1].feature
		out[j].zero = out[j+1].zero
		out[j].one = out[j+1].one
	}
	return out
}

// unwoundPathSum is the total weight the path would carry with element i
// removed, without materializing the removal.
func unwoundPathSum(p []pathElem, i int) float64 {
	l := len(p) - 1
	one, zero := p[i].one, p[i].zero
	next := p[l].weight
	total := 0.0
	for j := l - 1; j >= 0; j-- {
		if one != 0 {
			tmp := next * float64(l+1) / (float64(j+1) * one)
			total += tmp
			next = p[j].weight - tmp*zero*float64(l-j)/float64(l+1)
		} else {
			total += p[j].weight * float64(l+1) / (zero * float64(l-j))
		}
	}
	return total
}

// findFeature locates a split feature already on the path. Index 0 is the
// synthetic root entry and never matches.
func findFeature(p []pathElem, feature int) int {
	for i := 1; i < len(p); i++ {
		if p[i].feature == feature {
			return i
		}
	}
	return -1
}
