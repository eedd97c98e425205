// Package model loads the trained fraud classifier artifact and exposes
// probability prediction plus structural access to the boosted-tree
// ensemble when the serialized form carries one.
//
// Two artifact shapes are in circulation: gradient-boosted trees (with the
// tree dump either under the "booster" section or, for models exported by
// older trainers, at the top level) and plain logistic regression. The
// explainer chain dispatches on the representation decided here at load
// time instead of probing the object per request.
package model

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// Representation tags how the classifier internals can be accessed.
type Representation int

const (
	// RepNativeTree means the raw boosted-tree structure is directly
	// addressable via Booster().
	RepNativeTree Representation = iota
	// RepOpaque means the raw structure is not exposed; the classifier is
	// usable through PredictProba and, best-effort, TreeEnsemble.
	RepOpaque
)

func (r Representation) String() string {
	if r == RepNativeTree {
		return "native-tree"
	}
	return "opaque"
}

// Node is one decision node of a regression tree. Internal nodes route on
// feature < threshold; leaves carry the margin-space weight. Cover is the
// training row count that reached the node and drives the conditional
// expectations used by the structural explainer.
type Node struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Value     float64 `json:"value"`
	Cover     float64 `json:"cover"`
	Leaf      bool    `json:"leaf"`
}

// Tree is a single regression tree stored as a node array rooted at 0.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Leaf returns the leaf node reached by x.
func (t *Tree) Leaf(x []float64) *Node {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.Leaf {
			return n
		}
		if x[n.Feature] < n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// MaxDepth returns the depth of the deepest tree node, used to size
// explainer scratch space.
func (t *Tree) MaxDepth() int {
	var walk func(i, d int) int
	walk = func(i, d int) int {
		n := &t.Nodes[i]
		if n.Leaf {
			return d
		}
		l := walk(n.Left, d+1)
		r := walk(n.Right, d+1)
		if l > r {
			return l
		}
		return r
	}
	if len(t.Nodes) == 0 {
		return 0
	}
	return walk(0, 0)
}

// Booster is the boosted-tree ensemble in margin (log-odds) space.
type Booster struct {
	Trees       []Tree
	BaseMargin  float64
	NumFeatures int
}

// Margin returns the raw ensemble output for one row.
func (b *Booster) Margin(x []float64) float64 {
	m := b.BaseMargin
	for i := range b.Trees {
		m += b.Trees[i].Leaf(x).Value
	}
	return m
}

// ExpectedMargin returns the cover-weighted average ensemble output, the
// baseline the structural explainer attributes against.
func (b *Booster) ExpectedMargin() float64 {
	m := b.BaseMargin
	for i := range b.Trees {
		m += treeExpectation(&b.Trees[i], 0)
	}
	return m
}

func treeExpectation(t *Tree, i int) float64 {
	n := &t.Nodes[i]
	if n.Leaf {
		return n.Value
	}
	l := &t.Nodes[n.Left]
	r := &t.Nodes[n.Right]
	return (l.Cover*treeExpectation(t, n.Left) + r.Cover*treeExpectation(t, n.Right)) / n.Cover
}

type linearModel struct {
	Coefficients []float64
	Intercept    float64
}

type modelFile struct {
	Type        string `json:"type"`
	Version     string `json:"version"`
	NumFeatures int    `json:"num_features"`
	// BaseScore is the probability-space prior, as written by the trainer.
	BaseScore float64 `json:"base_score"`
	Booster   *struct {
		Trees []Tree `json:"trees"`
	} `json:"booster,omitempty"`
	// Trees at the top level is the legacy export layout. Booster() does
	// not serve it; TreeEnsemble() does.
	Trees        []Tree    `json:"trees,omitempty"`
	Coefficients []float64 `json:"coefficients,omitempty"`
	Intercept    float64   `json:"intercept,omitempty"`
}

// Classifier wraps one loaded model artifact.
type Classifier struct {
	rep         Representation
	booster     *Booster
	legacy      *Booster
	linear      *linearModel
	numFeatures int
	version     string
}

// Load reads and parses a classifier artifact from disk.
func Load(path string) (*Classifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a classifier artifact and decides its representation.
func Parse(data []byte) (*Classifier, error) {
	var f modelFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	if f.NumFeatures <= 0 {
		return nil, fmt.Errorf("model declares no feature width")
	}

	c := &Classifier{numFeatures: f.NumFeatures, version: f.Version}
	baseMargin := logit(f.BaseScore)

	switch f.Type {
	case "gradient_boosted_trees":
		switch {
		case f.Booster != nil && len(f.Booster.Trees) > 0:
			c.rep = RepNativeTree
			c.booster = &Booster{Trees: f.Booster.Trees, BaseMargin: baseMargin, NumFeatures: f.NumFeatures}
		case len(f.Trees) > 0:
			c.rep = RepOpaque
			c.legacy = &Booster{Trees: f.Trees, BaseMargin: baseMargin, NumFeatures: f.NumFeatures}
		default:
			return nil, fmt.Errorf("tree model carries no trees")
		}
		if err := validateTrees(c.anyEnsemble(), f.NumFeatures); err != nil {
			return nil, err
		}
	case "logistic_regression":
		if len(f.Coefficients) != f.NumFeatures {
			return nil, fmt.Errorf("coefficient count %d does not match feature width %d", len(f.Coefficients), f.NumFeatures)
		}
		c.rep = RepOpaque
		c.linear = &linearModel{Coefficients: f.Coefficients, Intercept: f.Intercept}
	default:
		return nil, fmt.Errorf("unsupported model type %q", f.Type)
	}
	return c, nil
}

func validateTrees(b *Booster, width int) error {
	for ti := range b.Trees {
		t := &b.Trees[ti]
		if len(t.Nodes) == 0 {
			return fmt.Errorf("tree %d is empty", ti)
		}
		for ni := range t.Nodes {
			n := &t.Nodes[ni]
			if n.Leaf {
				continue
			}
			if n.Feature < 0 || n.Feature >= width {
				return fmt.Errorf("tree %d node %d splits on feature %d outside width %d", ti, ni, n.Feature, width)
			}
			if n.Left < 0 || n.Left >= len(t.Nodes) || n.Right < 0 || n.Right >= len(t.Nodes) {
				return fmt.Errorf("tree %d node %d has dangling children", ti, ni)
			}
		}
	}
	return nil
}

func (c *Classifier) anyEnsemble() *Booster {
	if c.booster != nil {
		return c.booster
	}
	return c.legacy
}

// Representation reports the capability variant decided at load time.
func (c *Classifier) Representation() Representation { return c.rep }

// Version reports the trainer-assigned artifact version, if any.
func (c *Classifier) Version() string { return c.version }

// NumFeatures is the expected input width.
func (c *Classifier) NumFeatures() int { return c.numFeatures }

// Booster returns the raw boosted-tree structure. It fails for opaque
// representations, including the legacy tree layout, which only exposes
// its trees through TreeEnsemble.
func (c *Classifier) Booster() (*Booster, error) {
	if c.rep != RepNativeTree || c.booster == nil {
		return nil, fmt.Errorf("classifier does not expose a raw booster (%s representation)", c.rep)
	}
	return c.booster, nil
}

// TreeEnsemble returns the tree ensemble via wrapper-level introspection,
// serving both the native and the legacy layouts. It fails for models
// without tree structure.
func (c *Classifier) TreeEnsemble() (*Booster, error) {
	if b := c.anyEnsemble(); b != nil {
		return b, nil
	}
	return nil, fmt.Errorf("classifier has no tree ensemble")
}

// PredictProba returns the positive-class probability for each row.
// Rows whose width disagrees with the fitted feature space are rejected;
// this is where a model/pipeline artifact mismatch surfaces.
func (c *Classifier) PredictProba(rows [][]float64) ([]float64, error) {
	out := make([]float64, len(rows))
	for i, x := range rows {
		if len(x) != c.numFeatures {
			return nil, fmt.Errorf("row %d has width %d, classifier expects %d", i, len(x), c.numFeatures)
		}
		out[i] = c.probOne(x)
	}
	return out, nil
}

func (c *Classifier) probOne(x []float64) float64 {
	if b := c.anyEnsemble(); b != nil {
		return sigmoid(b.Margin(x))
	}
	m := c.linear.Intercept
	for i, w := range c.linear.Coefficients {
		m += w * x[i]
	}
	return sigmoid(m)
}

func sigmoid(m float64) float64 {
	return 1 / (1 + math.Exp(-m))
}

func logit(p float64) float64 {
	if p <= 0 || p >= 1 {
		return 0
	}
	return math.Log(p / (1 - p))
}
