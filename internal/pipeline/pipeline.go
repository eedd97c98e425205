// Package pipeline applies the fitted preprocessing transform that maps a
// raw transaction into the numeric feature space the classifier was
// trained on: standard scaling for numeric columns followed by one-hot
// encoding for categorical columns.
package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"fraudlens/internal/txn"
)

// ErrSchemaMismatch is returned when a submitted transaction lacks a
// column the fitted transform requires.
var ErrSchemaMismatch = errors.New("transaction does not match pipeline schema")

// NumericFeature holds the fitted scaler parameters for one column.
type NumericFeature struct {
	Name  string  `json:"name"`
	Mean  float64 `json:"mean"`
	Scale float64 `json:"scale"`
}

// CategoricalFeature holds the fitted category vocabulary for one column.
// Unknown categories encode to all zeros rather than failing.
type CategoricalFeature struct {
	Name       string   `json:"name"`
	Categories []string `json:"categories"`
}

// Pipeline is the deserialized preprocessing transform. Numeric features
// come first in the output feature space, in artifact order, followed by
// the one-hot blocks.
type Pipeline struct {
	NumericPrefix     string               `json:"numeric_prefix"`
	CategoricalPrefix string               `json:"categorical_prefix"`
	Numeric           []NumericFeature     `json:"numeric"`
	Categorical       []CategoricalFeature `json:"categorical"`
}

// Load reads and parses a pipeline artifact from disk.
func Load(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p Pipeline
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode pipeline: %w", err)
	}
	if len(p.Numeric) == 0 && len(p.Categorical) == 0 {
		return nil, fmt.Errorf("pipeline declares no features")
	}
	return &p, nil
}

// Width is the number of columns in the transformed feature space.
func (p *Pipeline) Width() int {
	w := len(p.Numeric)
	for _, c := range p.Categorical {
		w += len(c.Categories)
	}
	return w
}

// FeatureNamesOut returns the transformed feature identifiers in output
// order, e.g. "num__amount" and "cat__country_NG".
func (p *Pipeline) FeatureNamesOut() []string {
	names := make([]string, 0, p.Width())
	for _, n := range p.Numeric {
		names = append(names, p.NumericPrefix+n.Name)
	}
	for _, c := range p.Categorical {
		for _, cat := range c.Categories {
			names = append(names, p.CategoricalPrefix+c.Name+"_"+cat)
		}
	}
	return names
}

// Transform maps one raw transaction into feature space. Derived columns
// the caller did not submit are computed when their inputs are present;
// any other missing column is a schema mismatch.
func (p *Pipeline) Transform(t txn.Transaction) ([]float64, error) {
	t = derive(t)
	out := make([]float64, 0, p.Width())

	for _, n := range p.Numeric {
		v, ok := t.Float(n.Name)
		if !ok {
			return nil, fmt.Errorf("%w: missing numeric field %q", ErrSchemaMismatch, n.Name)
		}
		scale := n.Scale
		if scale == 0 {
			scale = 1
		}
		out = append(out, (v-n.Mean)/scale)
	}

	for _, c := range p.Categorical {
		v, ok := t.String(c.Name)
		if !ok {
			return nil, fmt.Errorf("%w: missing categorical field %q", ErrSchemaMismatch, c.Name)
		}
		for _, cat := range c.Categories {
			if v == cat {
				out = append(out, 1)
			} else {
				out = append(out, 0)
			}
		}
	}
	return out, nil
}

// TransformBatch maps a batch of transactions into feature space.
func (p *Pipeline) TransformBatch(ts []txn.Transaction) ([][]float64, error) {
	rows := make([][]float64, len(ts))
	for i, t := range ts {
		row, err := p.Transform(t)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		rows[i] = row
	}
	return rows, nil
}

// derive fills in columns computable from the submitted ones: the
// amount-to-average ratio and the integer hour.
func derive(t txn.Transaction) txn.Transaction {
	amount, hasAmount := t.Float(txn.FieldAmount)
	avg, hasAvg := t.Float(txn.FieldAvgUserAmount)
	tod, hasTod := t.Float(txn.FieldTimeOfDay)

	needRatio := !t.Has(txn.FieldAmountAvgRatio) && hasAmount && hasAvg
	needHour := !t.Has(txn.FieldHour) && hasTod
	if !needRatio && !needHour {
		return t
	}

	t = t.Clone()
	if needRatio {
		t[txn.FieldAmountAvgRatio] = amount / (avg + 1e-6)
	}
	if needHour {
		t[txn.FieldHour] = int(tod)
	}
	return t
}
