package explain

import (
	"strings"

	"fraudlens/internal/pipeline"
	"fraudlens/internal/txn"
)

// Resolver maps transformed feature identifiers back to the original
// transaction column and the value the caller actually submitted, so the
// attribution output reads "country = NG" instead of a one-hot indicator.
//
// Resolution is heuristic: one-hot identifiers are split on the LAST
// underscore because category values may themselves contain underscores.
// Resolve is total; anything unrecognized degrades to a nil value for
// that one feature instead of failing the explanation.
type Resolver struct {
	numPrefix string
	catPrefix string
}

// NewResolver reads the group prefixes from the fitted pipeline.
func NewResolver(p *pipeline.Pipeline) *Resolver {
	return &Resolver{numPrefix: p.NumericPrefix, catPrefix: p.CategoricalPrefix}
}

// Resolve returns the submitted value behind a transformed feature
// identifier, or nil when no mapping exists.
func (r *Resolver) Resolve(featureID string, t txn.Transaction) any {
	if t == nil {
		return nil
	}

	if r.numPrefix != "" && strings.HasPrefix(featureID, r.numPrefix) {
		return t[strings.TrimPrefix(featureID, r.numPrefix)]
	}

	if r.catPrefix != "" && strings.HasPrefix(featureID, r.catPrefix) {
		return resolveOneHot(strings.TrimPrefix(featureID, r.catPrefix), t)
	}

	// Some transforms emit "country_NG" style names with no group prefix.
	if strings.Contains(featureID, "_") {
		return resolveOneHot(featureID, t)
	}

	return t[featureID]
}

func resolveOneHot(rest string, t txn.Transaction) any {
	idx := strings.LastIndex(rest, "_")
	if idx <= 0 {
		return t[rest]
	}
	col, cat := rest[:idx], rest[idx+1:]
	if t.Has(col) {
		return t[col]
	}
	return cat
}
