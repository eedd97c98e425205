package explain

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"fraudlens/internal/artifact"
	"fraudlens/internal/txn"
)

// BackgroundSource supplies raw rows for the sampling fallback's
// background sample. The synthetic generator satisfies this.
type BackgroundSource interface {
	Generate(rowCount int) []txn.Transaction
}

// buildStrategy is one explainer construction attempt. Strategies are
// tried in order; a failure is logged and the next one is tried, never
// surfaced to the request.
type buildStrategy struct {
	name  string
	build func() (Explainer, error)
}

// Factory constructs attribution engines for the loaded classifier,
// preferring the cheap structural strategies and degrading to the
// sampling fallback.
type Factory struct {
	store      *artifact.Store
	background BackgroundSource
	bgRows     int
	samples    int
	seed       int64
}

// NewFactory wires the factory to the artifact store and the background
// source used by the sampling fallback. bgRows caps the background sample
// and samples bounds the stochastic evaluation budget.
func NewFactory(store *artifact.Store, background BackgroundSource, bgRows, samples int, seed int64) *Factory {
	if bgRows <= 0 {
		bgRows = 50
	}
	if samples <= 0 {
		samples = 100
	}
	return &Factory{store: store, background: background, bgRows: bgRows, samples: samples, seed: seed}
}

// BuildStructural tries the tree strategies in order and returns the
// first explainer that builds, or ErrExplainerUnavailable when neither
// applies. The result is cacheable across requests.
func (f *Factory) BuildStructural() (Explainer, error) {
	strategies := []buildStrategy{
		{name: "native-tree", build: f.buildNativeTree},
		{name: "wrapper-tree", build: f.buildWrapperTree},
	}
	for _, s := range strategies {
		exp, err := s.build()
		if err != nil {
			log.Warn().Err(err).Str("strategy", s.name).Msg("explainer strategy failed, trying next")
			continue
		}
		log.Info().Str("strategy", s.name).Msg("explainer built")
		return exp, nil
	}
	return nil, fmt.Errorf("%w: no structural strategy applies", ErrExplainerUnavailable)
}

func (f *Factory) buildNativeTree() (Explainer, error) {
	clf, err := f.store.Classifier()
	if err != nil {
		return nil, err
	}
	booster, err := clf.Booster()
	if err != nil {
		return nil, err
	}
	return NewTreeExplainer(booster), nil
}

func (f *Factory) buildWrapperTree() (Explainer, error) {
	clf, err := f.store.Classifier()
	if err != nil {
		return nil, err
	}
	return NewTreeExplainerFromClassifier(clf)
}

// BuildFallback constructs the per-request sampling explainer over a
// fresh background sample. Nothing is cached; the sample is discarded
// with the explainer.
func (f *Factory) BuildFallback() (Explainer, error) {
	if f.background == nil {
		return nil, fmt.Errorf("no background source configured")
	}
	// Draw a little more than the cap so truncation still leaves a
	// representative spread, the way the original serving path did.
	rows := f.background.Generate(f.bgRows * 2)
	if len(rows) == 0 {
		return nil, fmt.Errorf("background source produced no rows")
	}
	matrix, err := f.store.TransformBatch(rows)
	if err != nil {
		return nil, fmt.Errorf("transform background sample: %w", err)
	}
	if len(matrix) > f.bgRows {
		matrix = matrix[:f.bgRows]
	}
	return NewKernelExplainer(f.store.PredictProba, matrix, f.samples, f.seed)
}
