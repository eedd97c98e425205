package explain

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"fraudlens/internal/artifact"
	"fraudlens/internal/txn"
)

// MetricsSink defines the metrics methods the service reports to.
type MetricsSink interface {
	PredictionsInc()
	PredictionScoreObserve(float64)
	ExplainsInc()
	ExplainFailuresInc()
	ExplainLatencyObserve(float64)
	FallbackUseInc()
	RebuildsInc()
}

// Contribution is one ranked attribution record of an explanation.
type Contribution struct {
	Feature   string  `json:"feature"`
	ShapValue float64 `json:"shap_value"`
	Value     any     `json:"value"`
	RawValue  any     `json:"raw_value"`
}

// DefaultTopK is the number of contributions returned when the caller
// does not ask for a specific count.
const DefaultTopK = 6

// Service orchestrates a single explanation request: transform, attribute,
// resolve names, rank, truncate. It also serves plain predictions.
//
// The structural explainer handle is cached behind an atomic pointer so
// concurrent requests read it lock-free; rebuilding after a runtime
// failure is serialized and swaps in a fresh handle rather than mutating
// the old one.
type Service struct {
	store       *artifact.Store
	factory     *Factory
	metrics     MetricsSink
	topKDefault int

	resolveOnce sync.Once
	resolver    *Resolver
	names       []string

	cached           atomic.Pointer[cachedHandle]
	buildMu          sync.Mutex
	structuralFailed atomic.Bool
}

type cachedHandle struct {
	exp Explainer
}

// NewService wires the attribution service. metrics may be nil.
func NewService(store *artifact.Store, factory *Factory, metrics MetricsSink, topKDefault int) *Service {
	if topKDefault <= 0 {
		topKDefault = DefaultTopK
	}
	return &Service{store: store, factory: factory, metrics: metrics, topKDefault: topKDefault}
}

// Predict returns the positive-class probability for one transaction.
func (s *Service) Predict(t txn.Transaction) (float64, error) {
	probs, err := s.PredictBatch([]txn.Transaction{t})
	if err != nil {
		return 0, err
	}
	return probs[0], nil
}

// PredictBatch returns positive-class probabilities for a batch.
func (s *Service) PredictBatch(ts []txn.Transaction) ([]float64, error) {
	if err := s.store.EnsureLoaded(); err != nil {
		return nil, err
	}
	rows, err := s.store.TransformBatch(ts)
	if err != nil {
		return nil, err
	}
	probs, err := s.store.PredictProba(rows)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		for _, p := range probs {
			s.metrics.PredictionsInc()
			s.metrics.PredictionScoreObserve(p)
		}
	}
	return probs, nil
}

// Explain returns the topK highest-magnitude feature contributions for
// one transaction, ordered by descending absolute weight (stable on
// ties). topK <= 0 selects the default; a topK beyond the feature count
// returns every feature.
//
// The caller receives either a ranked list or an error, never both and
// never a partial list. Artifact and schema errors propagate unchanged;
// everything else is wrapped as ExplanationError or
// ErrExplainerUnavailable per the taxonomy.
func (s *Service) Explain(t txn.Transaction, topK int) ([]Contribution, error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ExplainLatencyObserve(time.Since(start).Seconds())
		}
	}()

	contribs, err := s.explain(t, topK)
	if s.metrics != nil {
		if err != nil {
			s.metrics.ExplainFailuresInc()
		} else {
			s.metrics.ExplainsInc()
		}
	}
	return contribs, err
}

func (s *Service) explain(t txn.Transaction, topK int) ([]Contribution, error) {
	if err := s.store.EnsureLoaded(); err != nil {
		return nil, err
	}

	row, err := s.store.Transform(t)
	if err != nil {
		return nil, err
	}

	vectors, err := s.shapValues(row)
	if err != nil {
		return nil, err
	}
	vec, err := positiveClassVector(vectors)
	if err != nil {
		return nil, explanationErr(err, "normalize attribution output")
	}

	resolver, names := s.naming()
	count := len(names)
	if len(vec) < count {
		count = len(vec)
	}

	contribs := make([]Contribution, 0, count)
	for i := 0; i < count; i++ {
		contribs = append(contribs, Contribution{
			Feature:   names[i],
			ShapValue: vec[i],
			Value:     row[i],
			RawValue:  resolver.Resolve(names[i], t),
		})
	}

	sort.SliceStable(contribs, func(i, j int) bool {
		return math.Abs(contribs[i].ShapValue) > math.Abs(contribs[j].ShapValue)
	})

	if topK <= 0 {
		topK = s.topKDefault
	}
	if topK < len(contribs) {
		contribs = contribs[:topK]
	}
	return contribs, nil
}

// shapValues obtains raw contribution vectors, preferring the cached
// structural handle, transparently rebuilding it once on runtime failure,
// and finally constructing a one-off sampling explainer.
func (s *Service) shapValues(row []float64) ([][]float64, error) {
	h := s.cached.Load()
	if h == nil && !s.structuralFailed.Load() {
		h = s.obtainStructural()
	}

	if h != nil {
		vals, err := h.exp.ShapValues(row)
		if err == nil {
			return vals, nil
		}
		log.Warn().Err(err).Str("explainer", h.exp.Name()).Msg("cached explainer failed, rebuilding")
		if fresh := s.rebuild(h); fresh != nil {
			vals, err = fresh.exp.ShapValues(row)
			if err == nil {
				return vals, nil
			}
			log.Warn().Err(err).Str("explainer", fresh.exp.Name()).Msg("rebuilt explainer failed, falling back")
		}
	}

	if s.metrics != nil {
		s.metrics.FallbackUseInc()
	}
	ke, err := s.factory.BuildFallback()
	if err != nil {
		return nil, fmt.Errorf("%w: fallback construction failed: %v", ErrExplainerUnavailable, err)
	}
	vals, err := ke.ShapValues(row)
	if err != nil {
		return nil, fmt.Errorf("%w: fallback evaluation failed: %v", ErrExplainerUnavailable, err)
	}
	return vals, nil
}

// obtainStructural builds and caches the structural explainer, serializing
// concurrent builders. Returns nil when no structural strategy applies;
// that outcome is remembered so later requests go straight to the
// sampling fallback.
func (s *Service) obtainStructural() *cachedHandle {
	s.buildMu.Lock()
	defer s.buildMu.Unlock()

	if h := s.cached.Load(); h != nil {
		return h
	}
	exp, err := s.factory.BuildStructural()
	if err != nil {
		log.Warn().Err(err).Msg("structural explainer unavailable, requests will use sampling fallback")
		s.structuralFailed.Store(true)
		return nil
	}
	h := &cachedHandle{exp: exp}
	s.cached.Store(h)
	return h
}

// rebuild replaces a stale cached handle. Requests holding a still-valid
// handle are unaffected; only rebuilders contend on the lock. If another
// request already swapped in a fresh handle, that one is reused.
func (s *Service) rebuild(stale *cachedHandle) *cachedHandle {
	s.buildMu.Lock()
	defer s.buildMu.Unlock()

	if cur := s.cached.Load(); cur != stale {
		return cur
	}
	if s.metrics != nil {
		s.metrics.RebuildsInc()
	}
	exp, err := s.factory.BuildStructural()
	if err != nil {
		s.cached.CompareAndSwap(stale, nil)
		s.structuralFailed.Store(true)
		return nil
	}
	h := &cachedHandle{exp: exp}
	s.cached.Store(h)
	return h
}

// naming lazily builds the resolver and output feature names from the
// loaded pipeline. Only called after a successful load.
func (s *Service) naming() (*Resolver, []string) {
	s.resolveOnce.Do(func() {
		pipe, err := s.store.Pipeline()
		if err != nil {
			// EnsureLoaded succeeded before any caller reaches here.
			s.resolver = &Resolver{}
			return
		}
		s.resolver = NewResolver(pipe)
		s.names = pipe.FeatureNamesOut()
	})
	return s.resolver, s.names
}

// positiveClassVector normalizes multi-class attribution output: two or
// more per-class vectors select index 1 (the positive class by the binary
// convention), a single vector is used as-is.
func positiveClassVector(vectors [][]float64) ([]float64, error) {
	switch {
	case len(vectors) >= 2:
		return vectors[1], nil
	case len(vectors) == 1:
		return vectors[0], nil
	default:
		return nil, fmt.Errorf("attribution engine returned no vectors")
	}
}
