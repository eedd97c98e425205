package explain

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"fraudlens/internal/artifact"
)

// MockMetrics records sink calls for assertions.
type MockMetrics struct {
	mu              sync.Mutex
	Predictions     int
	Scores          []float64
	Explains        int
	ExplainFailures int
	LatencySamples  int
	FallbackUses    int
	Rebuilds        int
}

func (m *MockMetrics) PredictionsInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Predictions++
}

func (m *MockMetrics) PredictionScoreObserve(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Scores = append(m.Scores, v)
}

func (m *MockMetrics) ExplainsInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Explains++
}

func (m *MockMetrics) ExplainFailuresInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ExplainFailures++
}

func (m *MockMetrics) ExplainLatencyObserve(float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LatencySamples++
}

func (m *MockMetrics) FallbackUseInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FallbackUses++
}

func (m *MockMetrics) RebuildsInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Rebuilds++
}

// metricCounts is a lock-free copy of the recorded counters.
type metricCounts struct {
	Predictions     int
	Explains        int
	ExplainFailures int
	LatencySamples  int
	FallbackUses    int
	Rebuilds        int
}

func (m *MockMetrics) snapshot() metricCounts {
	m.mu.Lock()
	defer m.mu.Unlock()
	return metricCounts{
		Predictions:     m.Predictions,
		Explains:        m.Explains,
		ExplainFailures: m.ExplainFailures,
		LatencySamples:  m.LatencySamples,
		FallbackUses:    m.FallbackUses,
		Rebuilds:        m.Rebuilds,
	}
}

// testPipeline maps amount, avg_user_amount and country into a width-4
// feature space.
const testPipeline = `{
	"numeric_prefix": "num__",
	"categorical_prefix": "cat__",
	"numeric": [
		{"name": "amount", "mean": 0, "scale": 1},
		{"name": "avg_user_amount", "mean": 0, "scale": 1}
	],
	"categorical": [{"name": "country", "categories": ["US", "NG"]}]
}`

// testTrees is a two-tree dump over the width-4 space, with a repeated
// split feature to exercise path unwinding.
const testTrees = `[
	{"nodes": [
		{"feature": 0, "threshold": 50, "left": 1, "right": 2, "cover": 100},
		{"feature": 1, "threshold": 30, "left": 3, "right": 4, "cover": 70},
		{"feature": 0, "threshold": 400, "left": 5, "right": 6, "cover": 30},
		{"value": -1.2, "cover": 40, "leaf": true},
		{"value": -0.4, "cover": 30, "leaf": true},
		{"value": 0.8, "cover": 20, "leaf": true},
		{"value": 2.1, "cover": 10, "leaf": true}
	]},
	{"nodes": [
		{"feature": 3, "threshold": 0.5, "left": 1, "right": 2, "cover": 100},
		{"value": -0.3, "cover": 85, "leaf": true},
		{"feature": 0, "threshold": 200, "left": 3, "right": 4, "cover": 15},
		{"value": 0.4, "cover": 9, "leaf": true},
		{"value": 1.1, "cover": 6, "leaf": true}
	]}
]`

const nativeModel = `{
	"type": "gradient_boosted_trees",
	"version": "test",
	"num_features": 4,
	"base_score": 0.5,
	"booster": {"trees": ` + testTrees + `}
}`

const legacyModel = `{
	"type": "gradient_boosted_trees",
	"num_features": 4,
	"base_score": 0.5,
	"trees": ` + testTrees + `
}`

const logisticModel = `{
	"type": "logistic_regression",
	"num_features": 4,
	"coefficients": [0.02, -0.01, -0.5, 1.5],
	"intercept": -1
}`

// newStore writes the given model next to the shared pipeline in a temp
// dir and returns an artifact store over it.
func newStore(t *testing.T, modelJSON string) *artifact.Store {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, artifact.ModelFile), []byte(modelJSON), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, artifact.PipelineFile), []byte(testPipeline), 0o600); err != nil {
		t.Fatal(err)
	}
	return artifact.New(dir)
}
