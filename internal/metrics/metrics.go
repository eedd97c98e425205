// Package metrics provides Prometheus metrics for the fraud scoring and
// explanation service: prediction volume and score distribution,
// explanation outcomes and latency, and explainer fallback/rebuild
// activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service. It satisfies the
// explain package's MetricsSink.
type Metrics struct {
	Predictions      prometheus.Counter   // Total predictions served
	PredictionScores prometheus.Histogram // Distribution of fraud scores
	Explains         prometheus.Counter   // Total successful explanations
	ExplainFailures  prometheus.Counter   // Total failed explanation requests
	ExplainLatency   prometheus.Histogram // Explanation latency in seconds
	FallbackUse      prometheus.Counter   // Sampling-fallback explanations
	Rebuilds         prometheus.Counter   // Cached explainer rebuilds
	Simulations      prometheus.Counter   // Synthetic transactions generated
	WSClients        prometheus.Gauge     // Connected live-stream clients
	ErrorsTotal      prometheus.Counter   // Total errors encountered
}

// New creates and registers all metrics using the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for
// testing, where the global registry would collide across cases).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		Predictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "fraud_predictions_total",
			Help: "Total number of fraud predictions served",
		}),
		PredictionScores: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fraud_prediction_scores",
			Help:    "Distribution of predicted fraud probabilities",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		Explains: factory.NewCounter(prometheus.CounterOpts{
			Name: "explanations_total",
			Help: "Total number of successful explanation requests",
		}),
		ExplainFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "explanation_failures_total",
			Help: "Total number of failed explanation requests",
		}),
		ExplainLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "explanation_latency_seconds",
			Help:    "End-to-end explanation latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		FallbackUse: factory.NewCounter(prometheus.CounterOpts{
			Name: "explainer_fallback_total",
			Help: "Total number of explanations served by the sampling fallback",
		}),
		Rebuilds: factory.NewCounter(prometheus.CounterOpts{
			Name: "explainer_rebuilds_total",
			Help: "Total number of cached explainer rebuilds",
		}),
		Simulations: factory.NewCounter(prometheus.CounterOpts{
			Name: "simulated_transactions_total",
			Help: "Total number of synthetic transactions generated",
		}),
		WSClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ws_clients",
			Help: "Number of connected live-stream clients",
		}),
		ErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors encountered",
		}),
	}
}

// PredictionsInc implements explain.MetricsSink.
func (m *Metrics) PredictionsInc() { m.Predictions.Inc() }

// PredictionScoreObserve implements explain.MetricsSink.
func (m *Metrics) PredictionScoreObserve(v float64) { m.PredictionScores.Observe(v) }

// ExplainsInc implements explain.MetricsSink.
func (m *Metrics) ExplainsInc() { m.Explains.Inc() }

// ExplainFailuresInc implements explain.MetricsSink.
func (m *Metrics) ExplainFailuresInc() { m.ExplainFailures.Inc() }

// ExplainLatencyObserve implements explain.MetricsSink.
func (m *Metrics) ExplainLatencyObserve(v float64) { m.ExplainLatency.Observe(v) }

// FallbackUseInc implements explain.MetricsSink.
func (m *Metrics) FallbackUseInc() { m.FallbackUse.Inc() }

// RebuildsInc implements explain.MetricsSink.
func (m *Metrics) RebuildsInc() { m.Rebuilds.Inc() }
