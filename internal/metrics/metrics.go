// Package metrics exports run events as Prometheus metrics.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rendis/nodeflow/pkg/schema"
)

const namespace = "nodeflow"

// Node execution outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
)

// Sink is an event sink that counts runs, node executions and failed
// attempts, and observes node durations.
type Sink struct {
	flowRuns        *prometheus.CounterVec
	nodeExecutions  *prometheus.CounterVec
	attemptFailures *prometheus.CounterVec
	circuitRejects  *prometheus.CounterVec
	itemsSkipped    *prometheus.CounterVec
	nodeDuration    *prometheus.HistogramVec
}

// NewSink registers the collectors on reg. A nil reg uses the default
// registerer.
func NewSink(reg prometheus.Registerer) *Sink {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Sink{
		flowRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flow_runs_total",
			Help:      "Finished flow runs by terminal status.",
		}, []string{"flow", "status"}),
		nodeExecutions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_executions_total",
			Help:      "Node lifecycles by outcome.",
		}, []string{"flow", "node", "outcome"}),
		attemptFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_attempt_failures_total",
			Help:      "Failed Execute attempts, retried or not.",
		}, []string{"flow", "node"}),
		circuitRejects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_rejections_total",
			Help:      "Attempts rejected by an open circuit breaker.",
		}, []string{"flow", "node"}),
		itemsSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_items_skipped_total",
			Help:      "Batch items skipped after exhausting their attempts.",
		}, []string{"flow", "node"}),
		nodeDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_duration_seconds",
			Help:      "Wall time of a node lifecycle, retries included.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"flow", "node"}),
	}
}

// AppendEvent updates the metrics for one event. It never fails.
func (s *Sink) AppendEvent(_ context.Context, e *schema.Event) error {
	switch e.Type {
	case schema.EventFlowCompleted:
		s.flowRuns.WithLabelValues(e.Flow, string(schema.RunStateSucceeded)).Inc()
	case schema.EventFlowFailed:
		s.flowRuns.WithLabelValues(e.Flow, string(schema.RunStateFailed)).Inc()
	case schema.EventNodeCompleted:
		s.nodeExecutions.WithLabelValues(e.Flow, e.NodeID, OutcomeCompleted).Inc()
		s.observe(e)
	case schema.EventNodeFailed:
		s.nodeExecutions.WithLabelValues(e.Flow, e.NodeID, OutcomeFailed).Inc()
		s.observe(e)
	case schema.EventNodeAttemptFailed:
		s.attemptFailures.WithLabelValues(e.Flow, e.NodeID).Inc()
	case schema.EventCircuitOpen:
		s.circuitRejects.WithLabelValues(e.Flow, e.NodeID).Inc()
	case schema.EventItemSkipped:
		s.itemsSkipped.WithLabelValues(e.Flow, e.NodeID).Inc()
	}
	return nil
}

func (s *Sink) observe(e *schema.Event) {
	s.nodeDuration.WithLabelValues(e.Flow, e.NodeID).Observe(float64(e.DurationMs) / 1000)
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
