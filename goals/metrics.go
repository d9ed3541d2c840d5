package goals

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for goal evaluation and crediting.
// All methods are safe on a nil receiver.
type Metrics struct {
	// Decisions by reason
	DecisionOutcome *prometheus.CounterVec

	// Evaluations aborted by a rule configuration error
	EvaluateErrors prometheus.Counter

	// Goals credited by the tracker
	GoalsCredited prometheus.Counter

	EvaluateLatency prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		DecisionOutcome: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "affiliate_goal_decisions_total",
			Help: "Goal eligibility decisions by reason",
		}, []string{"reason"}),

		EvaluateErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "affiliate_goal_evaluation_errors_total",
			Help: "Goal evaluations aborted by a rule configuration error",
		}),

		GoalsCredited: factory.NewCounter(prometheus.CounterOpts{
			Name: "affiliate_goals_credited_total",
			Help: "Goals credited to affiliates",
		}),

		EvaluateLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "affiliate_goal_evaluate_duration_seconds",
			Help:    "Duration of a single goal evaluation",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),
	}
}

// IncrementOutcome records a decision
func (m *Metrics) IncrementOutcome(reason Reason) {
	if m != nil {
		m.DecisionOutcome.WithLabelValues(string(reason)).Inc()
	}
}

// IncrementError records an aborted evaluation
func (m *Metrics) IncrementError() {
	if m != nil {
		m.EvaluateErrors.Inc()
	}
}

// IncrementCredited records a credited goal
func (m *Metrics) IncrementCredited() {
	if m != nil {
		m.GoalsCredited.Inc()
	}
}

// ObserveEvaluateLatency records the duration of one evaluation
func (m *Metrics) ObserveEvaluateLatency(d time.Duration) {
	if m != nil {
		m.EvaluateLatency.Observe(d.Seconds())
	}
}
