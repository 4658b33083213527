package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collectors groups the dispute domain metrics. A nil *Collectors is valid and
// records nothing, so services can run without a registry in tests.
type Collectors struct {
	transitions        *prometheus.CounterVec
	signatures         *prometheus.CounterVec
	conflicts          *prometheus.CounterVec
	completionAttempts *prometheus.CounterVec
	completionLatency  prometheus.Histogram
	suggestionResults  *prometheus.CounterVec
}

func New() *Collectors {
	return &Collectors{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "disputeflow",
			Name:      "dispute_transitions_total",
			Help:      "Dispute status transitions by source and target status.",
		}, []string{"from", "to"}),
		signatures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "disputeflow",
			Name:      "agreement_signatures_total",
			Help:      "Agreement signatures recorded by party role.",
		}, []string{"party_role"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "disputeflow",
			Name:      "dispute_write_conflicts_total",
			Help:      "Optimistic write conflicts by operation and outcome.",
		}, []string{"operation", "outcome"}),
		completionAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "disputeflow",
			Name:      "completion_attempts_total",
			Help:      "Completion service attempts by outcome.",
		}, []string{"outcome"}),
		completionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "disputeflow",
			Name:      "completion_duration_seconds",
			Help:      "Wall time of completion calls including retries.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 45},
		}),
		suggestionResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "disputeflow",
			Name:      "suggestion_results_total",
			Help:      "Suggestion pipeline results by kind.",
		}, []string{"kind", "cached"}),
	}
}

// MustRegister registers every collector on reg.
func (c *Collectors) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		c.transitions,
		c.signatures,
		c.conflicts,
		c.completionAttempts,
		c.completionLatency,
		c.suggestionResults,
	)
}

func (c *Collectors) Transition(from, to string) {
	if c == nil {
		return
	}
	c.transitions.WithLabelValues(from, to).Inc()
}

func (c *Collectors) Signature(role string) {
	if c == nil {
		return
	}
	c.signatures.WithLabelValues(role).Inc()
}

// Conflict records an optimistic write retry ("retried") or a give-up ("exhausted").
func (c *Collectors) Conflict(operation, outcome string) {
	if c == nil {
		return
	}
	c.conflicts.WithLabelValues(operation, outcome).Inc()
}

func (c *Collectors) CompletionAttempt(outcome string) {
	if c == nil {
		return
	}
	c.completionAttempts.WithLabelValues(outcome).Inc()
}

func (c *Collectors) CompletionDuration(d time.Duration) {
	if c == nil {
		return
	}
	c.completionLatency.Observe(d.Seconds())
}

func (c *Collectors) SuggestionResult(kind string, cached bool) {
	if c == nil {
		return
	}
	label := "false"
	if cached {
		label = "true"
	}
	c.suggestionResults.WithLabelValues(kind, label).Inc()
}
