package observability

import "github.com/prometheus/client_golang/prometheus"

// StockMetrics counts ledger, workflow and dispatch outcomes. A nil
// *StockMetrics is valid and records nothing.
type StockMetrics struct {
	allocations     *prometheus.CounterVec
	movements       *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	scans           *prometheus.CounterVec
	sideEffectFails *prometheus.CounterVec
}

// NewStockMetrics registers the stock collectors against registerer.
func NewStockMetrics(registerer prometheus.Registerer) *StockMetrics {
	allocations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockcontrol_allocations_total",
		Help: "Allocation attempts partitioned by outcome.",
	}, []string{"outcome"})
	movements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockcontrol_movements_total",
		Help: "Ledger movements appended, partitioned by type.",
	}, []string{"type"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockcontrol_workflow_transitions_total",
		Help: "Workflow transition attempts partitioned by action and outcome.",
	}, []string{"action", "outcome"})
	scans := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockcontrol_dispatch_scans_total",
		Help: "Dispatch scan attempts partitioned by outcome.",
	}, []string{"outcome"})
	sideEffects := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockcontrol_side_effect_failures_total",
		Help: "Fire-and-forget side effects that failed and were logged.",
	}, []string{"effect"})
	registerer.MustRegister(allocations, movements, transitions, scans, sideEffects)
	return &StockMetrics{
		allocations:     allocations,
		movements:       movements,
		transitions:     transitions,
		scans:           scans,
		sideEffectFails: sideEffects,
	}
}

// Allocation records an allocation outcome.
func (m *StockMetrics) Allocation(outcome string) {
	if m == nil {
		return
	}
	m.allocations.WithLabelValues(outcome).Inc()
}

// Movement records an appended movement.
func (m *StockMetrics) Movement(kind string) {
	if m == nil {
		return
	}
	m.movements.WithLabelValues(kind).Inc()
}

// Transition records a workflow transition.
func (m *StockMetrics) Transition(action, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(action, outcome).Inc()
}

// Scan records a dispatch scan outcome.
func (m *StockMetrics) Scan(outcome string) {
	if m == nil {
		return
	}
	m.scans.WithLabelValues(outcome).Inc()
}

// SideEffectFailed records a swallowed side-effect failure.
func (m *StockMetrics) SideEffectFailed(effect string) {
	if m == nil {
		return
	}
	m.sideEffectFails.WithLabelValues(effect).Inc()
}

// Outcome maps an operation error to a metric label.
func Outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
