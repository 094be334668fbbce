package action

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for action orchestration.
type Metrics struct {
	CallsTotal      *prometheus.CounterVec
	CallDuration    *prometheus.HistogramVec
	CallApplicable  prometheus.Histogram
	DecisionsTotal  *prometheus.CounterVec
	ExecutionsTotal *prometheus.CounterVec
	ExecDuration    *prometheus.HistogramVec
}

// NewMetrics registers and returns action metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketwatch_orchestrations_total",
			Help: "Total orchestration calls by execution mode and whether any action failed.",
		}, []string{"mode", "result"}),
		CallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ticketwatch_orchestration_duration_seconds",
			Help:    "Duration of orchestration calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms .. ~41s
		}, []string{"mode"}),
		CallApplicable: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ticketwatch_orchestration_applicable_actions",
			Help:    "Applicable actions per orchestration call.",
			Buckets: prometheus.LinearBuckets(0, 1, 8), // 0 .. 7
		}),
		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketwatch_action_decisions_total",
			Help: "Action applicability decisions by action and outcome.",
		}, []string{"action", "outcome"}),
		ExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketwatch_action_executions_total",
			Help: "Action executions by action and status.",
		}, []string{"action", "status"}),
		ExecDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ticketwatch_action_duration_seconds",
			Help:    "Duration of action executions in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16), // 1ms .. ~32s
		}, []string{"action"}),
	}

	reg.MustRegister(
		m.CallsTotal,
		m.CallDuration,
		m.CallApplicable,
		m.DecisionsTotal,
		m.ExecutionsTotal,
		m.ExecDuration,
	)

	return m
}

// Hooks returns manager Hooks that update the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnDecision: func(action, outcome string) {
			m.DecisionsTotal.WithLabelValues(action, outcome).Inc()
		},
		OnExecution: func(action, status string, duration float64) {
			m.ExecutionsTotal.WithLabelValues(action, status).Inc()
			m.ExecDuration.WithLabelValues(action).Observe(duration)
		},
		OnComplete: func(e *CompleteEvent) {
			result := "ok"
			if e.Failed > 0 {
				result = "partial"
			}
			m.CallsTotal.WithLabelValues(e.Mode, result).Inc()
			m.CallDuration.WithLabelValues(e.Mode).Observe(e.Duration)
			m.CallApplicable.Observe(float64(e.Applicable))
		},
	}
}
