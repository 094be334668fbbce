package intake

import "github.com/prometheus/client_golang/prometheus"

const (
	outcomeOK           = "ok"
	outcomeActionFailed = "action_failed"
	outcomeMalformed    = "malformed"
	outcomeInvalid      = "invalid"
)

// Hooks receives per-request events. Nil funcs are skipped.
type Hooks struct {
	OnRequest func(source, outcome string, duration float64)
}

// Metrics holds Prometheus metrics for request intake.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewMetrics registers and returns intake metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketwatch_intake_requests_total",
			Help: "Inbound triage requests by source and outcome.",
		}, []string{"source", "outcome"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ticketwatch_intake_request_duration_seconds",
			Help:    "Time to handle one inbound request in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms .. ~41s
		}, []string{"source"}),
	}

	reg.MustRegister(m.RequestsTotal, m.RequestDuration)
	return m
}

// Hooks returns intake Hooks that update the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnRequest: func(source, outcome string, duration float64) {
			m.RequestsTotal.WithLabelValues(source, outcome).Inc()
			if duration > 0 {
				m.RequestDuration.WithLabelValues(source).Observe(duration)
			}
		},
	}
}
