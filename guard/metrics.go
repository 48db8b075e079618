package guard

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	decisions *prometheus.CounterVec
}

// NewMetrics registers the guard collectors with reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "amlconsole_guard_decisions_total",
			Help: "Guard verdicts by state.",
		}, []string{"state"}),
	}
	if reg != nil {
		reg.MustRegister(m.decisions)
	}
	return m
}

func (m *Metrics) observe(state State) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(state.String()).Inc()
}
