package session

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	transitions *prometheus.CounterVec
}

// NewMetrics registers the session collectors with reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "amlconsole_session_transitions_total",
			Help: "Session state transitions by kind.",
		}, []string{"transition"}),
	}
	if reg != nil {
		reg.MustRegister(m.transitions)
	}
	return m
}

func (m *Metrics) observe(transition string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(transition).Inc()
}
