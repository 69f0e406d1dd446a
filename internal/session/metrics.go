package session

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type sessionMetrics struct {
	connects *prometheus.CounterVec
	state    *prometheus.GaugeVec
}

var (
	sessionMetricsOnce sync.Once
	sessionMetricsInst *sessionMetrics
)

func globalSessionMetrics() *sessionMetrics {
	sessionMetricsOnce.Do(func() {
		sessionMetricsInst = &sessionMetrics{
			connects: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ticketsync",
				Subsystem: "session",
				Name:      "connects_total",
				Help:      "Realtime connect attempts, labeled by result",
			}, []string{"result"}),
			state: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "ticketsync",
				Subsystem: "session",
				Name:      "state",
				Help:      "1 for the current connectivity state of the realtime session",
			}, []string{"state"}),
		}
	})
	return sessionMetricsInst
}

func (m *sessionMetrics) recordConnect(result string) {
	if m == nil {
		return
	}
	m.connects.WithLabelValues(result).Inc()
}

func (m *sessionMetrics) recordState(s State) {
	if m == nil {
		return
	}
	for _, known := range []State{StateDisconnected, StateConnecting, StateConnected, StateError} {
		v := 0.0
		if known == s {
			v = 1
		}
		m.state.WithLabelValues(string(known)).Set(v)
	}
}
