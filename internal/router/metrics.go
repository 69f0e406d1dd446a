package router

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type routerMetrics struct {
	routed        *prometheus.CounterVec
	inconsistency *prometheus.CounterVec
}

var (
	routerMetricsOnce sync.Once
	routerMetricsInst *routerMetrics
)

func globalRouterMetrics() *routerMetrics {
	routerMetricsOnce.Do(func() {
		routerMetricsInst = &routerMetrics{
			routed: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ticketsync",
				Subsystem: "router",
				Name:      "events_total",
				Help:      "Inbound realtime events, labeled by event name and result",
			}, []string{"event", "result"}),
			inconsistency: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ticketsync",
				Subsystem: "router",
				Name:      "state_inconsistencies_total",
				Help:      "Events whose precondition did not hold against local state",
			}, []string{"transition"}),
		}
	})
	return routerMetricsInst
}

func (m *routerMetrics) recordEvent(event, result string) {
	if m == nil {
		return
	}
	if event == "" {
		event = "unknown"
	}
	m.routed.WithLabelValues(event, result).Inc()
}

func (m *routerMetrics) recordInconsistency(transition string) {
	if m == nil {
		return
	}
	m.inconsistency.WithLabelValues(transition).Inc()
}
