package scheduler

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type jobMetrics struct {
	runs      *prometheus.CounterVec
	durations *prometheus.HistogramVec
}

var (
	jobMetricsOnce sync.Once
	jobMetricsInst *jobMetrics
)

func globalJobMetrics() *jobMetrics {
	jobMetricsOnce.Do(func() {
		jobMetricsInst = newJobMetrics()
	})
	return jobMetricsInst
}

func newJobMetrics() *jobMetrics {
	return &jobMetrics{
		runs: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ticketsync",
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Scheduled job executions, labeled by handler and result",
		}, []string{"handler", "status"}),
		durations: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ticketsync",
			Subsystem: "scheduler",
			Name:      "job_duration_seconds",
			Help:      "Duration of scheduled job executions",
			Buckets:   prometheus.DefBuckets,
		}, []string{"handler"}),
	}
}

func (m *jobMetrics) recordRun(handler string) func(err error) {
	if m == nil {
		return func(error) {}
	}
	timer := prometheus.NewTimer(m.durations.WithLabelValues(handler))
	return func(err error) {
		timer.ObserveDuration()
		status := "success"
		if err != nil {
			status = "failure"
		}
		m.runs.WithLabelValues(handler, status).Inc()
	}
}
