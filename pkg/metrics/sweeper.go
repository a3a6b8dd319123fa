package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SweeperJobMetrics records metadata for sweeper jobs.
type SweeperJobMetrics struct {
	duration *prometheus.HistogramVec
	success  *prometheus.CounterVec
	failure  *prometheus.CounterVec
	swept    *prometheus.CounterVec
}

// NewSweeperJobMetrics registers the sweeper job metrics on the provided registerer.
func NewSweeperJobMetrics(reg prometheus.Registerer) *SweeperJobMetrics {
	if reg == nil {
		return &SweeperJobMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sweeper_job_duration_seconds",
		Help:    "Duration of sweeper jobs in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	success := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sweeper_job_success",
		Help: "Successful sweeper job executions.",
	}, []string{"job"})
	failure := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sweeper_job_failure",
		Help: "Failed sweeper job executions.",
	}, []string{"job"})
	swept := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sweeper_reservations_transitioned",
		Help: "Reservations transitioned by the sweeper, labelled by transition.",
	}, []string{"transition"})
	reg.MustRegister(duration, success, failure, swept)
	return &SweeperJobMetrics{
		duration: duration,
		success:  success,
		failure:  failure,
		swept:    swept,
	}
}

// ObserveDuration records the duration for the named job.
func (s *SweeperJobMetrics) ObserveDuration(job string, duration time.Duration) {
	if s == nil || s.duration == nil {
		return
	}
	s.duration.WithLabelValues(normalizeLabel(job)).Observe(duration.Seconds())
}

// IncSuccess increments the success counter for the named job.
func (s *SweeperJobMetrics) IncSuccess(job string) {
	if s == nil || s.success == nil {
		return
	}
	s.success.WithLabelValues(normalizeLabel(job)).Inc()
}

// IncFailure increments the failure counter for the named job.
func (s *SweeperJobMetrics) IncFailure(job string) {
	if s == nil || s.failure == nil {
		return
	}
	s.failure.WithLabelValues(normalizeLabel(job)).Inc()
}

// AddTransitioned counts reservations moved through the named transition.
func (s *SweeperJobMetrics) AddTransitioned(transition string, count int) {
	if s == nil || s.swept == nil || count <= 0 {
		return
	}
	s.swept.WithLabelValues(normalizeLabel(transition)).Add(float64(count))
}

func normalizeLabel(label string) string {
	if label == "" {
		return "unknown"
	}
	return label
}
