package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hvc_stage_duration_seconds",
			Help:    "Duration of provisioning stages",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		},
		[]string{"stage", "status"},
	)

	StageTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hvc_stage_total",
			Help: "Total number of provisioning stage executions",
		},
		[]string{"stage", "status"},
	)

	StageRetryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hvc_stage_retry_total",
			Help: "Total readiness probe retries per stage",
		},
		[]string{"stage"},
	)

	GuestCommandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hvc_guest_command_duration_seconds",
			Help:    "Duration of remote guest commands",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"transport", "status"},
	)

	GuestConnectionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hvc_guest_connection_total",
			Help: "Total guest connection attempts",
		},
		[]string{"transport", "status"},
	)

	HostCommandDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hvc_host_command_duration_seconds",
			Help:    "Duration of hypervisor host commands",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	LabUpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hvc_lab_up_duration_seconds",
			Help:    "End-to-end duration of lab bring-up runs",
			Buckets: []float64{60, 300, 600, 1200, 1800, 3600, 7200, 10800},
		},
		[]string{"status"},
	)
)

// RecordStage updates both the stage histogram and counter.
func RecordStage(stage, status string, seconds float64) {
	StageDuration.WithLabelValues(stage, status).Observe(seconds)
	StageTotal.WithLabelValues(stage, status).Inc()
}
