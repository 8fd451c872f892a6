package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "panoramer_jobs_total",
		Help: "Finished jobs by type and status.",
	}, []string{"type", "status"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "panoramer_job_duration_seconds",
		Help:    "Wall time of finished jobs.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	}, []string{"type"})

	jobsQueued = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "panoramer_jobs_queued",
		Help: "Jobs waiting for a worker.",
	})

	jobsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "panoramer_jobs_running",
		Help: "Jobs currently being processed.",
	})

	stepInliers = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "panoramer_step_inliers",
		Help:    "RANSAC inliers per fold step.",
		Buckets: prometheus.ExponentialBuckets(4, 2, 9),
	})
)

func observeJob(t JobType, status string, d time.Duration) {
	jobsTotal.WithLabelValues(string(t), status).Inc()
	jobDuration.WithLabelValues(string(t)).Observe(d.Seconds())
}
