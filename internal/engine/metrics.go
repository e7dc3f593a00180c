package engine

import "github.com/prometheus/client_golang/prometheus"

// metrics is registered on a per-engine registry so tests can build multiple
// engines without collisions.
type metrics struct {
	registry *prometheus.Registry

	jobsActive      prometheus.Gauge
	queueDepth      prometheus.Gauge
	filesProcessed  *prometheus.CounterVec
	caseTransitions *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		jobsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "satori_jobs_active",
			Help: "Jobs currently holding a worker slot.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "satori_queue_depth",
			Help: "Submitted jobs waiting for a worker slot.",
		}),
		filesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "satori_files_processed_total",
			Help: "Input files processed, by terminal file status.",
		}, []string{"status"}),
		caseTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "satori_case_transitions_total",
			Help: "Case status transitions written to the manifest.",
		}, []string{"status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "satori_job_duration_seconds",
			Help:    "Wall time of finished jobs.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"kind"}),
	}
	m.registry.MustRegister(
		m.jobsActive,
		m.queueDepth,
		m.filesProcessed,
		m.caseTransitions,
		m.jobDuration,
	)
	return m
}
