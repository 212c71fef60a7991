package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeJobs = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "certhub_dispatch_active_jobs",
		Help: "Jobs currently running per queue",
	}, []string{"queue"})

	backlogDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "certhub_dispatch_backlog_depth",
		Help: "Jobs waiting for a slot per queue",
	}, []string{"queue"})

	jobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "certhub_dispatch_jobs_completed_total",
		Help: "Jobs that ran to completion per queue",
	}, []string{"queue"})

	jobPanics = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "certhub_dispatch_job_panics_total",
		Help: "Jobs that panicked during execution per queue",
	}, []string{"queue"})
)
