// Package jobs implements the scheduled and triggered background work:
// payment verification, subscription expiry, stale transaction cleanup and
// the yield update marker.
package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Job names used in logs and metrics
const (
	JobVerifyTransactions  = "verifyTransactions"
	JobCheckSubscriptions  = "checkSubscriptions"
	JobCleanupTransactions = "cleanupOldTransactions"
	JobUpdateYieldMarker   = "updateYieldTimestamp"
)

var (
	jobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "treasury_job_runs_total",
			Help: "Job runs by outcome",
		},
		[]string{"job", "status"},
	)
	jobRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "treasury_job_records_total",
			Help: "Records handled by jobs, by outcome",
		},
		[]string{"job", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(jobRuns, jobRecords)
}

func recordRun(job string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	jobRuns.WithLabelValues(job, status).Inc()
}
