package relayer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SubmitDurationSeconds tracks relayer submission latency.
	SubmitDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "autopilot_relayer_submit_duration_seconds",
		Help:    "Duration of relayer submissions in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// SubmitErrorsTotal counts failed relayer submissions.
	SubmitErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autopilot_relayer_submit_errors_total",
		Help: "Total number of failed relayer submissions",
	})

	// ReadRetriesTotal counts retried relayer read requests.
	ReadRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autopilot_relayer_read_retries_total",
		Help: "Total number of retried relayer read requests",
	})
)
