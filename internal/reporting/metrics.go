package reporting

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OutcomesReportedTotal counts successfully delivered outcome reports.
	OutcomesReportedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autopilot_reporting_outcomes_total",
		Help: "Total number of successfully delivered outcome reports",
	})

	// OutcomeReportFailuresTotal counts outcome reports that exhausted retries.
	OutcomeReportFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autopilot_reporting_failures_total",
		Help: "Total number of outcome reports lost after exhausting retries",
	})
)
