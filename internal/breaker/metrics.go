package breaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BreakerOpen is 1 when any scope is open, 0 otherwise.
	BreakerOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "autopilot_breaker_open",
		Help: "Whether the circuit breaker is open for any scope (1 = open)",
	})

	// BreakerTripsTotal counts breaker openings.
	BreakerTripsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autopilot_breaker_trips_total",
		Help: "Total number of circuit breaker trips",
	})

	// BreakerAutoResumesTotal counts automatic closings at autoResumeAt.
	BreakerAutoResumesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autopilot_breaker_auto_resumes_total",
		Help: "Total number of automatic circuit breaker resumes",
	})

	// BreakerRejectionsTotal counts work refused while open.
	BreakerRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autopilot_breaker_rejections_total",
		Help: "Total number of repair attempts refused while the breaker was open",
	})
)
