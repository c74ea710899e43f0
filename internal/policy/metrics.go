package policy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PolicyUpdatesTotal tracks accepted policy mutations.
	PolicyUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autopilot_policy_updates_total",
		Help: "Total number of accepted policy updates",
	})

	// PolicyUpdatesRejectedTotal tracks policy mutations rejected by validation.
	PolicyUpdatesRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autopilot_policy_updates_rejected_total",
		Help: "Total number of policy updates rejected by validation",
	})
)
