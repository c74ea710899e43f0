package router

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AttemptsTotal counts repair attempts by path and final state.
	AttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autopilot_router_attempts_total",
		Help: "Total number of repair attempts by path and final state",
	}, []string{"path", "state"})

	// RevertsTotal counts revert operations by outcome.
	RevertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autopilot_router_reverts_total",
		Help: "Total number of revert operations by outcome",
	}, []string{"outcome"})
)
