package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MovesRecordedTotal counts confirmed moves recorded.
	MovesRecordedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autopilot_moves_recorded_total",
		Help: "Total number of confirmed moves recorded",
	})

	// MovesRevertedTotal counts successful reverts.
	MovesRevertedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autopilot_moves_reverted_total",
		Help: "Total number of moves successfully reverted",
	})

	// IncompleteMovesTotal counts partial executions recorded.
	IncompleteMovesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autopilot_moves_incomplete_total",
		Help: "Total number of partial executions recorded",
	})
)
