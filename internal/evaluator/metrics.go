package evaluator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CandidatesGeneratedTotal counts repair candidates offered.
	CandidatesGeneratedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autopilot_evaluator_candidates_generated_total",
		Help: "Total number of repair candidates offered",
	})

	// SafetyRepairsTotal counts emergency-exit candidates.
	SafetyRepairsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autopilot_evaluator_safety_repairs_total",
		Help: "Total number of emergency-exit candidates generated",
	})

	// PositionsSkippedTotal counts positions skipped for stale or missing data.
	PositionsSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autopilot_evaluator_positions_skipped_total",
		Help: "Total number of positions skipped due to stale or missing feed data",
	})

	// ProofRejectionsTotal counts candidates failing proof re-verification.
	ProofRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autopilot_evaluator_proof_rejections_total",
		Help: "Total number of candidates rejected at proof re-verification",
	})
)
