package evaluator

import (
	"time"

	"github.com/perennialfi/autopilot/internal/policy"
	"github.com/perennialfi/autopilot/internal/valuation"
	"github.com/perennialfi/autopilot/pkg/types"
)

// VerifyProof re-derives a candidate's proof against the given policy and
// clock. It recomputes from the embedded snapshots rather than trusting
// the proof's flags, so server-supplied candidates get the same scrutiny
// as locally generated ones. The policy passed in should be freshly read.
func (e *Evaluator) VerifyProof(cand *Candidate, pol policy.Versioned, now time.Time) error {
	if !cand.Proof.PolicyAligned {
		return types.NewRepairError(types.ReasonPolicyViolation,
			"candidate %s is not policy aligned", cand.ID)
	}

	if cand.ToVenue.Stale(now, e.staleAfter) {
		return types.NewRepairError(types.ReasonPolicyViolation,
			"candidate %s venue data is stale (observed %s)", cand.ID, cand.ToVenue.ObservedAt.Format(time.RFC3339))
	}

	if !pol.AllowsVenue(cand.ToVenue.RiskScore, cand.ToVenue.MaxDrawdown) {
		ProofRejectionsTotal.Inc()
		return types.NewRepairError(types.ReasonPolicyViolation,
			"venue risk %.1f / drawdown %.1f%% exceeds policy bounds", cand.ToVenue.RiskScore, cand.ToVenue.MaxDrawdown)
	}

	if cand.ToVenue.TVL < e.minTVL {
		ProofRejectionsTotal.Inc()
		return types.NewRepairError(types.ReasonPolicyViolation,
			"venue TVL $%.0f below the $%.0f floor", cand.ToVenue.TVL, e.minTVL)
	}

	// Safety repairs bypass the improvement gate but never the bounds above.
	if cand.Proof.SafetyRepair {
		if cand.Position.Health != types.HealthRed {
			ProofRejectionsTotal.Inc()
			return types.NewRepairError(types.ReasonPolicyViolation,
				"safety repair claimed for a %s-health position", cand.Position.Health)
		}
		return nil
	}

	if delta := cand.ToVenue.RiskScore - cand.CurrentVenue.RiskScore; delta > e.maxRiskDelta {
		ProofRejectionsTotal.Inc()
		return types.NewRepairError(types.ReasonPolicyViolation,
			"risk delta %.1f exceeds the %.1f cap", delta, e.maxRiskDelta)
	}

	currentCalmar := valuation.CalmarRatio(cand.Position.CurrentAPY, cand.CurrentVenue.MaxDrawdown)
	candidateCalmar := valuation.CalmarRatio(cand.ToVenue.APY, cand.ToVenue.MaxDrawdown)
	improvement := relativeImprovement(currentCalmar, candidateCalmar)

	if improvement <= 0 {
		ProofRejectionsTotal.Inc()
		return types.NewRepairError(types.ReasonPolicyViolation,
			"no Calmar improvement: current %.2f vs candidate %.2f", currentCalmar, candidateCalmar)
	}
	if improvement < e.minImprove {
		ProofRejectionsTotal.Inc()
		return types.NewRepairError(types.ReasonPolicyViolation,
			"Calmar improvement %.1f%% below the %.1f%% materiality threshold", improvement*100, e.minImprove*100)
	}

	return nil
}
