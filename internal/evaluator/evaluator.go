// Package evaluator produces ranked repair candidates from current
// positions, live venue data and the user's policy. Every candidate
// carries a proof of improvement; nothing downstream trusts a candidate
// without re-verifying that proof.
package evaluator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/perennialfi/autopilot/internal/policy"
	"github.com/perennialfi/autopilot/internal/valuation"
	"github.com/perennialfi/autopilot/pkg/types"
	"go.uber.org/zap"
)

// DataFeed supplies point-in-time position and venue snapshots.
type DataFeed interface {
	Positions(ctx context.Context, user common.Address) ([]types.Position, error)
	Venues(ctx context.Context, assetClass string) ([]types.VenueSnapshot, error)
}

// PolicySource supplies the user's active policy.
type PolicySource interface {
	Get(ctx context.Context, user common.Address) (policy.Versioned, error)
}

// Check is one named integrity check inside a proof.
type Check struct {
	Name   string
	Passed bool
}

// Proof justifies a repair candidate. CalmarImprovement is relative:
// 0.5 means the candidate's Calmar ratio is 50% above the current one.
type Proof struct {
	CalmarImprovement float64
	TVLStabilityOK    bool
	PolicyAligned     bool
	SafetyRepair      bool
	IntegrityChecks   []Check
	Explanation       string
}

// Candidate is a proposed fund move. Candidates are ephemeral: each
// evaluation cycle regenerates them and supersedes the prior set.
type Candidate struct {
	ID                string
	Position          types.Position
	CurrentVenue      types.VenueSnapshot
	ToVenue           types.VenueSnapshot
	EstimatedAPYDelta float64 // Percentage points
	EstimatedGasUSD   float64
	Proof             Proof
	Options           []types.VenueSnapshot // Runner-up venues, best first
	PolicyVersion     int64
	GeneratedAt       time.Time
}

// Config holds evaluator thresholds.
type Config struct {
	Feed     DataFeed
	Policies PolicySource

	// MinCalmarImprovement is the relative materiality threshold: a
	// rotation is proposed only when the candidate Calmar exceeds the
	// current one by this fraction.
	MinCalmarImprovement float64
	MinTVL               float64 // USD floor for candidate venues

	// MaxRiskDelta caps how much riskier a rotation target may be than
	// the position's current venue, on the 0..10 risk scale. Emergency
	// exits are exempt: they always move toward safety.
	MaxRiskDelta   float64
	MaxCandidates  int // Per-cycle cap
	MinPositionAge time.Duration
	StaleAfter     time.Duration
	Logger         *zap.Logger
}

// Evaluator generates and verifies repair candidates.
type Evaluator struct {
	feed         DataFeed
	policies     PolicySource
	minImprove   float64
	minTVL       float64
	maxRiskDelta float64
	maxCands     int
	minAge       time.Duration
	staleAfter   time.Duration
	logger       *zap.Logger
}

// New creates an evaluator.
func New(cfg *Config) (*Evaluator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Feed == nil {
		return nil, fmt.Errorf("data feed cannot be nil")
	}
	if cfg.Policies == nil {
		return nil, fmt.Errorf("policy source cannot be nil")
	}
	if cfg.MinCalmarImprovement <= 0 {
		return nil, fmt.Errorf("materiality threshold must be positive")
	}
	if cfg.MinTVL < 0 {
		return nil, fmt.Errorf("TVL floor cannot be negative")
	}
	if cfg.MaxRiskDelta <= 0 {
		return nil, fmt.Errorf("risk delta cap must be positive")
	}
	if cfg.MaxCandidates <= 0 {
		return nil, fmt.Errorf("candidate cap must be positive")
	}
	if cfg.StaleAfter <= 0 {
		return nil, fmt.Errorf("staleness window must be positive")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	return &Evaluator{
		feed:         cfg.Feed,
		policies:     cfg.Policies,
		minImprove:   cfg.MinCalmarImprovement,
		minTVL:       cfg.MinTVL,
		maxRiskDelta: cfg.MaxRiskDelta,
		maxCands:     cfg.MaxCandidates,
		minAge:       cfg.MinPositionAge,
		staleAfter:   cfg.StaleAfter,
		logger:       cfg.Logger,
	}, nil
}

// Evaluate runs one cycle for the user. Positions with stale or missing
// feed data are skipped, never failed; safety repairs for red-health
// positions rank ahead of yield rotations.
func (e *Evaluator) Evaluate(ctx context.Context, user common.Address) ([]Candidate, error) {
	pol, err := e.policies.Get(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}

	positions, err := e.feed.Positions(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}

	now := time.Now()

	var safety, rotations []Candidate
	for _, pos := range positions {
		if now.Sub(pos.ObservedAt) < e.minAge {
			e.logger.Debug("position-too-young",
				zap.String("position_id", pos.ID),
				zap.Duration("age", now.Sub(pos.ObservedAt)))
			continue
		}

		venues, err := e.feed.Venues(ctx, pos.Asset)
		if err != nil {
			PositionsSkippedTotal.Inc()
			e.logger.Warn("position-skipped-feed-unavailable",
				zap.String("position_id", pos.ID),
				zap.String("asset", pos.Asset),
				zap.Error(err))
			continue
		}

		cand, ok := e.evaluatePosition(pos, venues, pol, now)
		if !ok {
			continue
		}
		if cand.Proof.SafetyRepair {
			safety = append(safety, cand)
		} else {
			rotations = append(rotations, cand)
		}
	}

	sort.Slice(rotations, func(i, j int) bool {
		return rotations[i].Proof.CalmarImprovement > rotations[j].Proof.CalmarImprovement
	})

	candidates := append(safety, rotations...)
	if len(candidates) > e.maxCands {
		candidates = candidates[:e.maxCands]
	}

	CandidatesGeneratedTotal.Add(float64(len(candidates)))
	e.logger.Info("evaluation-cycle-completed",
		zap.String("user", user.Hex()),
		zap.Int("positions", len(positions)),
		zap.Int("safety_repairs", len(safety)),
		zap.Int("rotations", len(rotations)),
		zap.Int("offered", len(candidates)))

	return candidates, nil
}

// evaluatePosition produces at most one candidate for a position.
func (e *Evaluator) evaluatePosition(pos types.Position, venues []types.VenueSnapshot, pol policy.Versioned, now time.Time) (Candidate, bool) {
	current, haveCurrent := findVenue(venues, pos.Venue)
	if haveCurrent && current.Stale(now, e.staleAfter) {
		haveCurrent = false
	}

	// A red-health position exits to the safest eligible venue, with or
	// without a yield improvement.
	if pos.Health == types.HealthRed {
		return e.emergencyExit(pos, current, venues, pol, now)
	}

	if !haveCurrent {
		PositionsSkippedTotal.Inc()
		e.logger.Warn("position-skipped-stale-data",
			zap.String("position_id", pos.ID),
			zap.String("venue", pos.Venue.Hex()))
		return Candidate{}, false
	}

	currentCalmar := valuation.CalmarRatio(pos.CurrentAPY, current.MaxDrawdown)

	eligible := e.eligibleVenues(venues, pos.Venue, pol.Policy, now)
	if len(eligible) == 0 {
		return Candidate{}, false
	}

	// Keep only materially better venues, then order them best-first.
	// A rotation never trades into a venue much riskier than the one it
	// leaves, even when the tier ceiling would allow it.
	var betters []scoredVenue
	for _, v := range eligible {
		if v.RiskScore-current.RiskScore > e.maxRiskDelta {
			continue
		}
		calmar := valuation.CalmarRatio(v.APY, v.MaxDrawdown)
		improvement := relativeImprovement(currentCalmar, calmar)
		if improvement < e.minImprove {
			continue
		}
		betters = append(betters, scoredVenue{snap: v, calmar: calmar, improvement: improvement})
	}
	if len(betters) == 0 {
		return Candidate{}, false
	}

	sort.Slice(betters, func(i, j int) bool { return lessPreferred(betters[j], betters[i]) })

	best := betters[0]
	options := make([]types.VenueSnapshot, 0, len(betters)-1)
	for _, b := range betters[1:] {
		options = append(options, b.snap)
	}

	proof := Proof{
		CalmarImprovement: best.improvement,
		TVLStabilityOK:    best.snap.TVL >= e.minTVL,
		PolicyAligned:     true,
		IntegrityChecks: []Check{
			{Name: "calmar_improvement_material", Passed: true},
			{Name: "risk_tier_respected", Passed: true},
			{Name: "risk_delta_within_bound", Passed: true},
			{Name: "drawdown_within_policy", Passed: true},
			{Name: "tvl_above_floor", Passed: true},
			{Name: "feed_data_fresh", Passed: true},
		},
		Explanation: fmt.Sprintf(
			"Rotate %s from %s (%.1f%% APY, Calmar %.2f) to %s (%.1f%% APY, Calmar %.2f): %.0f%% better risk-adjusted return",
			pos.Asset, shortAddr(pos.Venue), pos.CurrentAPY, currentCalmar,
			shortAddr(best.snap.Venue), best.snap.APY, best.calmar, best.improvement*100),
	}

	return Candidate{
		ID:                uuid.New().String(),
		Position:          pos,
		CurrentVenue:      current,
		ToVenue:           best.snap,
		EstimatedAPYDelta: best.snap.APY - pos.CurrentAPY,
		EstimatedGasUSD:   best.snap.GasUSD,
		Proof:             proof,
		Options:           options,
		PolicyVersion:     pol.Version,
		GeneratedAt:       now,
	}, true
}

// emergencyExit proposes moving a red-health position to the safest
// eligible venue. The yield-improvement gate does not apply.
func (e *Evaluator) emergencyExit(pos types.Position, current types.VenueSnapshot, venues []types.VenueSnapshot, pol policy.Versioned, now time.Time) (Candidate, bool) {
	eligible := e.eligibleVenues(venues, pos.Venue, pol.Policy, now)
	if len(eligible) == 0 {
		e.logger.Warn("emergency-exit-no-eligible-venue",
			zap.String("position_id", pos.ID),
			zap.String("asset", pos.Asset))
		return Candidate{}, false
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].RiskScore != eligible[j].RiskScore {
			return eligible[i].RiskScore < eligible[j].RiskScore
		}
		return eligible[i].TVL > eligible[j].TVL
	})

	safest := eligible[0]
	currentCalmar := valuation.CalmarRatio(pos.CurrentAPY, current.MaxDrawdown)
	exitCalmar := valuation.CalmarRatio(safest.APY, safest.MaxDrawdown)

	proof := Proof{
		CalmarImprovement: relativeImprovement(currentCalmar, exitCalmar),
		TVLStabilityOK:    safest.TVL >= e.minTVL,
		PolicyAligned:     true,
		SafetyRepair:      true,
		IntegrityChecks: []Check{
			{Name: "position_health_red", Passed: true},
			{Name: "risk_tier_respected", Passed: true},
			{Name: "drawdown_within_policy", Passed: true},
			{Name: "tvl_above_floor", Passed: true},
		},
		Explanation: fmt.Sprintf(
			"Emergency exit: %s position at %s is unhealthy; move to %s (risk score %.1f, $%.0fM TVL)",
			pos.Asset, shortAddr(pos.Venue), shortAddr(safest.Venue), safest.RiskScore, safest.TVL/1e6),
	}

	SafetyRepairsTotal.Inc()

	return Candidate{
		ID:                uuid.New().String(),
		Position:          pos,
		CurrentVenue:      current,
		ToVenue:           safest,
		EstimatedAPYDelta: safest.APY - pos.CurrentAPY,
		EstimatedGasUSD:   safest.GasUSD,
		Proof:             proof,
		PolicyVersion:     pol.Version,
		GeneratedAt:       now,
	}, true
}

// eligibleVenues filters to fresh, policy-aligned venues above the TVL
// floor, excluding the position's current venue.
func (e *Evaluator) eligibleVenues(venues []types.VenueSnapshot, exclude common.Address, pol policy.Policy, now time.Time) []types.VenueSnapshot {
	var out []types.VenueSnapshot
	for _, v := range venues {
		if v.Venue == exclude {
			continue
		}
		if v.Stale(now, e.staleAfter) {
			continue
		}
		if v.TVL < e.minTVL {
			continue
		}
		if !pol.AllowsVenue(v.RiskScore, v.MaxDrawdown) {
			continue
		}
		out = append(out, v)
	}

	return out
}

type scoredVenue struct {
	snap        types.VenueSnapshot
	calmar      float64
	improvement float64
}

// lessPreferred orders by improvement, then lower gas, then higher TVL.
func lessPreferred(a, b scoredVenue) bool {
	if a.improvement != b.improvement {
		return a.improvement < b.improvement
	}
	if a.snap.GasUSD != b.snap.GasUSD {
		return a.snap.GasUSD > b.snap.GasUSD
	}
	return a.snap.TVL < b.snap.TVL
}

// relativeImprovement returns (candidate - current) / current, treating a
// non-positive current Calmar as infinitely improvable when the candidate
// is positive.
func relativeImprovement(current, candidate float64) float64 {
	if current <= 0 {
		if candidate > 0 {
			return 1
		}
		return 0
	}
	return (candidate - current) / current
}

func findVenue(venues []types.VenueSnapshot, addr common.Address) (types.VenueSnapshot, bool) {
	for _, v := range venues {
		if v.Venue == addr {
			return v, true
		}
	}
	return types.VenueSnapshot{}, false
}

func shortAddr(a common.Address) string {
	hex := a.Hex()
	return hex[:6] + "…" + hex[len(hex)-4:]
}
