package evaluator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/perennialfi/autopilot/internal/policy"
	"github.com/perennialfi/autopilot/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var (
	testUser     = common.HexToAddress("0x01")
	venueCurrent = common.HexToAddress("0xaaaa")
	venueBetter  = common.HexToAddress("0xbbbb")
	venueBest    = common.HexToAddress("0xcccc")
	venueRisky   = common.HexToAddress("0xdddd")
)

type stubFeed struct {
	positions []types.Position
	venues    map[string][]types.VenueSnapshot
	venuesErr error
}

func (f *stubFeed) Positions(_ context.Context, _ common.Address) ([]types.Position, error) {
	return f.positions, nil
}

func (f *stubFeed) Venues(_ context.Context, asset string) ([]types.VenueSnapshot, error) {
	if f.venuesErr != nil {
		return nil, f.venuesErr
	}
	return f.venues[asset], nil
}

type stubPolicies struct {
	pol policy.Versioned
	err error
}

func (s *stubPolicies) Get(_ context.Context, _ common.Address) (policy.Versioned, error) {
	return s.pol, s.err
}

func balancedPolicy() policy.Versioned {
	return policy.Versioned{
		Policy: policy.Policy{
			User:        testUser,
			TargetAPY:   8.0,
			MaxDrawdown: 20.0,
			RiskTier:    types.TierBalanced,
			Autonomy:    types.AutonomyAutoBounded,
		},
		Version: 3,
	}
}

func position(health types.HealthStatus, apy float64) types.Position {
	return types.Position{
		ID:           "pos-1",
		ChainID:      137,
		Venue:        venueCurrent,
		Asset:        "USDC",
		Principal:    1000,
		CurrentValue: 1010,
		CurrentAPY:   apy,
		Health:       health,
		ObservedAt:   time.Now().Add(-48 * time.Hour),
	}
}

func snapshot(venue common.Address, apy, tvl, risk, drawdown, gas float64) types.VenueSnapshot {
	return types.VenueSnapshot{
		ChainID:     137,
		Venue:       venue,
		Asset:       "USDC",
		APY:         apy,
		TVL:         tvl,
		RiskScore:   risk,
		MaxDrawdown: drawdown,
		GasUSD:      gas,
		ObservedAt:  time.Now(),
	}
}

func newEvaluator(t *testing.T, feed DataFeed, pols PolicySource) *Evaluator {
	t.Helper()

	e, err := New(&Config{
		Feed:                 feed,
		Policies:             pols,
		MinCalmarImprovement: 0.10,
		MinTVL:               1_000_000,
		MaxRiskDelta:         2.0,
		MaxCandidates:        3,
		MinPositionAge:       24 * time.Hour,
		StaleAfter:           10 * time.Minute,
		Logger:               zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	return e
}

func TestEvaluate_ProposesMaterialRotation(t *testing.T) {
	t.Parallel()

	feed := &stubFeed{
		positions: []types.Position{position(types.HealthGreen, 5.0)},
		venues: map[string][]types.VenueSnapshot{
			"USDC": {
				snapshot(venueCurrent, 5.0, 5_000_000, 3.0, 10.0, 0.5),
				// Calmar 12/10 = 1.2 vs current 0.5: a 140% improvement.
				snapshot(venueBetter, 12.0, 8_000_000, 4.0, 10.0, 0.5),
			},
		},
	}

	e := newEvaluator(t, feed, &stubPolicies{pol: balancedPolicy()})

	cands, err := e.Evaluate(context.Background(), testUser)
	require.NoError(t, err)
	require.Len(t, cands, 1)

	c := cands[0]
	assert.Equal(t, venueBetter, c.ToVenue.Venue)
	assert.InDelta(t, 7.0, c.EstimatedAPYDelta, 1e-9)
	assert.True(t, c.Proof.PolicyAligned)
	assert.False(t, c.Proof.SafetyRepair)
	assert.Greater(t, c.Proof.CalmarImprovement, 0.10)
	assert.Equal(t, int64(3), c.PolicyVersion)
	assert.NotEmpty(t, c.Proof.Explanation)
	assert.NotEmpty(t, c.Proof.IntegrityChecks)
}

func TestEvaluate_ImmaterialDeltaSuppressed(t *testing.T) {
	t.Parallel()

	feed := &stubFeed{
		positions: []types.Position{position(types.HealthGreen, 10.0)},
		venues: map[string][]types.VenueSnapshot{
			"USDC": {
				snapshot(venueCurrent, 10.0, 5_000_000, 3.0, 10.0, 0.5),
				// Calmar 1.05 vs 1.0: only 5%, below the 10% threshold.
				snapshot(venueBetter, 10.5, 8_000_000, 4.0, 10.0, 0.5),
			},
		},
	}

	e := newEvaluator(t, feed, &stubPolicies{pol: balancedPolicy()})

	cands, err := e.Evaluate(context.Background(), testUser)
	require.NoError(t, err)
	assert.Empty(t, cands, "tiny deltas must not produce thrash")
}

func TestEvaluate_PolicyBoundsFilterVenues(t *testing.T) {
	t.Parallel()

	feed := &stubFeed{
		positions: []types.Position{position(types.HealthGreen, 5.0)},
		venues: map[string][]types.VenueSnapshot{
			"USDC": {
				snapshot(venueCurrent, 5.0, 5_000_000, 3.0, 10.0, 0.5),
				// Huge APY but risk score 8 exceeds the balanced tier cap of 6.
				snapshot(venueRisky, 40.0, 8_000_000, 8.0, 15.0, 0.5),
				// Drawdown 30% exceeds the policy's 20% bound.
				snapshot(venueBetter, 30.0, 8_000_000, 4.0, 30.0, 0.5),
			},
		},
	}

	e := newEvaluator(t, feed, &stubPolicies{pol: balancedPolicy()})

	cands, err := e.Evaluate(context.Background(), testUser)
	require.NoError(t, err)
	assert.Empty(t, cands)
}

func TestEvaluate_RiskDeltaCapFiltersVenues(t *testing.T) {
	t.Parallel()

	feed := &stubFeed{
		positions: []types.Position{position(types.HealthGreen, 5.0)},
		venues: map[string][]types.VenueSnapshot{
			"USDC": {
				snapshot(venueCurrent, 5.0, 5_000_000, 3.0, 10.0, 0.5),
				// Risk 5.8 fits the balanced tier ceiling but sits 2.8
				// points above the current venue, past the 2.0 cap.
				snapshot(venueBetter, 25.0, 8_000_000, 5.8, 15.0, 0.5),
			},
		},
	}

	e := newEvaluator(t, feed, &stubPolicies{pol: balancedPolicy()})

	cands, err := e.Evaluate(context.Background(), testUser)
	require.NoError(t, err)
	assert.Empty(t, cands, "rotations never trade far up the risk scale")
}

func TestEvaluate_RiskDeltaCapDoesNotBlockEmergencyExit(t *testing.T) {
	t.Parallel()

	// The only eligible exit is riskier than the dying venue; a red
	// position takes it anyway.
	feed := &stubFeed{
		positions: []types.Position{position(types.HealthRed, 5.0)},
		venues: map[string][]types.VenueSnapshot{
			"USDC": {
				snapshot(venueCurrent, 5.0, 5_000_000, 1.0, 10.0, 0.5),
				snapshot(venueBetter, 4.0, 8_000_000, 5.5, 15.0, 0.5),
			},
		},
	}

	e := newEvaluator(t, feed, &stubPolicies{pol: balancedPolicy()})

	cands, err := e.Evaluate(context.Background(), testUser)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.True(t, cands[0].Proof.SafetyRepair)
	assert.Equal(t, venueBetter, cands[0].ToVenue.Venue)
}

func TestEvaluate_TVLFloorFiltersVenues(t *testing.T) {
	t.Parallel()

	feed := &stubFeed{
		positions: []types.Position{position(types.HealthGreen, 5.0)},
		venues: map[string][]types.VenueSnapshot{
			"USDC": {
				snapshot(venueCurrent, 5.0, 5_000_000, 3.0, 10.0, 0.5),
				snapshot(venueBetter, 12.0, 250_000, 4.0, 10.0, 0.5),
			},
		},
	}

	e := newEvaluator(t, feed, &stubPolicies{pol: balancedPolicy()})

	cands, err := e.Evaluate(context.Background(), testUser)
	require.NoError(t, err)
	assert.Empty(t, cands, "thin venues are not eligible")
}

func TestEvaluate_TieBreaksByGasThenTVL(t *testing.T) {
	t.Parallel()

	// Two venues with identical Calmar; the cheaper one wins.
	feed := &stubFeed{
		positions: []types.Position{position(types.HealthGreen, 5.0)},
		venues: map[string][]types.VenueSnapshot{
			"USDC": {
				snapshot(venueCurrent, 5.0, 5_000_000, 3.0, 10.0, 0.5),
				snapshot(venueBetter, 12.0, 8_000_000, 4.0, 10.0, 2.0),
				snapshot(venueBest, 12.0, 6_000_000, 4.0, 10.0, 0.3),
			},
		},
	}

	e := newEvaluator(t, feed, &stubPolicies{pol: balancedPolicy()})

	cands, err := e.Evaluate(context.Background(), testUser)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, venueBest, cands[0].ToVenue.Venue)
	require.Len(t, cands[0].Options, 1, "runner-up is kept as an option")
	assert.Equal(t, venueBetter, cands[0].Options[0].Venue)
}

func TestEvaluate_RedHealthEmergencyExit(t *testing.T) {
	t.Parallel()

	// No yield improvement anywhere, but the position is red: exit to the
	// safest eligible venue anyway.
	feed := &stubFeed{
		positions: []types.Position{position(types.HealthRed, 9.0)},
		venues: map[string][]types.VenueSnapshot{
			"USDC": {
				snapshot(venueCurrent, 9.0, 5_000_000, 5.0, 12.0, 0.5),
				snapshot(venueBetter, 3.0, 8_000_000, 1.0, 4.0, 0.5),
				snapshot(venueBest, 3.5, 2_000_000, 2.0, 5.0, 0.2),
			},
		},
	}

	e := newEvaluator(t, feed, &stubPolicies{pol: balancedPolicy()})

	cands, err := e.Evaluate(context.Background(), testUser)
	require.NoError(t, err)
	require.Len(t, cands, 1)

	c := cands[0]
	assert.True(t, c.Proof.SafetyRepair)
	assert.Equal(t, venueBetter, c.ToVenue.Venue, "safest venue wins regardless of yield")
	assert.Contains(t, c.Proof.Explanation, "Emergency exit")
}

func TestEvaluate_SafetyRepairsRankFirst(t *testing.T) {
	t.Parallel()

	redPos := position(types.HealthRed, 5.0)
	greenPos := position(types.HealthGreen, 5.0)
	greenPos.ID = "pos-2"
	greenPos.Venue = venueBest

	feed := &stubFeed{
		positions: []types.Position{greenPos, redPos},
		venues: map[string][]types.VenueSnapshot{
			"USDC": {
				snapshot(venueCurrent, 5.0, 5_000_000, 3.0, 10.0, 0.5),
				snapshot(venueBest, 5.0, 5_000_000, 3.0, 10.0, 0.5),
				snapshot(venueBetter, 15.0, 8_000_000, 2.0, 8.0, 0.5),
			},
		},
	}

	e := newEvaluator(t, feed, &stubPolicies{pol: balancedPolicy()})

	cands, err := e.Evaluate(context.Background(), testUser)
	require.NoError(t, err)
	require.Len(t, cands, 2)
	assert.True(t, cands[0].Proof.SafetyRepair, "safety repair must rank ahead of rotations")
	assert.False(t, cands[1].Proof.SafetyRepair)
}

func TestEvaluate_StaleFeedSkipsPositionNotCycle(t *testing.T) {
	t.Parallel()

	stale := snapshot(venueCurrent, 5.0, 5_000_000, 3.0, 10.0, 0.5)
	stale.ObservedAt = time.Now().Add(-time.Hour)

	freshPos := position(types.HealthGreen, 5.0)
	freshPos.ID = "pos-2"
	freshPos.Asset = "ETH"
	freshPos.Venue = venueBest

	feed := &stubFeed{
		positions: []types.Position{position(types.HealthGreen, 5.0), freshPos},
		venues: map[string][]types.VenueSnapshot{
			"USDC": {stale},
			"ETH": {
				snapshot(venueBest, 4.0, 5_000_000, 3.0, 10.0, 0.5),
				snapshot(venueBetter, 12.0, 8_000_000, 4.0, 10.0, 0.5),
			},
		},
	}
	feed.venues["ETH"][0].Asset = "ETH"
	feed.venues["ETH"][1].Asset = "ETH"

	e := newEvaluator(t, feed, &stubPolicies{pol: balancedPolicy()})

	cands, err := e.Evaluate(context.Background(), testUser)
	require.NoError(t, err, "a stale position must not fail the cycle")
	require.Len(t, cands, 1)
	assert.Equal(t, "pos-2", cands[0].Position.ID)
}

func TestEvaluate_FeedErrorSkipsPosition(t *testing.T) {
	t.Parallel()

	feed := &stubFeed{
		positions: []types.Position{position(types.HealthGreen, 5.0)},
		venuesErr: errors.New("feed down"),
	}

	e := newEvaluator(t, feed, &stubPolicies{pol: balancedPolicy()})

	cands, err := e.Evaluate(context.Background(), testUser)
	require.NoError(t, err)
	assert.Empty(t, cands)
}

func TestEvaluate_YoungPositionSkipped(t *testing.T) {
	t.Parallel()

	young := position(types.HealthGreen, 5.0)
	young.ObservedAt = time.Now().Add(-time.Hour)

	feed := &stubFeed{
		positions: []types.Position{young},
		venues: map[string][]types.VenueSnapshot{
			"USDC": {
				snapshot(venueCurrent, 5.0, 5_000_000, 3.0, 10.0, 0.5),
				snapshot(venueBetter, 12.0, 8_000_000, 4.0, 10.0, 0.5),
			},
		},
	}

	e := newEvaluator(t, feed, &stubPolicies{pol: balancedPolicy()})

	cands, err := e.Evaluate(context.Background(), testUser)
	require.NoError(t, err)
	assert.Empty(t, cands, "positions younger than the minimum age are not evaluated")
}

func TestEvaluate_CandidateCap(t *testing.T) {
	t.Parallel()

	var positions []types.Position
	venues := []types.VenueSnapshot{snapshot(venueBetter, 12.0, 8_000_000, 4.0, 10.0, 0.5)}
	for i := 0; i < 5; i++ {
		p := position(types.HealthGreen, 5.0)
		p.ID = string(rune('a' + i))
		p.Venue = common.BigToAddress(common.Big1)
		positions = append(positions, p)
	}
	venues = append(venues, snapshot(common.BigToAddress(common.Big1), 5.0, 5_000_000, 3.0, 10.0, 0.5))

	feed := &stubFeed{positions: positions, venues: map[string][]types.VenueSnapshot{"USDC": venues}}
	e := newEvaluator(t, feed, &stubPolicies{pol: balancedPolicy()})

	cands, err := e.Evaluate(context.Background(), testUser)
	require.NoError(t, err)
	assert.Len(t, cands, 3, "per-cycle cap must hold")
}
