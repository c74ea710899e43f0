package router_test

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/perennialfi/autopilot/internal/delegation"
	"github.com/perennialfi/autopilot/internal/evaluator"
	"github.com/perennialfi/autopilot/internal/ledger"
	"github.com/perennialfi/autopilot/internal/policy"
	"github.com/perennialfi/autopilot/internal/router"
	"github.com/perennialfi/autopilot/internal/storage"
	"github.com/perennialfi/autopilot/internal/testutil"
	"github.com/perennialfi/autopilot/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var (
	tokenUSDC    = common.HexToAddress("0x2791bca1f2de4661ed88a30c99a7a9449aa84174")
	venueCurrent = common.HexToAddress("0xaaaa")
	venueTarget  = common.HexToAddress("0xbbbb")
	repairAmount = big.NewInt(1_000_000)
)

type reportedOutcome struct {
	attemptID string
	refs      []types.TxRef
	success   bool
	reason    string
}

type recordingReporter struct {
	outcomes []reportedOutcome
}

func (r *recordingReporter) ReportOutcome(_ context.Context, attemptID string, refs []types.TxRef, success bool, reason string) error {
	r.outcomes = append(r.outcomes, reportedOutcome{attemptID, refs, success, reason})
	return nil
}

type stubFeed struct{}

func (stubFeed) Positions(context.Context, common.Address) ([]types.Position, error) {
	return nil, nil
}

func (stubFeed) Venues(context.Context, string) ([]types.VenueSnapshot, error) {
	return nil, nil
}

type fixture struct {
	router   *router.Router
	signer   *testutil.MockSigner
	relayer  *testutil.MockRelayer
	store    *storage.Memory
	policies *policy.Manager
	gate     *testutil.StubGate
	reporter *recordingReporter
	deleg    *delegation.Manager
	ledger   *ledger.Ledger
	user     common.Address
}

func newFixture(t *testing.T, autonomy types.AutonomyLevel) *fixture {
	t.Helper()

	logger := zaptest.NewLogger(t)
	signer := testutil.NewMockSigner()
	relay := testutil.NewMockRelayer()
	store := storage.NewMemory()
	gate := &testutil.StubGate{}
	reporter := &recordingReporter{}

	policies, err := policy.NewManager(store, logger)
	require.NoError(t, err)

	_, err = policies.Update(context.Background(), policy.Policy{
		User:        signer.Address(),
		TargetAPY:   8.0,
		MaxDrawdown: 20.0,
		RiskTier:    types.TierBalanced,
		Autonomy:    autonomy,
	})
	require.NoError(t, err)

	deleg, err := delegation.NewManager(&delegation.Config{
		Signer:          signer,
		Relayer:         relay,
		PermissionStore: store,
		NonceStore:      store,
		Gate:            gate,
		Forwarders:      map[int64]common.Address{137: common.HexToAddress("0xf0f0")},
		AuthDeadline:    5 * time.Minute,
		Logger:          logger,
	})
	require.NoError(t, err)

	eval, err := evaluator.New(&evaluator.Config{
		Feed:                 stubFeed{},
		Policies:             policies,
		MinCalmarImprovement: 0.10,
		MinTVL:               1_000_000,
		MaxRiskDelta:         2.0,
		MaxCandidates:        3,
		StaleAfter:           10 * time.Minute,
		Logger:               logger,
	})
	require.NoError(t, err)

	led, err := ledger.New(store, 15*time.Minute, logger)
	require.NoError(t, err)

	rt, err := router.New(&router.Config{
		Signer:     signer,
		Authorizer: deleg,
		Submitter:  relay,
		Policies:   policies,
		Verifier:   eval,
		Perms:      store,
		Ledger:     led,
		Reporter:   reporter,
		Gate:       gate,
		Token:      tokenUSDC,
		Logger:     logger,
	})
	require.NoError(t, err)

	return &fixture{
		router:   rt,
		signer:   signer,
		relayer:  relay,
		store:    store,
		policies: policies,
		gate:     gate,
		reporter: reporter,
		deleg:    deleg,
		ledger:   led,
		user:     signer.Address(),
	}
}

func (f *fixture) candidate() *evaluator.Candidate {
	now := time.Now()

	return &evaluator.Candidate{
		ID: "cand-1",
		Position: types.Position{
			ID:           "pos-1",
			ChainID:      137,
			Venue:        venueCurrent,
			Asset:        "USDC",
			Principal:    1000,
			CurrentValue: 1010,
			CurrentAPY:   5.0,
			Health:       types.HealthGreen,
			ObservedAt:   now.Add(-48 * time.Hour),
		},
		CurrentVenue: types.VenueSnapshot{
			ChainID: 137, Venue: venueCurrent, Asset: "USDC",
			APY: 5.0, TVL: 5_000_000, RiskScore: 3.0, MaxDrawdown: 10.0, GasUSD: 0.5,
			ObservedAt: now,
		},
		ToVenue: types.VenueSnapshot{
			ChainID: 137, Venue: venueTarget, Asset: "USDC",
			APY: 12.0, TVL: 8_000_000, RiskScore: 4.0, MaxDrawdown: 10.0, GasUSD: 0.5,
			ObservedAt: now,
		},
		EstimatedAPYDelta: 7.0,
		EstimatedGasUSD:   0.5,
		Proof:             evaluator.Proof{CalmarImprovement: 1.4, TVLStabilityOK: true, PolicyAligned: true},
		PolicyVersion:     1,
		GeneratedAt:       now,
	}
}

// grantPermission issues a spend permission large enough for one repair.
func (f *fixture) grantPermission(t *testing.T) *delegation.SpendPermission {
	t.Helper()

	perm, err := f.deleg.GrantSpendPermission(context.Background(), 137, tokenUSDC, big.NewInt(5_000_000), time.Hour)
	require.NoError(t, err)

	return perm
}

func TestExecute_RelayerPath(t *testing.T) {
	t.Parallel()

	f := newFixture(t, types.AutonomyAutoSpend)
	perm := f.grantPermission(t)
	ctx := context.Background()

	attempt, err := f.router.Execute(ctx, f.user, f.candidate(), repairAmount)
	require.NoError(t, err)

	assert.Equal(t, router.AttemptConfirmed, attempt.State)
	assert.Equal(t, router.PathRelayer, attempt.Path)
	require.Len(t, attempt.TxRefs, 1)
	assert.Equal(t, 1, f.relayer.SubmissionCount())
	assert.Zero(t, f.signer.SentCount(), "relayer path sends no direct transactions")

	// Headroom consumed.
	stored, err := f.store.GetPermission(ctx, perm.ID)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(4_000_000), stored.RemainingWei)

	// Move recorded with an open revert window.
	move, err := f.ledger.LastMove(ctx, f.user)
	require.NoError(t, err)
	assert.Equal(t, ledger.MoveRevertible, move.State)
	assert.Equal(t, venueCurrent, move.FromVault)
	assert.Equal(t, venueTarget, move.ToVault)

	// Success reported.
	require.Len(t, f.reporter.outcomes, 1)
	assert.True(t, f.reporter.outcomes[0].success)
	assert.Equal(t, attempt.ID, f.reporter.outcomes[0].attemptID)
}

func TestExecute_ManualFallbackWithoutPermission(t *testing.T) {
	t.Parallel()

	f := newFixture(t, types.AutonomyAutoBounded)

	attempt, err := f.router.Execute(context.Background(), f.user, f.candidate(), repairAmount)
	require.NoError(t, err)

	assert.Equal(t, router.AttemptConfirmed, attempt.State)
	assert.Equal(t, router.PathManual, attempt.Path)
	assert.Len(t, attempt.TxRefs, 2, "withdraw and deposit legs")
	assert.Equal(t, 2, f.signer.SentCount())

	// The legs target the right vaults in order.
	assert.Equal(t, venueCurrent, f.signer.Sent[0].To)
	assert.Equal(t, venueTarget, f.signer.Sent[1].To)
}

func TestExecute_PausedChainFallsBackToManual(t *testing.T) {
	t.Parallel()

	f := newFixture(t, types.AutonomyAutoSpend)
	f.grantPermission(t)
	f.relayer.SetPaused(137, true)

	attempt, err := f.router.Execute(context.Background(), f.user, f.candidate(), repairAmount)
	require.NoError(t, err)

	assert.Equal(t, router.PathManual, attempt.Path)
	assert.Zero(t, f.relayer.SubmissionCount())
}

func TestExecute_ApproveEachUsesManualPath(t *testing.T) {
	t.Parallel()

	f := newFixture(t, types.AutonomyApproveEach)
	f.grantPermission(t)

	attempt, err := f.router.Execute(context.Background(), f.user, f.candidate(), repairAmount)
	require.NoError(t, err)

	assert.Equal(t, router.PathManual, attempt.Path, "approve-each never uses the relayer")
	assert.Zero(t, f.relayer.SubmissionCount())
}

func TestExecute_NotifyOnlyRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t, types.AutonomyNotifyOnly)

	attempt, err := f.router.Execute(context.Background(), f.user, f.candidate(), repairAmount)
	require.Error(t, err)

	assert.Equal(t, router.AttemptRejected, attempt.State)
	assert.True(t, types.HasReason(err, types.ReasonPolicyViolation))
	assert.NotEmpty(t, attempt.Reason)
	assert.Zero(t, f.signer.SentCount())
}

func TestExecute_BreakerOpenRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t, types.AutonomyAutoSpend)
	f.gate.Err = types.NewRepairError(types.ReasonCircuitOpen, "gas spike on chain 137")

	attempt, err := f.router.Execute(context.Background(), f.user, f.candidate(), repairAmount)
	require.Error(t, err)

	assert.Equal(t, router.AttemptRejected, attempt.State)
	assert.True(t, types.HasReason(err, types.ReasonCircuitOpen))
	assert.Contains(t, attempt.Reason, "gas spike")
	assert.Zero(t, f.signer.SentCount())
	assert.Zero(t, f.relayer.SubmissionCount())
}

func TestExecute_PolicyRevalidationRejectsStaleCandidate(t *testing.T) {
	t.Parallel()

	f := newFixture(t, types.AutonomyAutoSpend)
	cand := f.candidate()

	// The user tightens their policy after the candidate was proposed.
	_, err := f.policies.Update(context.Background(), policy.Policy{
		User:        f.user,
		TargetAPY:   8.0,
		MaxDrawdown: 20.0,
		RiskTier:    types.TierFortress,
		Autonomy:    types.AutonomyAutoSpend,
	})
	require.NoError(t, err)

	attempt, err := f.router.Execute(context.Background(), f.user, cand, repairAmount)
	require.Error(t, err)

	assert.Equal(t, router.AttemptRejected, attempt.State)
	assert.True(t, types.HasReason(err, types.ReasonPolicyViolation))
	assert.Zero(t, f.signer.SentCount())
}

func TestExecute_MisalignedProofNeverExecutes(t *testing.T) {
	t.Parallel()

	f := newFixture(t, types.AutonomyAutoSpend)
	f.grantPermission(t)

	cand := f.candidate()
	cand.Proof.PolicyAligned = false

	attempt, err := f.router.Execute(context.Background(), f.user, cand, repairAmount)
	require.Error(t, err)

	assert.Equal(t, router.AttemptRejected, attempt.State)
	assert.Zero(t, f.signer.SentCount())
	assert.Zero(t, f.relayer.SubmissionCount())
}

func TestExecute_RelayerRejectionRefundsHeadroom(t *testing.T) {
	t.Parallel()

	f := newFixture(t, types.AutonomyAutoSpend)
	perm := f.grantPermission(t)
	f.relayer.SubmitSuccess = false
	f.relayer.SubmitMessage = "forwarder nonce stale"
	ctx := context.Background()

	attempt, err := f.router.Execute(ctx, f.user, f.candidate(), repairAmount)
	require.Error(t, err)

	assert.Equal(t, router.AttemptFailed, attempt.State)
	assert.True(t, types.HasReason(err, types.ReasonReplayOrExpired))

	// Definite rejection: the headroom comes back.
	stored, err := f.store.GetPermission(ctx, perm.ID)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(5_000_000), stored.RemainingWei)

	// Failure reported with its reason code.
	require.Len(t, f.reporter.outcomes, 1)
	assert.False(t, f.reporter.outcomes[0].success)
	assert.Equal(t, string(types.ReasonReplayOrExpired), f.reporter.outcomes[0].reason)
}

func TestExecute_RelayerRejectionFreesNonceForReissue(t *testing.T) {
	t.Parallel()

	f := newFixture(t, types.AutonomyAutoSpend)
	f.grantPermission(t)

	// Forwarder-style accounting: the nonce advances only on execution,
	// so a rejected submission must leave it reusable.
	f.relayer.AdvanceOnExecute = true
	f.relayer.SubmitSuccess = false
	f.relayer.SubmitMessage = "simulation failed"
	ctx := context.Background()

	attempt, err := f.router.Execute(ctx, f.user, f.candidate(), repairAmount)
	require.Error(t, err)
	assert.Equal(t, router.AttemptFailed, attempt.State)
	assert.True(t, types.HasReason(err, types.ReasonReplayOrExpired))

	// The relayer accepts the retry: the same nonce is re-authorized and
	// consumed cleanly instead of being rejected as a replay.
	f.relayer.SubmitSuccess = true

	attempt, err = f.router.Execute(ctx, f.user, f.candidate(), repairAmount)
	require.NoError(t, err, "a definite rejection must not wedge the relayer path")
	assert.Equal(t, router.AttemptConfirmed, attempt.State)
	assert.Equal(t, router.PathRelayer, attempt.Path)

	require.Equal(t, 2, f.relayer.SubmissionCount())
	assert.Equal(t, f.relayer.Submissions[0].Nonce, f.relayer.Submissions[1].Nonce,
		"the forwarder nonce did not advance on rejection")

	// The executed move advanced the forwarder nonce for the next repair.
	attempt, err = f.router.Execute(ctx, f.user, f.candidate(), repairAmount)
	require.NoError(t, err)
	assert.Equal(t, router.AttemptConfirmed, attempt.State)
	assert.Equal(t, f.relayer.Submissions[1].Nonce+1, f.relayer.Submissions[2].Nonce)
}

func TestExecute_RelayerTransportErrorKeepsHeadroomConsumed(t *testing.T) {
	t.Parallel()

	f := newFixture(t, types.AutonomyAutoSpend)
	perm := f.grantPermission(t)
	f.relayer.SubmitErr = errors.New("connection reset")
	ctx := context.Background()

	attempt, err := f.router.Execute(ctx, f.user, f.candidate(), repairAmount)
	require.Error(t, err)

	assert.Equal(t, router.AttemptFailed, attempt.State)
	assert.True(t, types.HasReason(err, types.ReasonNetworkUnavail))

	// The submission may have landed: no refund, no retry.
	stored, err := f.store.GetPermission(ctx, perm.ID)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(4_000_000), stored.RemainingWei,
		"unknown submission outcome must keep headroom consumed")
	assert.Equal(t, 0, f.relayer.SubmissionCount())
}

func TestExecute_PartialExecution(t *testing.T) {
	t.Parallel()

	f := newFixture(t, types.AutonomyAutoBounded)
	f.signer.FailSendsAfter = 1 // Withdraw succeeds, deposit send fails.
	ctx := context.Background()

	attempt, err := f.router.Execute(ctx, f.user, f.candidate(), repairAmount)
	require.Error(t, err)

	assert.Equal(t, router.AttemptFailed, attempt.State)
	assert.True(t, types.HasReason(err, types.ReasonPartialExecution))
	assert.Len(t, attempt.TxRefs, 1, "only the withdraw confirmed")

	// The move is recorded incomplete and is not revertible.
	move, err := f.ledger.LastMove(ctx, f.user)
	require.NoError(t, err)
	assert.Equal(t, ledger.MoveIncomplete, move.State)
	assert.False(t, move.CanRevert)

	require.Len(t, f.reporter.outcomes, 1)
	assert.False(t, f.reporter.outcomes[0].success)
	assert.Equal(t, string(types.ReasonPartialExecution), f.reporter.outcomes[0].reason)
}

func TestExecute_ZeroAmountRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t, types.AutonomyAutoSpend)

	attempt, err := f.router.Execute(context.Background(), f.user, f.candidate(), big.NewInt(0))
	require.Error(t, err)
	assert.Equal(t, router.AttemptRejected, attempt.State)
	assert.True(t, types.HasReason(err, types.ReasonInvalidInput))
}

func TestRevertLast(t *testing.T) {
	t.Parallel()

	f := newFixture(t, types.AutonomyAutoBounded)
	ctx := context.Background()

	_, err := f.router.Execute(ctx, f.user, f.candidate(), repairAmount)
	require.NoError(t, err)
	require.Equal(t, 2, f.signer.SentCount())

	move, err := f.router.RevertLast(ctx, f.user)
	require.NoError(t, err)

	assert.Equal(t, ledger.MoveReverted, move.State)
	require.Equal(t, 4, f.signer.SentCount(), "revert runs the inverse pair")
	assert.Equal(t, venueTarget, f.signer.Sent[2].To, "revert withdraws from the destination")
	assert.Equal(t, venueCurrent, f.signer.Sent[3].To, "revert redeposits into the source")

	// One-shot: a second revert is rejected.
	_, err = f.router.RevertLast(ctx, f.user)
	require.Error(t, err)
	assert.True(t, types.HasReason(err, types.ReasonReplayOrExpired))
}

func TestRevertLast_FailedRevertStaysConsumed(t *testing.T) {
	t.Parallel()

	f := newFixture(t, types.AutonomyAutoBounded)
	ctx := context.Background()

	_, err := f.router.Execute(ctx, f.user, f.candidate(), repairAmount)
	require.NoError(t, err)

	f.signer.FailSends = true

	_, err = f.router.RevertLast(ctx, f.user)
	require.Error(t, err)

	// Eligibility was consumed before the inverse pair ran.
	f.signer.FailSends = false
	_, err = f.router.RevertLast(ctx, f.user)
	require.Error(t, err, "a failed revert is not retryable")
}

func TestRevertLast_BreakerOpenDoesNotConsumeEligibility(t *testing.T) {
	t.Parallel()

	f := newFixture(t, types.AutonomyAutoBounded)
	ctx := context.Background()

	_, err := f.router.Execute(ctx, f.user, f.candidate(), repairAmount)
	require.NoError(t, err)

	f.gate.Err = types.NewRepairError(types.ReasonCircuitOpen, "halted")

	_, err = f.router.RevertLast(ctx, f.user)
	require.Error(t, err)
	assert.True(t, types.HasReason(err, types.ReasonCircuitOpen))

	// Once the breaker closes, the revert is still available.
	f.gate.Err = nil
	move, err := f.router.RevertLast(ctx, f.user)
	require.NoError(t, err)
	assert.Equal(t, ledger.MoveReverted, move.State)
}
