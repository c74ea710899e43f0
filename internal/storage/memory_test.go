package storage

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/perennialfi/autopilot/internal/delegation"
	"github.com/perennialfi/autopilot/internal/ledger"
	"github.com/perennialfi/autopilot/internal/policy"
	"github.com/perennialfi/autopilot/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testUser  = common.HexToAddress("0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B")
	testToken = common.HexToAddress("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174")
)

func testPermission(remaining int64) *delegation.SpendPermission {
	max := big.NewInt(1_000_000_000)
	return &delegation.SpendPermission{
		ID:           uuid.New().String(),
		User:         testUser,
		ChainID:      137,
		Token:        testToken,
		MaxAmountWei: max,
		RemainingWei: big.NewInt(remaining),
		ValidUntil:   time.Now().Add(time.Hour),
		Nonce:        42,
		Signature:    []byte{0x01},
		CreatedAt:    time.Now(),
	}
}

func TestMemoryPolicyRoundTrip(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	ctx := context.Background()

	_, err := m.GetPolicy(ctx, testUser)
	assert.ErrorIs(t, err, policy.ErrNotFound)

	v := policy.Versioned{
		Policy: policy.Policy{
			User:        testUser,
			TargetAPY:   8,
			MaxDrawdown: 15,
			RiskTier:    types.TierBalanced,
			Autonomy:    types.AutonomyAutoSpend,
		},
		Version: 3,
	}
	require.NoError(t, m.PutPolicy(ctx, v))

	got, err := m.GetPolicy(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Version)
	assert.Equal(t, 8.0, got.TargetAPY)
}

func TestMemoryPermissionHeadroom(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	ctx := context.Background()
	perm := testPermission(100)
	require.NoError(t, m.PutPermission(ctx, perm))

	require.NoError(t, m.ConsumeHeadroom(ctx, perm.ID, big.NewInt(60)))

	err := m.ConsumeHeadroom(ctx, perm.ID, big.NewInt(60))
	assert.ErrorIs(t, err, delegation.ErrInsufficientHeadroom)

	require.NoError(t, m.ConsumeHeadroom(ctx, perm.ID, big.NewInt(40)))

	got, err := m.GetPermission(ctx, perm.ID)
	require.NoError(t, err)
	assert.Zero(t, got.RemainingWei.Sign())

	// Refund restores headroom but never past the maximum.
	require.NoError(t, m.RefundHeadroom(ctx, perm.ID, big.NewInt(40)))
	got, err = m.GetPermission(ctx, perm.ID)
	require.NoError(t, err)
	assert.Equal(t, "40", got.RemainingWei.String())
}

func TestMemoryRevokedPermissionFailsClosed(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	ctx := context.Background()
	perm := testPermission(100)
	require.NoError(t, m.PutPermission(ctx, perm))
	require.NoError(t, m.RevokePermission(ctx, perm.ID))

	err := m.ConsumeHeadroom(ctx, perm.ID, big.NewInt(1))
	assert.ErrorIs(t, err, delegation.ErrPermissionNotFound)

	_, err = m.ActivePermission(ctx, testUser, 137, testToken)
	assert.ErrorIs(t, err, delegation.ErrPermissionNotFound)
}

func TestMemoryActivePermissionPicksNewest(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	ctx := context.Background()

	old := testPermission(100)
	old.CreatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, m.PutPermission(ctx, old))

	fresh := testPermission(200)
	require.NoError(t, m.PutPermission(ctx, fresh))

	got, err := m.ActivePermission(ctx, testUser, 137, testToken)
	require.NoError(t, err)
	assert.Equal(t, fresh.ID, got.ID)
}

func TestMemoryNonceSingleUse(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.ConsumeNonce(ctx, testUser, 137, 7))
	assert.ErrorIs(t, m.ConsumeNonce(ctx, testUser, 137, 7), delegation.ErrNonceUsed)

	// Different chain or nonce is a different triple.
	require.NoError(t, m.ConsumeNonce(ctx, testUser, 1, 7))
	require.NoError(t, m.ConsumeNonce(ctx, testUser, 137, 8))
}

func TestMemoryNonceRelease(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.ConsumeNonce(ctx, testUser, 137, 7))
	require.NoError(t, m.ReleaseNonce(ctx, testUser, 137, 7))
	assert.NoError(t, m.ConsumeNonce(ctx, testUser, 137, 7), "a released nonce is consumable again")

	// Releasing an unconsumed triple is a no-op.
	assert.NoError(t, m.ReleaseNonce(ctx, testUser, 137, 99))
}

func TestMemoryNonceConcurrentSingleWinner(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	ctx := context.Background()

	const attempts = 32
	var wg sync.WaitGroup
	wins := make(chan struct{}, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.ConsumeNonce(ctx, testUser, 137, 99) == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	assert.Len(t, wins, 1, "exactly one consumer wins the nonce")
}

func TestMemoryMoves(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	ctx := context.Background()

	_, err := m.LastMove(ctx, testUser)
	assert.ErrorIs(t, err, ledger.ErrNoMoves)

	mv := &ledger.MoveRecord{
		ID:         uuid.New().String(),
		User:       testUser,
		ChainID:    137,
		FromVault:  common.HexToAddress("0x01"),
		ToVault:    common.HexToAddress("0x02"),
		AmountWei:  big.NewInt(500),
		ExecutedAt: time.Now(),
		State:      ledger.MoveRevertible,
		CanRevert:  true,
	}
	require.NoError(t, m.PutMove(ctx, mv))

	got, err := m.LastMove(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, mv.ID, got.ID)

	// Mutating the returned copy does not touch stored state.
	got.State = ledger.MoveReverted
	again, err := m.LastMove(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, ledger.MoveRevertible, again.State)

	got.State = ledger.MoveExpired
	got.CanRevert = false
	require.NoError(t, m.UpdateMove(ctx, got))

	final, err := m.LastMove(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, ledger.MoveExpired, final.State)
	assert.False(t, final.CanRevert)
}
