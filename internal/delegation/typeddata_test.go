package delegation

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hashTypedData(t *testing.T, data apitypes.TypedData) []byte {
	t.Helper()

	hash, _, err := apitypes.TypedDataAndHash(data)
	require.NoError(t, err, "typed data must be hashable")

	return hash
}

func TestSpendPermissionTypedData_Hashable(t *testing.T) {
	t.Parallel()

	perm := &SpendPermission{
		User:         common.HexToAddress("0x01"),
		ChainID:      137,
		Token:        common.HexToAddress("0x02"),
		MaxAmountWei: big.NewInt(1_000_000),
		ValidUntil:   time.Unix(1_900_000_000, 0),
		Nonce:        5,
	}
	forwarder := common.HexToAddress("0xf0f0")

	first := hashTypedData(t, SpendPermissionTypedData(perm, forwarder))
	second := hashTypedData(t, SpendPermissionTypedData(perm, forwarder))
	assert.Equal(t, first, second, "hashing must be deterministic")
}

func TestRepairAuthorizationTypedData_BindsAllFields(t *testing.T) {
	t.Parallel()

	forwarder := common.HexToAddress("0xf0f0")
	base := &RepairAuthorization{
		User:      common.HexToAddress("0x01"),
		ChainID:   137,
		FromVault: common.HexToAddress("0xaaaa"),
		ToVault:   common.HexToAddress("0xbbbb"),
		AmountWei: big.NewInt(5_000),
		Deadline:  time.Unix(1_900_000_000, 0),
		Nonce:     9,
	}
	baseHash := hashTypedData(t, RepairAuthorizationTypedData(base, forwarder))

	mutations := map[string]func(a *RepairAuthorization){
		"chain":      func(a *RepairAuthorization) { a.ChainID = 1 },
		"from vault": func(a *RepairAuthorization) { a.FromVault = common.HexToAddress("0xcccc") },
		"to vault":   func(a *RepairAuthorization) { a.ToVault = common.HexToAddress("0xdddd") },
		"amount":     func(a *RepairAuthorization) { a.AmountWei = big.NewInt(5_001) },
		"deadline":   func(a *RepairAuthorization) { a.Deadline = a.Deadline.Add(time.Second) },
		"nonce":      func(a *RepairAuthorization) { a.Nonce = 10 },
	}

	for name, mutate := range mutations {
		mutated := *base
		mutated.AmountWei = new(big.Int).Set(base.AmountWei)
		mutate(&mutated)

		hash := hashTypedData(t, RepairAuthorizationTypedData(&mutated, forwarder))
		assert.NotEqual(t, baseHash, hash, "changing %s must change the signed digest", name)
	}
}

func TestTypedData_DifferentForwardersDiffer(t *testing.T) {
	t.Parallel()

	auth := &RepairAuthorization{
		ChainID:   137,
		FromVault: common.HexToAddress("0xaaaa"),
		ToVault:   common.HexToAddress("0xbbbb"),
		AmountWei: big.NewInt(100),
		Deadline:  time.Unix(1_900_000_000, 0),
		Nonce:     1,
	}

	a := hashTypedData(t, RepairAuthorizationTypedData(auth, common.HexToAddress("0x01")))
	b := hashTypedData(t, RepairAuthorizationTypedData(auth, common.HexToAddress("0x02")))
	assert.NotEqual(t, a, b)
}
