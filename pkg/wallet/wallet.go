// Package wallet provides the signing capability consumed by the engine:
// EIP-712 typed-data signatures and direct transaction submission. The
// Signer interface is implemented locally (ECDSA key) here and by
// interactive frontends elsewhere; interactive implementations surface a
// declined prompt as a UserRejected error.
package wallet

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/perennialfi/autopilot/pkg/types"
)

// TxRequest describes a transaction to submit.
type TxRequest struct {
	ChainID int64
	To      common.Address
	Data    []byte
	Value   *big.Int // nil means zero
}

// Signer is the wallet capability the engine depends on. Both calls may
// block indefinitely on user interaction and may fail or be user-rejected.
type Signer interface {
	// Address returns the signer's account address.
	Address() common.Address

	// SignTypedData signs EIP-712 structured data and returns the
	// 65-byte signature.
	SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error)

	// SendTransaction signs and submits a transaction, returning its
	// reference without waiting for confirmation.
	SendTransaction(ctx context.Context, req TxRequest) (types.TxRef, error)

	// WaitConfirmed blocks until the referenced transaction is mined,
	// returning an error if it reverted or the context ended first.
	WaitConfirmed(ctx context.Context, ref types.TxRef) error
}
