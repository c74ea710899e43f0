// Package delegation manages the two off-line authorizations behind
// relayer-executed repairs: a time- and amount-bounded spend permission and
// a per-move repair authorization. Both are EIP-712 typed-data signatures;
// free-text signing is never used.
package delegation

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrNonceUsed is returned when a (user, chain, nonce) triple was
	// already consumed.
	ErrNonceUsed = errors.New("nonce already consumed")

	// ErrPermissionNotFound is returned when no active spend permission
	// matches a lookup.
	ErrPermissionNotFound = errors.New("spend permission not found")

	// ErrInsufficientHeadroom is returned when a consume would exceed the
	// permission's remaining amount.
	ErrInsufficientHeadroom = errors.New("insufficient spend permission headroom")
)

// SpendPermission delegates bounded spending to the relayer. It is consumed
// incrementally up to MaxAmountWei until ValidUntil, and revocable at any
// time; revocation immediately invalidates all pending uses.
type SpendPermission struct {
	ID           string
	User         common.Address
	ChainID      int64
	Token        common.Address
	MaxAmountWei *big.Int
	RemainingWei *big.Int
	ValidUntil   time.Time
	Nonce        uint64
	Signature    []byte
	Revoked      bool
	CreatedAt    time.Time
}

// Usable reports whether the permission can cover amountWei right now.
func (p *SpendPermission) Usable(now time.Time, amountWei *big.Int) bool {
	if p.Revoked || now.After(p.ValidUntil) {
		return false
	}

	return p.RemainingWei != nil && p.RemainingWei.Cmp(amountWei) >= 0
}

// RepairAuthorization is a one-shot signed instruction to move amountWei
// from one vault to another. The (User, ChainID, Nonce) triple is never
// accepted twice, and a past Deadline invalidates it unconditionally.
type RepairAuthorization struct {
	User      common.Address
	ChainID   int64
	FromVault common.Address
	ToVault   common.Address
	AmountWei *big.Int
	Deadline  time.Time
	Nonce     uint64
	Signature []byte
}

// PermissionStore persists spend permissions. Implemented by
// internal/storage.
type PermissionStore interface {
	PutPermission(ctx context.Context, p *SpendPermission) error

	// GetPermission returns a permission by ID, or ErrPermissionNotFound.
	GetPermission(ctx context.Context, id string) (*SpendPermission, error)

	// ActivePermission returns the newest non-revoked, non-expired
	// permission for (user, chain, token), or ErrPermissionNotFound.
	ActivePermission(ctx context.Context, user common.Address, chainID int64, token common.Address) (*SpendPermission, error)

	// ConsumeHeadroom atomically deducts amount from the permission's
	// remaining headroom. Fails with ErrInsufficientHeadroom, or
	// ErrPermissionNotFound if the permission is revoked or missing.
	ConsumeHeadroom(ctx context.Context, id string, amount *big.Int) error

	// RefundHeadroom returns amount to the permission after a definite
	// submission rejection.
	RefundHeadroom(ctx context.Context, id string, amount *big.Int) error

	// RevokePermission marks the permission revoked. Idempotent.
	RevokePermission(ctx context.Context, id string) error
}

// NonceStore records consumed authorization nonces for replay protection.
// Implemented by internal/storage.
type NonceStore interface {
	// ConsumeNonce records (user, chain, nonce) as used. Returns
	// ErrNonceUsed if the triple was seen before.
	ConsumeNonce(ctx context.Context, user common.Address, chainID int64, nonce uint64) error

	// ReleaseNonce frees a consumed triple so it can be consumed again.
	// The forwarder nonce only advances on execution, so a definite
	// submission rejection leaves the same nonce valid for the next
	// authorization. Releasing an unconsumed triple is a no-op.
	ReleaseNonce(ctx context.Context, user common.Address, chainID int64, nonce uint64) error
}

// RelayerClient is the subset of the relayer API the delegation manager
// needs. Implemented by internal/relayer.
type RelayerClient interface {
	// ForwarderNonce returns the authoritative next forwarder nonce for
	// (user, chain). Never cached; fetched immediately before signing.
	ForwarderNonce(ctx context.Context, user common.Address, chainID int64) (uint64, error)

	// StorePermission submits a signed spend permission to the backend
	// store.
	StorePermission(ctx context.Context, p *SpendPermission) error

	// RevokePermission invalidates a stored permission server-side.
	RevokePermission(ctx context.Context, user common.Address, chainID int64, nonce uint64) error
}

// Gate is the circuit breaker check consulted before new authorization
// work. Implemented by internal/breaker.
type Gate interface {
	Allow(chainID int64) error
}
