package delegation

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/perennialfi/autopilot/pkg/types"
	"github.com/perennialfi/autopilot/pkg/wallet"
	"go.uber.org/zap"
)

// Manager drives both signature flows and enforces replay and deadline
// rules. Authorization issuance is serialized per (user, chain): the
// nonce-fetch-then-sign sequence is not atomic across the network boundary,
// so two concurrent issuances could otherwise obtain the same forwarder
// nonce.
type Manager struct {
	signer       wallet.Signer
	relayer      RelayerClient
	perms        PermissionStore
	nonces       NonceStore
	gate         Gate
	forwarders   map[int64]common.Address
	authDeadline time.Duration
	logger       *zap.Logger

	mu         sync.Mutex
	issueLocks map[string]*sync.Mutex
}

// Config holds delegation manager configuration.
type Config struct {
	Signer          wallet.Signer
	Relayer         RelayerClient
	PermissionStore PermissionStore
	NonceStore      NonceStore
	Gate            Gate
	Forwarders      map[int64]common.Address // Trusted forwarder per chain
	AuthDeadline    time.Duration            // Short; bounds leaked-signature exposure
	Logger          *zap.Logger
}

// NewManager creates a delegation manager.
func NewManager(cfg *Config) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Signer == nil {
		return nil, fmt.Errorf("signer cannot be nil")
	}
	if cfg.Relayer == nil {
		return nil, fmt.Errorf("relayer client cannot be nil")
	}
	if cfg.PermissionStore == nil {
		return nil, fmt.Errorf("permission store cannot be nil")
	}
	if cfg.NonceStore == nil {
		return nil, fmt.Errorf("nonce store cannot be nil")
	}
	if cfg.Gate == nil {
		return nil, fmt.Errorf("gate cannot be nil")
	}
	if len(cfg.Forwarders) == 0 {
		return nil, fmt.Errorf("at least one forwarder must be configured")
	}
	if cfg.AuthDeadline <= 0 {
		return nil, fmt.Errorf("auth deadline must be positive")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	return &Manager{
		signer:       cfg.Signer,
		relayer:      cfg.Relayer,
		perms:        cfg.PermissionStore,
		nonces:       cfg.NonceStore,
		gate:         cfg.Gate,
		forwarders:   cfg.Forwarders,
		authDeadline: cfg.AuthDeadline,
		logger:       cfg.Logger,
		issueLocks:   make(map[string]*sync.Mutex),
	}, nil
}

func (m *Manager) issueLock(user common.Address, chainID int64) *sync.Mutex {
	key := fmt.Sprintf("%s/%d", user.Hex(), chainID)

	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.issueLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		m.issueLocks[key] = lock
	}

	return lock
}

// GrantSpendPermission constructs, signs and stores a spend permission.
// The nonce is caller-generated and unique per (user, chain); a
// user-rejected signing aborts with no partial state.
func (m *Manager) GrantSpendPermission(ctx context.Context, chainID int64, token common.Address, maxAmountWei *big.Int, validFor time.Duration) (*SpendPermission, error) {
	if err := m.gate.Allow(chainID); err != nil {
		return nil, err
	}

	forwarder, ok := m.forwarders[chainID]
	if !ok {
		return nil, types.NewRepairError(types.ReasonInvalidInput, "no forwarder configured for chain %d", chainID)
	}
	if maxAmountWei == nil || maxAmountWei.Sign() <= 0 {
		return nil, types.NewRepairError(types.ReasonInvalidInput, "max amount must be positive")
	}
	if validFor <= 0 {
		return nil, types.NewRepairError(types.ReasonInvalidInput, "validity window must be positive")
	}

	now := time.Now()
	perm := &SpendPermission{
		ID:           uuid.New().String(),
		User:         m.signer.Address(),
		ChainID:      chainID,
		Token:        token,
		MaxAmountWei: new(big.Int).Set(maxAmountWei),
		RemainingWei: new(big.Int).Set(maxAmountWei),
		ValidUntil:   now.Add(validFor),
		Nonce:        uint64(now.UnixNano()),
		CreatedAt:    now,
	}

	sig, err := m.signer.SignTypedData(ctx, SpendPermissionTypedData(perm, forwarder))
	if err != nil {
		if types.HasReason(err, types.ReasonUserRejected) {
			m.logger.Info("permission-signing-rejected",
				zap.String("user", perm.User.Hex()),
				zap.Int64("chain_id", chainID))
			return nil, err
		}
		return nil, fmt.Errorf("sign spend permission: %w", err)
	}
	perm.Signature = sig

	// Local first: the relayer must never hold a permission the engine
	// does not track. A relayer failure revokes the local copy so the
	// grant fails closed.
	if err := m.perms.PutPermission(ctx, perm); err != nil {
		return nil, fmt.Errorf("store permission locally: %w", err)
	}

	if err := m.relayer.StorePermission(ctx, perm); err != nil {
		if revokeErr := m.perms.RevokePermission(ctx, perm.ID); revokeErr != nil {
			m.logger.Error("permission-rollback-failed",
				zap.String("permission_id", perm.ID),
				zap.Error(revokeErr))
		}
		return nil, fmt.Errorf("store permission with relayer: %w", err)
	}

	PermissionsGrantedTotal.Inc()
	m.logger.Info("spend-permission-granted",
		zap.String("permission_id", perm.ID),
		zap.String("user", perm.User.Hex()),
		zap.Int64("chain_id", chainID),
		zap.String("token", token.Hex()),
		zap.String("max_amount_wei", perm.MaxAmountWei.String()),
		zap.Time("valid_until", perm.ValidUntil))

	return perm, nil
}

// AuthorizeRepair constructs and signs a one-shot repair authorization.
// The forwarder nonce is fetched fresh under the per-(user, chain) issuance
// lock; the deadline is short by construction.
func (m *Manager) AuthorizeRepair(ctx context.Context, chainID int64, fromVault, toVault common.Address, amountWei *big.Int) (*RepairAuthorization, error) {
	if err := m.gate.Allow(chainID); err != nil {
		return nil, err
	}

	forwarder, ok := m.forwarders[chainID]
	if !ok {
		return nil, types.NewRepairError(types.ReasonInvalidInput, "no forwarder configured for chain %d", chainID)
	}
	if amountWei == nil || amountWei.Sign() <= 0 {
		return nil, types.NewRepairError(types.ReasonInvalidInput, "amount must be positive")
	}
	if fromVault == toVault {
		return nil, types.NewRepairError(types.ReasonInvalidInput, "from and to vaults must differ")
	}

	user := m.signer.Address()

	lock := m.issueLock(user, chainID)
	lock.Lock()
	defer lock.Unlock()

	nonce, err := m.relayer.ForwarderNonce(ctx, user, chainID)
	if err != nil {
		return nil, types.WrapRepairError(types.ReasonNetworkUnavail, err, "fetch forwarder nonce")
	}

	auth := &RepairAuthorization{
		User:      user,
		ChainID:   chainID,
		FromVault: fromVault,
		ToVault:   toVault,
		AmountWei: new(big.Int).Set(amountWei),
		Deadline:  time.Now().Add(m.authDeadline),
		Nonce:     nonce,
	}

	sig, err := m.signer.SignTypedData(ctx, RepairAuthorizationTypedData(auth, forwarder))
	if err != nil {
		if types.HasReason(err, types.ReasonUserRejected) {
			return nil, err
		}
		return nil, fmt.Errorf("sign repair authorization: %w", err)
	}
	auth.Signature = sig

	AuthorizationsIssuedTotal.Inc()
	m.logger.Info("repair-authorized",
		zap.String("user", user.Hex()),
		zap.Int64("chain_id", chainID),
		zap.String("from_vault", fromVault.Hex()),
		zap.String("to_vault", toVault.Hex()),
		zap.Uint64("nonce", nonce),
		zap.Time("deadline", auth.Deadline))

	return auth, nil
}

// ConsumeAuthorization enforces the one-shot rule before a submission. The
// deadline check runs first and is unconditional, independent of nonce
// state; then the (user, chain, nonce) triple is recorded so a second use
// is rejected.
func (m *Manager) ConsumeAuthorization(ctx context.Context, auth *RepairAuthorization) error {
	if time.Now().After(auth.Deadline) {
		ReplaysRejectedTotal.Inc()
		return types.NewRepairError(types.ReasonReplayOrExpired,
			"authorization deadline %s has passed", auth.Deadline.Format(time.RFC3339))
	}

	err := m.nonces.ConsumeNonce(ctx, auth.User, auth.ChainID, auth.Nonce)
	if errors.Is(err, ErrNonceUsed) {
		ReplaysRejectedTotal.Inc()
		return types.NewRepairError(types.ReasonReplayOrExpired,
			"nonce %d already consumed for chain %d", auth.Nonce, auth.ChainID)
	}
	if err != nil {
		return fmt.Errorf("consume nonce: %w", err)
	}

	return nil
}

// ReleaseAuthorization frees a consumed authorization after a definite
// submission rejection. The forwarder nonce did not advance, so the same
// nonce must stay usable for the next authorization.
func (m *Manager) ReleaseAuthorization(ctx context.Context, auth *RepairAuthorization) error {
	if err := m.nonces.ReleaseNonce(ctx, auth.User, auth.ChainID, auth.Nonce); err != nil {
		return fmt.Errorf("release nonce: %w", err)
	}

	m.logger.Info("authorization-released",
		zap.String("user", auth.User.Hex()),
		zap.Int64("chain_id", auth.ChainID),
		zap.Uint64("nonce", auth.Nonce))

	return nil
}

// Revoke invalidates a spend permission. Local state is revoked first so
// our own submissions fail closed even if the relayer call then fails.
func (m *Manager) Revoke(ctx context.Context, permissionID string) error {
	perm, err := m.perms.GetPermission(ctx, permissionID)
	if err != nil {
		return fmt.Errorf("load permission: %w", err)
	}

	if err := m.perms.RevokePermission(ctx, permissionID); err != nil {
		return fmt.Errorf("revoke permission locally: %w", err)
	}

	if err := m.relayer.RevokePermission(ctx, perm.User, perm.ChainID, perm.Nonce); err != nil {
		return fmt.Errorf("revoke permission with relayer: %w", err)
	}

	PermissionsRevokedTotal.Inc()
	m.logger.Info("spend-permission-revoked",
		zap.String("permission_id", permissionID),
		zap.String("user", perm.User.Hex()),
		zap.Int64("chain_id", perm.ChainID))

	return nil
}
