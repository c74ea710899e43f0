package storage

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/perennialfi/autopilot/internal/delegation"
	"github.com/perennialfi/autopilot/internal/ledger"
	"github.com/perennialfi/autopilot/internal/policy"
	"github.com/perennialfi/autopilot/pkg/types"
)

// Memory is an in-memory Storage implementation. Safe for concurrent use.
type Memory struct {
	mu          sync.RWMutex
	policies    map[common.Address]policy.Versioned
	permissions map[string]*delegation.SpendPermission
	nonces      map[string]struct{}
	moves       map[common.Address][]*ledger.MoveRecord
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		policies:    make(map[common.Address]policy.Versioned),
		permissions: make(map[string]*delegation.SpendPermission),
		nonces:      make(map[string]struct{}),
		moves:       make(map[common.Address][]*ledger.MoveRecord),
	}
}

// GetPolicy returns a user's stored policy.
func (m *Memory) GetPolicy(_ context.Context, user common.Address) (policy.Versioned, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.policies[user]
	if !ok {
		return policy.Versioned{}, policy.ErrNotFound
	}

	return v, nil
}

// PutPolicy stores a versioned policy.
func (m *Memory) PutPolicy(_ context.Context, v policy.Versioned) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.policies[v.User] = v

	return nil
}

func copyPermission(p *delegation.SpendPermission) *delegation.SpendPermission {
	cp := *p
	cp.MaxAmountWei = new(big.Int).Set(p.MaxAmountWei)
	cp.RemainingWei = new(big.Int).Set(p.RemainingWei)
	cp.Signature = append([]byte(nil), p.Signature...)

	return &cp
}

// PutPermission stores a spend permission.
func (m *Memory) PutPermission(_ context.Context, p *delegation.SpendPermission) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.permissions[p.ID] = copyPermission(p)

	return nil
}

// GetPermission returns a permission by ID.
func (m *Memory) GetPermission(_ context.Context, id string) (*delegation.SpendPermission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.permissions[id]
	if !ok {
		return nil, delegation.ErrPermissionNotFound
	}

	return copyPermission(p), nil
}

// ActivePermission returns the newest usable permission for the triple.
func (m *Memory) ActivePermission(_ context.Context, user common.Address, chainID int64, token common.Address) (*delegation.SpendPermission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	var best *delegation.SpendPermission
	for _, p := range m.permissions {
		if p.User != user || p.ChainID != chainID || p.Token != token {
			continue
		}
		if p.Revoked || now.After(p.ValidUntil) || p.RemainingWei.Sign() <= 0 {
			continue
		}
		if best == nil || p.CreatedAt.After(best.CreatedAt) {
			best = p
		}
	}

	if best == nil {
		return nil, delegation.ErrPermissionNotFound
	}

	return copyPermission(best), nil
}

// ConsumeHeadroom deducts amount from a permission's remaining headroom.
func (m *Memory) ConsumeHeadroom(_ context.Context, id string, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.permissions[id]
	if !ok || p.Revoked || time.Now().After(p.ValidUntil) {
		return delegation.ErrPermissionNotFound
	}
	if p.RemainingWei.Cmp(amount) < 0 {
		return delegation.ErrInsufficientHeadroom
	}

	p.RemainingWei.Sub(p.RemainingWei, amount)

	return nil
}

// RefundHeadroom returns amount to a permission, capped at its maximum.
func (m *Memory) RefundHeadroom(_ context.Context, id string, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.permissions[id]
	if !ok {
		return delegation.ErrPermissionNotFound
	}

	p.RemainingWei.Add(p.RemainingWei, amount)
	if p.RemainingWei.Cmp(p.MaxAmountWei) > 0 {
		p.RemainingWei.Set(p.MaxAmountWei)
	}

	return nil
}

// RevokePermission marks a permission revoked. Idempotent.
func (m *Memory) RevokePermission(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.permissions[id]
	if !ok {
		return delegation.ErrPermissionNotFound
	}

	p.Revoked = true

	return nil
}

func nonceKey(user common.Address, chainID int64, nonce uint64) string {
	return fmt.Sprintf("%s/%d/%d", user.Hex(), chainID, nonce)
}

// ConsumeNonce records a (user, chain, nonce) triple, once.
func (m *Memory) ConsumeNonce(_ context.Context, user common.Address, chainID int64, nonce uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := nonceKey(user, chainID, nonce)
	if _, used := m.nonces[key]; used {
		return delegation.ErrNonceUsed
	}
	m.nonces[key] = struct{}{}

	return nil
}

// ReleaseNonce frees a consumed triple after a definite submission
// rejection. Releasing an unconsumed triple is a no-op.
func (m *Memory) ReleaseNonce(_ context.Context, user common.Address, chainID int64, nonce uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.nonces, nonceKey(user, chainID, nonce))

	return nil
}

func copyMove(mv *ledger.MoveRecord) *ledger.MoveRecord {
	cp := *mv
	cp.AmountWei = new(big.Int).Set(mv.AmountWei)
	cp.TxRefs = append([]types.TxRef(nil), mv.TxRefs...)

	return &cp
}

// PutMove appends a move record for its user.
func (m *Memory) PutMove(_ context.Context, mv *ledger.MoveRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.moves[mv.User] = append(m.moves[mv.User], copyMove(mv))

	return nil
}

// UpdateMove replaces a stored move record by ID.
func (m *Memory) UpdateMove(_ context.Context, mv *ledger.MoveRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, existing := range m.moves[mv.User] {
		if existing.ID == mv.ID {
			m.moves[mv.User][i] = copyMove(mv)
			return nil
		}
	}

	return fmt.Errorf("move %s not found", mv.ID)
}

// LastMove returns the user's most recent move.
func (m *Memory) LastMove(_ context.Context, user common.Address) (*ledger.MoveRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := m.moves[user]
	if len(records) == 0 {
		return nil, ledger.ErrNoMoves
	}

	return copyMove(records[len(records)-1]), nil
}

// Close is a no-op for the in-memory store.
func (m *Memory) Close() error {
	return nil
}
