package policy

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Store is the persistence interface for policies. Implementations live in
// internal/storage (postgres and in-memory).
type Store interface {
	// GetPolicy returns the active policy for a user.
	// Returns ErrNotFound if the user has none.
	GetPolicy(ctx context.Context, user common.Address) (Versioned, error)

	// PutPolicy stores a versioned policy, replacing any prior version.
	PutPolicy(ctx context.Context, v Versioned) error
}

// Manager validates and versions policy mutations. Each user has exactly
// one active policy; every update replaces it with a bumped version.
type Manager struct {
	store  Store
	logger *zap.Logger
}

// NewManager creates a policy manager.
func NewManager(store Store, logger *zap.Logger) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	return &Manager{store: store, logger: logger}, nil
}

// Get returns the user's active policy and its version.
func (m *Manager) Get(ctx context.Context, user common.Address) (Versioned, error) {
	return m.store.GetPolicy(ctx, user)
}

// Update validates and stores a new policy, bumping the version.
// This is the only mutation path.
func (m *Manager) Update(ctx context.Context, p Policy) (Versioned, error) {
	if err := Validate(p); err != nil {
		PolicyUpdatesRejectedTotal.Inc()
		return Versioned{}, fmt.Errorf("validate policy: %w", err)
	}

	version := int64(1)
	current, err := m.store.GetPolicy(ctx, p.User)
	if err == nil {
		version = current.Version + 1
	} else if err != ErrNotFound {
		return Versioned{}, fmt.Errorf("load current policy: %w", err)
	}

	next := Versioned{Policy: p, Version: version}
	if err := m.store.PutPolicy(ctx, next); err != nil {
		return Versioned{}, fmt.Errorf("store policy: %w", err)
	}

	PolicyUpdatesTotal.Inc()
	m.logger.Info("policy-updated",
		zap.String("user", p.User.Hex()),
		zap.Int64("version", version),
		zap.String("risk_tier", string(p.RiskTier)),
		zap.String("autonomy", string(p.Autonomy)),
		zap.Float64("target_apy", p.TargetAPY),
		zap.Float64("max_drawdown", p.MaxDrawdown))

	return next, nil
}
