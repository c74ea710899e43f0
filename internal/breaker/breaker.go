// Package breaker implements the circuit breaker gating all new repair
// work. The breaker is either global or scoped to a chain; while open, the
// execution router and delegation manager refuse new work. In-flight
// submissions are never aborted.
package breaker

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/perennialfi/autopilot/pkg/types"
	"go.uber.org/zap"
)

// ScopeGlobal trips or resets the breaker for every chain.
const ScopeGlobal int64 = 0

// State is a breaker state for one scope.
type State struct {
	Open         bool
	ChainID      int64 // ScopeGlobal for the global breaker
	Reason       string
	TriggeredAt  time.Time
	AutoResumeAt time.Time // Zero when only an explicit reset closes it
}

// Breaker tracks open/closed state per scope. The hot path (Allow) is
// lock-free while everything is closed.
type Breaker struct {
	anyOpen atomic.Bool

	mu       sync.RWMutex
	global   *State
	perChain map[int64]*State

	logger *zap.Logger
}

// New creates a breaker in the closed state.
func New(logger *zap.Logger) (*Breaker, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	BreakerOpen.Set(0)

	return &Breaker{
		perChain: make(map[int64]*State),
		logger:   logger,
	}, nil
}

// Allow returns nil if new repair work may proceed on the given chain, or a
// CircuitOpen error carrying the breaker's stated reason.
func (b *Breaker) Allow(chainID int64) error {
	if !b.anyOpen.Load() {
		return nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.global != nil {
		return types.NewRepairError(types.ReasonCircuitOpen, "circuit breaker open: %s", b.global.Reason)
	}
	if s, ok := b.perChain[chainID]; ok {
		return types.NewRepairError(types.ReasonCircuitOpen, "circuit breaker open for chain %d: %s", chainID, s.Reason)
	}

	return nil
}

// Trip opens the breaker for the given scope. A zero autoResume means the
// breaker stays open until an explicit Reset.
func (b *Breaker) Trip(chainID int64, reason string, autoResume time.Duration) {
	now := time.Now()
	s := &State{
		Open:        true,
		ChainID:     chainID,
		Reason:      reason,
		TriggeredAt: now,
	}
	if autoResume > 0 {
		s.AutoResumeAt = now.Add(autoResume)
	}

	b.mu.Lock()
	if chainID == ScopeGlobal {
		b.global = s
	} else {
		b.perChain[chainID] = s
	}
	b.mu.Unlock()

	b.anyOpen.Store(true)
	BreakerOpen.Set(1)
	BreakerTripsTotal.Inc()

	b.logger.Warn("breaker-opened",
		zap.Int64("chain_id", chainID),
		zap.String("reason", reason),
		zap.Time("auto_resume_at", s.AutoResumeAt))
}

// Reset closes the breaker for the given scope.
func (b *Breaker) Reset(chainID int64) {
	b.mu.Lock()
	if chainID == ScopeGlobal {
		b.global = nil
	} else {
		delete(b.perChain, chainID)
	}
	open := b.global != nil || len(b.perChain) > 0
	b.mu.Unlock()

	b.anyOpen.Store(open)
	if !open {
		BreakerOpen.Set(0)
	}

	b.logger.Info("breaker-closed", zap.Int64("chain_id", chainID))
}

// Status returns the currently open scopes, global first.
func (b *Breaker) Status() []State {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var states []State
	if b.global != nil {
		states = append(states, *b.global)
	}
	for _, s := range b.perChain {
		states = append(states, *s)
	}

	return states
}

// resumeDue closes every scope whose auto-resume time has passed.
func (b *Breaker) resumeDue(now time.Time) {
	b.mu.Lock()
	var resumed []int64
	if b.global != nil && !b.global.AutoResumeAt.IsZero() && !now.Before(b.global.AutoResumeAt) {
		b.global = nil
		resumed = append(resumed, ScopeGlobal)
	}
	for id, s := range b.perChain {
		if !s.AutoResumeAt.IsZero() && !now.Before(s.AutoResumeAt) {
			delete(b.perChain, id)
			resumed = append(resumed, id)
		}
	}
	open := b.global != nil || len(b.perChain) > 0
	b.mu.Unlock()

	if len(resumed) == 0 {
		return
	}

	b.anyOpen.Store(open)
	if !open {
		BreakerOpen.Set(0)
	}

	for _, id := range resumed {
		BreakerAutoResumesTotal.Inc()
		b.logger.Info("breaker-auto-resumed", zap.Int64("chain_id", id))
	}
}
