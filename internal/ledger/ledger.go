// Package ledger records executed moves and manages the bounded revert
// window. At most one move is revertible at a time; a new confirmed move
// expires the prior move's revert eligibility, and a revert is one-shot
// regardless of its outcome.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/perennialfi/autopilot/pkg/types"
	"go.uber.org/zap"
)

// ErrNoMoves is returned when a user has no recorded moves.
var ErrNoMoves = errors.New("no recorded moves")

// MoveState is the lifecycle state of a recorded move.
type MoveState string

const (
	// MoveRevertible is a confirmed move still inside its revert window.
	MoveRevertible MoveState = "revertible"
	// MoveReverted is a move undone by a successful revert.
	MoveReverted MoveState = "reverted"
	// MoveExpired is a move whose revert window closed, either by time or
	// by a newer move superseding it.
	MoveExpired MoveState = "expired"
	// MoveIncomplete is a partial execution: funds withdrawn from the
	// source but not redeposited. Requires manual follow-up; never
	// auto-retried.
	MoveIncomplete MoveState = "incomplete"
)

// MoveRecord is a completed (or partially completed) fund move.
type MoveRecord struct {
	ID             string
	User           common.Address
	ChainID        int64
	FromVault      common.Address
	ToVault        common.Address
	AmountWei      *big.Int
	ExecutedAt     time.Time
	TxRefs         []types.TxRef
	State          MoveState
	CanRevert      bool
	RevertDeadline time.Time
}

// MoveStore persists move records. Implemented by internal/storage.
type MoveStore interface {
	PutMove(ctx context.Context, m *MoveRecord) error
	UpdateMove(ctx context.Context, m *MoveRecord) error

	// LastMove returns the user's most recent move, or ErrNoMoves.
	LastMove(ctx context.Context, user common.Address) (*MoveRecord, error)
}

// Ledger manages move records and revert eligibility.
type Ledger struct {
	store  MoveStore
	window time.Duration
	logger *zap.Logger
}

// New creates a ledger with the given revert window.
func New(store MoveStore, window time.Duration, logger *zap.Logger) (*Ledger, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if window <= 0 {
		return nil, fmt.Errorf("revert window must be positive")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	return &Ledger{store: store, window: window, logger: logger}, nil
}

// RecordExecuted records a confirmed move and opens its revert window,
// expiring any prior revertible move.
func (l *Ledger) RecordExecuted(ctx context.Context, user common.Address, chainID int64, fromVault, toVault common.Address, amountWei *big.Int, txRefs []types.TxRef) (*MoveRecord, error) {
	if err := l.expirePrior(ctx, user); err != nil {
		return nil, err
	}

	now := time.Now()
	move := &MoveRecord{
		ID:             uuid.New().String(),
		User:           user,
		ChainID:        chainID,
		FromVault:      fromVault,
		ToVault:        toVault,
		AmountWei:      new(big.Int).Set(amountWei),
		ExecutedAt:     now,
		TxRefs:         txRefs,
		State:          MoveRevertible,
		CanRevert:      true,
		RevertDeadline: now.Add(l.window),
	}

	if err := l.store.PutMove(ctx, move); err != nil {
		return nil, fmt.Errorf("store move: %w", err)
	}

	MovesRecordedTotal.Inc()
	l.logger.Info("move-recorded",
		zap.String("move_id", move.ID),
		zap.String("user", user.Hex()),
		zap.String("from_vault", fromVault.Hex()),
		zap.String("to_vault", toVault.Hex()),
		zap.Time("revert_deadline", move.RevertDeadline))

	return move, nil
}

// RecordIncomplete records a partial execution: the withdraw confirmed but
// the deposit did not. Incomplete moves are never revertible.
func (l *Ledger) RecordIncomplete(ctx context.Context, user common.Address, chainID int64, fromVault, toVault common.Address, amountWei *big.Int, txRefs []types.TxRef) (*MoveRecord, error) {
	if err := l.expirePrior(ctx, user); err != nil {
		return nil, err
	}

	move := &MoveRecord{
		ID:         uuid.New().String(),
		User:       user,
		ChainID:    chainID,
		FromVault:  fromVault,
		ToVault:    toVault,
		AmountWei:  new(big.Int).Set(amountWei),
		ExecutedAt: time.Now(),
		TxRefs:     txRefs,
		State:      MoveIncomplete,
	}

	if err := l.store.PutMove(ctx, move); err != nil {
		return nil, fmt.Errorf("store move: %w", err)
	}

	IncompleteMovesTotal.Inc()
	l.logger.Warn("move-recorded-incomplete",
		zap.String("move_id", move.ID),
		zap.String("user", user.Hex()),
		zap.String("from_vault", fromVault.Hex()),
		zap.String("to_vault", toVault.Hex()))

	return move, nil
}

// LastMove returns the user's most recent move with its revert eligibility
// refreshed against the clock.
func (l *Ledger) LastMove(ctx context.Context, user common.Address) (*MoveRecord, error) {
	move, err := l.store.LastMove(ctx, user)
	if err != nil {
		return nil, err
	}

	if move.State == MoveRevertible && time.Now().After(move.RevertDeadline) {
		move.State = MoveExpired
		move.CanRevert = false
		if err := l.store.UpdateMove(ctx, move); err != nil {
			return nil, fmt.Errorf("expire move: %w", err)
		}
	}

	return move, nil
}

// BeginRevert claims the user's last move for reverting. Eligibility is
// consumed immediately and permanently, before the inverse operations run:
// a failed revert does not restore it.
func (l *Ledger) BeginRevert(ctx context.Context, user common.Address) (*MoveRecord, error) {
	move, err := l.LastMove(ctx, user)
	if err != nil {
		return nil, err
	}

	if !move.CanRevert || move.State != MoveRevertible {
		return nil, types.NewRepairError(types.ReasonReplayOrExpired,
			"move %s is not revertible (state %s)", move.ID, move.State)
	}

	move.CanRevert = false
	if err := l.store.UpdateMove(ctx, move); err != nil {
		return nil, fmt.Errorf("consume revert eligibility: %w", err)
	}

	l.logger.Info("revert-started",
		zap.String("move_id", move.ID),
		zap.String("user", user.Hex()))

	return move, nil
}

// CompleteRevert records the outcome of a revert claimed by BeginRevert.
func (l *Ledger) CompleteRevert(ctx context.Context, move *MoveRecord, txRefs []types.TxRef, success bool) error {
	move.TxRefs = append(move.TxRefs, txRefs...)
	if success {
		move.State = MoveReverted
		MovesRevertedTotal.Inc()
	}

	if err := l.store.UpdateMove(ctx, move); err != nil {
		return fmt.Errorf("record revert outcome: %w", err)
	}

	l.logger.Info("revert-completed",
		zap.String("move_id", move.ID),
		zap.Bool("success", success))

	return nil
}

// expirePrior closes the revert window of the user's last move, if open.
func (l *Ledger) expirePrior(ctx context.Context, user common.Address) error {
	prior, err := l.store.LastMove(ctx, user)
	if err == ErrNoMoves {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load prior move: %w", err)
	}

	if prior.State != MoveRevertible {
		return nil
	}

	prior.State = MoveExpired
	prior.CanRevert = false
	if err := l.store.UpdateMove(ctx, prior); err != nil {
		return fmt.Errorf("expire prior move: %w", err)
	}

	l.logger.Debug("prior-move-superseded", zap.String("move_id", prior.ID))

	return nil
}
