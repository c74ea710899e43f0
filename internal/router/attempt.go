package router

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/perennialfi/autopilot/internal/evaluator"
	"github.com/perennialfi/autopilot/pkg/types"
)

// AttemptState is the lifecycle state of one repair attempt.
type AttemptState string

const (
	// AttemptProposed is the initial state before routing.
	AttemptProposed AttemptState = "proposed"
	// AttemptRejected means the attempt never reached a path: breaker
	// open, policy violation, or autonomy mismatch. Reason is always set.
	AttemptRejected AttemptState = "rejected"
	// AttemptSubmitted means a transaction left the building.
	AttemptSubmitted AttemptState = "submitted"
	// AttemptConfirmed means every leg confirmed on-chain.
	AttemptConfirmed AttemptState = "confirmed"
	// AttemptFailed means a submitted attempt did not complete.
	AttemptFailed AttemptState = "failed"
)

// ExecutionPath is how an attempt reaches the chain.
type ExecutionPath string

const (
	PathNone    ExecutionPath = ""
	PathRelayer ExecutionPath = "relayer"
	PathManual  ExecutionPath = "manual"
)

// Attempt tracks one repair execution end to end.
type Attempt struct {
	ID        string
	User      common.Address
	ChainID   int64
	Candidate *evaluator.Candidate
	State     AttemptState
	Path      ExecutionPath
	Reason    string // Human explanation for rejected/failed states
	TxRefs    []types.TxRef
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (a *Attempt) transition(state AttemptState) {
	a.State = state
	a.UpdatedAt = time.Now()
}
