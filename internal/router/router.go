// Package router executes repair candidates. Each attempt is re-validated
// against the live policy, gated by the circuit breaker, routed to the
// relayer or the manual two-leg path, and recorded in the move ledger.
// Submissions are never silently retried.
package router

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/perennialfi/autopilot/internal/delegation"
	"github.com/perennialfi/autopilot/internal/evaluator"
	"github.com/perennialfi/autopilot/internal/ledger"
	"github.com/perennialfi/autopilot/internal/policy"
	"github.com/perennialfi/autopilot/internal/relayer"
	"github.com/perennialfi/autopilot/pkg/types"
	"github.com/perennialfi/autopilot/pkg/wallet"
	"go.uber.org/zap"
)

// Authorizer issues and consumes repair authorizations. Implemented by
// internal/delegation.
type Authorizer interface {
	AuthorizeRepair(ctx context.Context, chainID int64, fromVault, toVault common.Address, amountWei *big.Int) (*delegation.RepairAuthorization, error)
	ConsumeAuthorization(ctx context.Context, auth *delegation.RepairAuthorization) error
	ReleaseAuthorization(ctx context.Context, auth *delegation.RepairAuthorization) error
}

// Submitter sends signed authorizations to the relayer. Implemented by
// internal/relayer.
type Submitter interface {
	Submit(ctx context.Context, auth *delegation.RepairAuthorization) (*relayer.SubmitResult, error)
	Paused(chainID int64) bool
}

// PolicySource supplies the live policy for execution-time re-validation.
type PolicySource interface {
	Get(ctx context.Context, user common.Address) (policy.Versioned, error)
}

// ProofVerifier re-derives a candidate's proof. Implemented by
// internal/evaluator.
type ProofVerifier interface {
	VerifyProof(cand *evaluator.Candidate, pol policy.Versioned, now time.Time) error
}

// OutcomeReporter delivers attempt outcomes to the backend authority.
type OutcomeReporter interface {
	ReportOutcome(ctx context.Context, attemptID string, refs []types.TxRef, success bool, reason string) error
}

// Gate is the circuit breaker check. Implemented by internal/breaker.
type Gate interface {
	Allow(chainID int64) error
}

// Config holds router collaborators.
type Config struct {
	Signer     wallet.Signer
	Authorizer Authorizer
	Submitter  Submitter
	Policies   PolicySource
	Verifier   ProofVerifier
	Perms      delegation.PermissionStore
	Ledger     *ledger.Ledger
	Reporter   OutcomeReporter
	Gate       Gate
	Token      common.Address // Spend-permission token looked up on the relayer path
	Logger     *zap.Logger
}

// Router routes and executes repair attempts.
type Router struct {
	signer     wallet.Signer
	authorizer Authorizer
	submitter  Submitter
	policies   PolicySource
	verifier   ProofVerifier
	perms      delegation.PermissionStore
	ledger     *ledger.Ledger
	reporter   OutcomeReporter
	gate       Gate
	token      common.Address
	logger     *zap.Logger

	mu        sync.Mutex
	userLocks map[common.Address]*sync.Mutex
}

// New creates a router.
func New(cfg *Config) (*Router, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Signer == nil {
		return nil, fmt.Errorf("signer cannot be nil")
	}
	if cfg.Authorizer == nil {
		return nil, fmt.Errorf("authorizer cannot be nil")
	}
	if cfg.Submitter == nil {
		return nil, fmt.Errorf("submitter cannot be nil")
	}
	if cfg.Policies == nil {
		return nil, fmt.Errorf("policy source cannot be nil")
	}
	if cfg.Verifier == nil {
		return nil, fmt.Errorf("proof verifier cannot be nil")
	}
	if cfg.Perms == nil {
		return nil, fmt.Errorf("permission store cannot be nil")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("ledger cannot be nil")
	}
	if cfg.Reporter == nil {
		return nil, fmt.Errorf("reporter cannot be nil")
	}
	if cfg.Gate == nil {
		return nil, fmt.Errorf("gate cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	return &Router{
		signer:     cfg.Signer,
		authorizer: cfg.Authorizer,
		submitter:  cfg.Submitter,
		policies:   cfg.Policies,
		verifier:   cfg.Verifier,
		perms:      cfg.Perms,
		ledger:     cfg.Ledger,
		reporter:   cfg.Reporter,
		gate:       cfg.Gate,
		token:      cfg.Token,
		logger:     cfg.Logger,
	}, nil
}

// userLock serializes repairs per user: at most one in-flight attempt.
func (r *Router) userLock(user common.Address) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.userLocks == nil {
		r.userLocks = make(map[common.Address]*sync.Mutex)
	}
	lock, ok := r.userLocks[user]
	if !ok {
		lock = &sync.Mutex{}
		r.userLocks[user] = lock
	}

	return lock
}

// Execute runs one repair attempt end to end. The returned attempt always
// reflects the final state; a rejected or failed attempt also returns the
// error carrying its machine-checkable reason.
func (r *Router) Execute(ctx context.Context, user common.Address, cand *evaluator.Candidate, amountWei *big.Int) (*Attempt, error) {
	attempt := &Attempt{
		ID:        uuid.New().String(),
		User:      user,
		ChainID:   cand.Position.ChainID,
		Candidate: cand,
		State:     AttemptProposed,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	lock := r.userLock(user)
	lock.Lock()
	defer lock.Unlock()

	if err := r.gate.Allow(attempt.ChainID); err != nil {
		return r.reject(attempt, err)
	}

	// Re-read the policy and re-derive the proof: nothing captured at
	// proposal time is trusted at execution time.
	pol, err := r.policies.Get(ctx, user)
	if err != nil {
		return r.reject(attempt, types.WrapRepairError(types.ReasonPolicyViolation, err, "load policy"))
	}
	if err := r.verifier.VerifyProof(cand, pol, time.Now()); err != nil {
		return r.reject(attempt, err)
	}

	if amountWei == nil || amountWei.Sign() <= 0 {
		return r.reject(attempt, types.NewRepairError(types.ReasonInvalidInput, "amount must be positive"))
	}

	switch pol.Autonomy {
	case types.AutonomyNotifyOnly:
		return r.reject(attempt, types.NewRepairError(types.ReasonPolicyViolation,
			"autonomy level %s does not permit execution", pol.Autonomy))
	case types.AutonomyApproveEach:
		return r.executeManual(ctx, attempt, amountWei)
	}

	// auto_bounded / auto_spend: prefer the relayer when it is available
	// for this chain and a permission covers the amount.
	if perm := r.usablePermission(ctx, user, attempt.ChainID, amountWei); perm != nil && !r.submitter.Paused(attempt.ChainID) {
		return r.executeRelayer(ctx, attempt, perm, amountWei)
	}

	r.logger.Info("relayer-path-unavailable-falling-back",
		zap.String("attempt_id", attempt.ID),
		zap.Int64("chain_id", attempt.ChainID))

	return r.executeManual(ctx, attempt, amountWei)
}

func (r *Router) usablePermission(ctx context.Context, user common.Address, chainID int64, amountWei *big.Int) *delegation.SpendPermission {
	perm, err := r.perms.ActivePermission(ctx, user, chainID, r.token)
	if err != nil {
		return nil
	}
	if !perm.Usable(time.Now(), amountWei) {
		return nil
	}

	return perm
}

// executeRelayer runs the delegated path: authorize, consume the one-shot
// nonce and the permission headroom, then submit exactly once.
func (r *Router) executeRelayer(ctx context.Context, attempt *Attempt, perm *delegation.SpendPermission, amountWei *big.Int) (*Attempt, error) {
	attempt.Path = PathRelayer
	cand := attempt.Candidate

	auth, err := r.authorizer.AuthorizeRepair(ctx, attempt.ChainID, cand.Position.Venue, cand.ToVenue.Venue, amountWei)
	if err != nil {
		return r.reject(attempt, err)
	}

	if err := r.authorizer.ConsumeAuthorization(ctx, auth); err != nil {
		return r.reject(attempt, err)
	}

	if err := r.perms.ConsumeHeadroom(ctx, perm.ID, amountWei); err != nil {
		return r.reject(attempt, types.WrapRepairError(types.ReasonPolicyViolation, err,
			"spend permission cannot cover %s wei", amountWei))
	}

	attempt.transition(AttemptSubmitted)

	result, err := r.submitter.Submit(ctx, auth)
	if err != nil {
		// The submission may have landed. Headroom stays consumed and the
		// caller must not retry blindly.
		return r.fail(ctx, attempt, types.WrapRepairError(types.ReasonNetworkUnavail, err,
			"relayer submission outcome unknown"))
	}

	if !result.Success {
		// A definite rejection: nothing moved, so the headroom comes back
		// and the authorization nonce is freed. The forwarder nonce did
		// not advance, so the next authorization reuses it.
		if refundErr := r.perms.RefundHeadroom(ctx, perm.ID, amountWei); refundErr != nil {
			r.logger.Error("headroom-refund-failed",
				zap.String("attempt_id", attempt.ID),
				zap.String("permission_id", perm.ID),
				zap.Error(refundErr))
		}
		if releaseErr := r.authorizer.ReleaseAuthorization(ctx, auth); releaseErr != nil {
			r.logger.Error("authorization-release-failed",
				zap.String("attempt_id", attempt.ID),
				zap.Uint64("nonce", auth.Nonce),
				zap.Error(releaseErr))
		}
		return r.fail(ctx, attempt, types.NewRepairError(types.ReasonReplayOrExpired,
			"relayer rejected submission: %s", result.Message))
	}

	attempt.TxRefs = append(attempt.TxRefs, result.TxRef)

	return r.confirm(ctx, attempt, amountWei)
}

// executeManual runs the two-leg path: withdraw, wait, deposit, wait. The
// legs are strictly sequential; a deposit failure after a confirmed
// withdraw is surfaced as a partial execution with an incomplete move
// record, never auto-retried.
func (r *Router) executeManual(ctx context.Context, attempt *Attempt, amountWei *big.Int) (*Attempt, error) {
	attempt.Path = PathManual
	cand := attempt.Candidate

	withdrawData, err := packWithdraw(amountWei)
	if err != nil {
		return r.reject(attempt, err)
	}
	depositData, err := packDeposit(amountWei)
	if err != nil {
		return r.reject(attempt, err)
	}

	attempt.transition(AttemptSubmitted)

	withdrawRef, err := r.signer.SendTransaction(ctx, wallet.TxRequest{
		ChainID: attempt.ChainID,
		To:      cand.Position.Venue,
		Data:    withdrawData,
	})
	if err != nil {
		return r.fail(ctx, attempt, wrapLegError(err, "withdraw leg"))
	}
	attempt.TxRefs = append(attempt.TxRefs, withdrawRef)

	if err := r.signer.WaitConfirmed(ctx, withdrawRef); err != nil {
		return r.fail(ctx, attempt, wrapLegError(err, "withdraw confirmation"))
	}

	depositRef, err := r.signer.SendTransaction(ctx, wallet.TxRequest{
		ChainID: attempt.ChainID,
		To:      cand.ToVenue.Venue,
		Data:    depositData,
	})
	if err != nil {
		return r.partial(ctx, attempt, amountWei, err)
	}
	attempt.TxRefs = append(attempt.TxRefs, depositRef)

	if err := r.signer.WaitConfirmed(ctx, depositRef); err != nil {
		return r.partial(ctx, attempt, amountWei, err)
	}

	return r.confirm(ctx, attempt, amountWei)
}

// confirm finalizes a fully executed attempt: ledger record (which opens
// the revert window and supersedes the prior one) and outcome report.
func (r *Router) confirm(ctx context.Context, attempt *Attempt, amountWei *big.Int) (*Attempt, error) {
	attempt.transition(AttemptConfirmed)
	cand := attempt.Candidate

	_, err := r.ledger.RecordExecuted(ctx, attempt.User, attempt.ChainID,
		cand.Position.Venue, cand.ToVenue.Venue, amountWei, attempt.TxRefs)
	if err != nil {
		r.logger.Error("move-record-failed",
			zap.String("attempt_id", attempt.ID),
			zap.Error(err))
	}

	if err := r.reporter.ReportOutcome(ctx, attempt.ID, attempt.TxRefs, true, ""); err != nil {
		r.logger.Warn("outcome-report-failed",
			zap.String("attempt_id", attempt.ID),
			zap.Error(err))
	}

	AttemptsTotal.WithLabelValues(string(attempt.Path), string(AttemptConfirmed)).Inc()
	r.logger.Info("repair-confirmed",
		zap.String("attempt_id", attempt.ID),
		zap.String("path", string(attempt.Path)),
		zap.String("from_vault", cand.Position.Venue.Hex()),
		zap.String("to_vault", cand.ToVenue.Venue.Hex()),
		zap.Int("tx_count", len(attempt.TxRefs)))

	return attempt, nil
}

// partial handles a confirmed withdraw with a failed deposit.
func (r *Router) partial(ctx context.Context, attempt *Attempt, amountWei *big.Int, cause error) (*Attempt, error) {
	cand := attempt.Candidate

	if _, err := r.ledger.RecordIncomplete(ctx, attempt.User, attempt.ChainID,
		cand.Position.Venue, cand.ToVenue.Venue, amountWei, attempt.TxRefs); err != nil {
		r.logger.Error("incomplete-move-record-failed",
			zap.String("attempt_id", attempt.ID),
			zap.Error(err))
	}

	return r.fail(ctx, attempt, types.WrapRepairError(types.ReasonPartialExecution, cause,
		"withdraw confirmed but deposit did not; manual follow-up required"))
}

// reject finalizes an attempt that never reached a path.
func (r *Router) reject(attempt *Attempt, cause error) (*Attempt, error) {
	attempt.transition(AttemptRejected)
	attempt.Reason = cause.Error()

	AttemptsTotal.WithLabelValues(string(attempt.Path), string(AttemptRejected)).Inc()
	r.logger.Info("repair-rejected",
		zap.String("attempt_id", attempt.ID),
		zap.String("reason", attempt.Reason))

	return attempt, cause
}

// fail finalizes a submitted attempt that did not complete, reporting the
// outcome so the backend never believes a failed repair succeeded.
func (r *Router) fail(ctx context.Context, attempt *Attempt, cause error) (*Attempt, error) {
	attempt.transition(AttemptFailed)
	attempt.Reason = cause.Error()

	reason := ""
	if code, ok := types.ReasonOf(cause); ok {
		reason = string(code)
	}
	if err := r.reporter.ReportOutcome(ctx, attempt.ID, attempt.TxRefs, false, reason); err != nil {
		r.logger.Warn("outcome-report-failed",
			zap.String("attempt_id", attempt.ID),
			zap.Error(err))
	}

	AttemptsTotal.WithLabelValues(string(attempt.Path), string(AttemptFailed)).Inc()
	r.logger.Warn("repair-failed",
		zap.String("attempt_id", attempt.ID),
		zap.String("path", string(attempt.Path)),
		zap.String("reason", attempt.Reason))

	return attempt, cause
}

func wrapLegError(err error, leg string) error {
	if _, ok := types.ReasonOf(err); ok {
		return err
	}
	return types.WrapRepairError(types.ReasonNetworkUnavail, err, "%s failed", leg)
}
