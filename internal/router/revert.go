package router

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/perennialfi/autopilot/internal/ledger"
	"github.com/perennialfi/autopilot/pkg/types"
	"github.com/perennialfi/autopilot/pkg/wallet"
	"go.uber.org/zap"
)

// RevertLast undoes the user's last move by running the inverse pair
// (withdraw from the destination, deposit back into the source). Revert
// eligibility is consumed before the first transaction goes out, so the
// operation is one-shot whatever happens.
func (r *Router) RevertLast(ctx context.Context, user common.Address) (*ledger.MoveRecord, error) {
	lock := r.userLock(user)
	lock.Lock()
	defer lock.Unlock()

	// Peek first: an open breaker must not burn revert eligibility.
	last, err := r.ledger.LastMove(ctx, user)
	if err != nil {
		return nil, err
	}
	if err := r.gate.Allow(last.ChainID); err != nil {
		return nil, err
	}

	move, err := r.ledger.BeginRevert(ctx, user)
	if err != nil {
		return nil, err
	}

	refs, revertErr := r.runInversePair(ctx, move)

	if err := r.ledger.CompleteRevert(ctx, move, refs, revertErr == nil); err != nil {
		r.logger.Error("revert-outcome-record-failed",
			zap.String("move_id", move.ID),
			zap.Error(err))
	}

	if revertErr != nil {
		RevertsTotal.WithLabelValues("failed").Inc()
		return move, revertErr
	}

	RevertsTotal.WithLabelValues("succeeded").Inc()
	r.logger.Info("move-reverted",
		zap.String("move_id", move.ID),
		zap.String("user", user.Hex()))

	return move, nil
}

// runInversePair executes withdraw-from-destination then
// deposit-into-source, strictly sequential.
func (r *Router) runInversePair(ctx context.Context, move *ledger.MoveRecord) ([]types.TxRef, error) {
	withdrawData, err := packWithdraw(move.AmountWei)
	if err != nil {
		return nil, err
	}
	depositData, err := packDeposit(move.AmountWei)
	if err != nil {
		return nil, err
	}

	var refs []types.TxRef

	withdrawRef, err := r.signer.SendTransaction(ctx, wallet.TxRequest{
		ChainID: move.ChainID,
		To:      move.ToVault,
		Data:    withdrawData,
	})
	if err != nil {
		return refs, wrapLegError(err, "revert withdraw leg")
	}
	refs = append(refs, withdrawRef)

	if err := r.signer.WaitConfirmed(ctx, withdrawRef); err != nil {
		return refs, wrapLegError(err, "revert withdraw confirmation")
	}

	depositRef, err := r.signer.SendTransaction(ctx, wallet.TxRequest{
		ChainID: move.ChainID,
		To:      move.FromVault,
		Data:    depositData,
	})
	if err != nil {
		return refs, types.WrapRepairError(types.ReasonPartialExecution, err,
			"revert withdraw confirmed but redeposit did not")
	}
	refs = append(refs, depositRef)

	if err := r.signer.WaitConfirmed(ctx, depositRef); err != nil {
		return refs, types.WrapRepairError(types.ReasonPartialExecution, err,
			"revert withdraw confirmed but redeposit did not")
	}

	return refs, nil
}
