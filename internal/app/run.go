package app

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/perennialfi/autopilot/internal/evaluator"
	"github.com/perennialfi/autopilot/internal/policy"
	"github.com/perennialfi/autopilot/pkg/types"
	"go.uber.org/zap"
)

// Run starts the application and blocks until shutdown.
func (a *App) Run() error {
	a.logger.Info("application-starting",
		zap.String("user", a.user.Hex()),
		zap.Duration("eval-interval", a.cfg.EvalInterval),
		zap.String("storage-mode", a.cfg.StorageMode),
		zap.String("log-level", a.cfg.LogLevel))

	err := a.startComponents()
	if err != nil {
		return err
	}

	a.logger.Info("application-ready",
		zap.String("http-addr", ":"+a.cfg.HTTPPort),
		zap.String("feed-stream-url", a.cfg.FeedStreamURL))

	return a.waitForShutdown()
}

func (a *App) startComponents() error {
	// Start HTTP server
	a.wg.Add(1)
	go a.runHTTPServer()

	// Give HTTP server a moment to start
	time.Sleep(100 * time.Millisecond)
	a.healthChecker.SetReady("http-server", true)

	// Start breaker auto-resume monitor
	a.breaker.Start(a.ctx, a.cfg.BreakerCheckInterval)
	a.healthChecker.SetReady("breaker", true)

	// Start venue update stream
	a.wg.Add(1)
	go a.runFeedStream()
	a.healthChecker.SetReady("feed-stream", true)

	// Start evaluation loop
	a.wg.Add(1)
	go a.runEvaluationLoop()
	a.healthChecker.SetReady("evaluation-loop", true)

	return nil
}

func (a *App) runHTTPServer() {
	defer a.wg.Done()
	err := a.httpServer.Start()
	if err != nil {
		a.logger.Error("http-server-error", zap.Error(err))
	}
}

func (a *App) runFeedStream() {
	defer a.wg.Done()
	err := a.feedStream.Run(a.ctx)
	if err != nil && !errors.Is(err, a.ctx.Err()) {
		a.logger.Error("feed-stream-error", zap.Error(err))
	}
}

func (a *App) runEvaluationLoop() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.cfg.EvalInterval)
	defer ticker.Stop()

	// First cycle runs immediately rather than one interval in.
	a.runEvaluationCycle()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.runEvaluationCycle()
		}
	}
}

func (a *App) runEvaluationCycle() {
	pol, err := a.policies.Get(a.ctx, a.user)
	if errors.Is(err, policy.ErrNotFound) {
		a.logger.Debug("evaluation-skipped-no-policy", zap.String("user", a.user.Hex()))
		return
	}
	if err != nil {
		a.logger.Error("evaluation-policy-load-failed", zap.Error(err))
		return
	}

	candidates, err := a.evaluator.Evaluate(a.ctx, a.user)
	if err != nil {
		a.logger.Error("evaluation-cycle-failed", zap.Error(err))
		return
	}
	if len(candidates) == 0 {
		return
	}

	switch pol.Autonomy {
	case types.AutonomyNotifyOnly:
		for _, cand := range candidates {
			a.logger.Info("repair-candidate-available",
				zap.String("candidate_id", cand.ID),
				zap.String("position_id", cand.Position.ID),
				zap.String("to_venue", cand.ToVenue.Venue.Hex()),
				zap.Float64("apy_delta", cand.EstimatedAPYDelta),
				zap.Bool("safety_repair", cand.Proof.SafetyRepair),
				zap.String("explanation", cand.Proof.Explanation))
		}
	default:
		// One move per cycle: the top candidate (safety repairs rank
		// first), leaving superseded candidates for the next cycle.
		a.executeCandidate(&candidates[0])
	}
}

func (a *App) executeCandidate(cand *evaluator.Candidate) {
	amount, err := usdToTokenAmount(cand.Position.CurrentValue, a.cfg.TokenDecimals)
	if err != nil {
		a.logger.Error("candidate-amount-conversion-failed",
			zap.String("candidate_id", cand.ID),
			zap.Float64("current_value", cand.Position.CurrentValue),
			zap.Error(err))
		return
	}

	attempt, err := a.router.Execute(a.ctx, a.user, cand, amount)
	if err != nil {
		reason, _ := types.ReasonOf(err)
		a.logger.Warn("candidate-execution-failed",
			zap.String("candidate_id", cand.ID),
			zap.String("reason", string(reason)),
			zap.Error(err))
		return
	}

	a.logger.Info("candidate-executed",
		zap.String("candidate_id", cand.ID),
		zap.String("attempt_id", attempt.ID),
		zap.String("path", string(attempt.Path)),
		zap.String("state", string(attempt.State)))
}

// usdToTokenAmount converts a USD value into the smallest token unit,
// truncating sub-unit dust.
func usdToTokenAmount(usd float64, decimals int) (*big.Int, error) {
	if usd <= 0 {
		return nil, fmt.Errorf("value must be positive, got %f", usd)
	}

	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	scaled := new(big.Float).Mul(big.NewFloat(usd), scale)

	amount, _ := scaled.Int(nil)
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("value %f rounds to zero at %d decimals", usd, decimals)
	}

	return amount, nil
}

func (a *App) waitForShutdown() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		a.logger.Info("shutdown-signal-received", zap.String("signal", sig.String()))
	case <-a.ctx.Done():
		a.logger.Info("context-cancelled")
	}

	return a.Shutdown()
}
