package breaker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Start begins the background loop that applies auto-resume deadlines.
// It runs until the context is cancelled.
func (b *Breaker) Start(ctx context.Context, checkInterval time.Duration) {
	b.logger.Info("breaker-monitor-started",
		zap.Duration("check_interval", checkInterval))

	go b.monitorLoop(ctx, checkInterval)
}

func (b *Breaker) monitorLoop(ctx context.Context, checkInterval time.Duration) {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("breaker-monitor-stopped")
			return
		case now := <-ticker.C:
			b.resumeDue(now)
		}
	}
}
