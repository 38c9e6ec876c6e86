package captcha

import (
	"context"
	"time"
)

// RunSweeper removes expired challenges every interval until ctx is done.
// It blocks; run it on its own goroutine.
func (g *Gate) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	g.logger.Info("captcha sweeper started", "interval", interval)

	for {
		select {
		case <-ticker.C:
			n, err := g.Sweep(ctx)
			if err != nil {
				g.logger.Error("captcha sweep failed", "error", err)
				continue
			}
			if n > 0 {
				g.logger.Info("captcha entries swept", "count", n)
			}
		case <-ctx.Done():
			g.logger.Info("captcha sweeper shutting down", "reason", ctx.Err())
			return
		}
	}
}
