package services

import (
	"context"
	"log/slog"
	"time"

	portssvc "github.com/SscSPs/mma_exchange/internal/core/ports/services"
)

// RunReloadLoop calls Reload every interval until ctx is canceled. A failed reload is logged
// and the loop keeps going; the engine keeps serving its previous state meanwhile.
func RunReloadLoop(ctx context.Context, svc portssvc.ExchangeRateLifecycleSvc, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Reload loop stopped")
			return
		case <-ticker.C:
			start := time.Now()
			if err := svc.Reload(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Error("Scheduled exchange rate reload failed", slog.String("error", err.Error()))
				continue
			}
			logger.Info("Scheduled exchange rate reload done", slog.Duration("took", time.Since(start)))
		}
	}
}
