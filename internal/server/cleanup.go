package server

import (
	"context"
	"time"

	"github.com/garrettladley/hookd/internal/metrics"
	"github.com/garrettladley/hookd/internal/storage"
	"github.com/garrettladley/hookd/internal/xslog"
)

// RunCleanup deletes expired idempotency records every interval until ctx is
// done. A failed sweep is logged and retried on the next tick.
func RunCleanup(ctx context.Context, store storage.Store, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sweep(ctx, store)
		}
	}
}

func sweep(ctx context.Context, store storage.Store) {
	logger := xslog.FromContext(ctx)

	removed, err := store.CleanupExpired(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logger.ErrorContext(ctx, "failed to clean up expired events", xslog.Error(err))
		}
		return
	}

	metrics.AddExpiredRemoved(removed)
	if removed > 0 {
		logger.InfoContext(ctx, "cleaned up expired events", xslog.Removed(removed))
	}
}
