package server

import (
	"context"
	"time"

	"github.com/garrettladley/hookd/internal/xcontext"
)

// ShutdownCoordinator cancels the base context of every request before the
// HTTP server drains, so deliveries stuck in retry backoff give up and
// answer 503 instead of holding the listener open.
type ShutdownCoordinator struct {
	baseCtx     context.Context
	cancel      context.CancelCauseFunc
	gracePeriod time.Duration
}

func NewShutdownCoordinator(gracePeriod time.Duration) *ShutdownCoordinator {
	ctx, cancel := context.WithCancelCause(context.Background())
	return &ShutdownCoordinator{
		baseCtx:     ctx,
		cancel:      cancel,
		gracePeriod: gracePeriod,
	}
}

// BaseContext returns the base context for all HTTP requests.
func (sc *ShutdownCoordinator) BaseContext() context.Context {
	return sc.baseCtx
}

// InitiateShutdown cancels the base context and blocks for the grace period
// or until ctx is done.
func (sc *ShutdownCoordinator) InitiateShutdown(ctx context.Context) {
	sc.cancel(xcontext.ErrShutdown)

	timer := time.NewTimer(sc.gracePeriod)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
