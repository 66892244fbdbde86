package xcontext

import (
	"context"
	"errors"
)

// ErrShutdown is the cancel cause of request contexts once the server begins
// shutting down.
var ErrShutdown = errors.New("server shutting down")

type shutdownInProgressKey struct{}

// SetShutdownInProgress marks the context as being in a shutdown state.
// This allows handlers to distinguish between normal client disconnects
// and server-initiated shutdowns for better logging and cleanup.
func SetShutdownInProgress(ctx context.Context, inProgress bool) context.Context {
	return context.WithValue(ctx, shutdownInProgressKey{}, inProgress)
}

// IsShutdownInProgress reports whether the context was marked as shutting
// down or was canceled with ErrShutdown as its cause.
func IsShutdownInProgress(ctx context.Context) bool {
	if inProgress, ok := ctx.Value(shutdownInProgressKey{}).(bool); ok && inProgress {
		return true
	}
	return errors.Is(context.Cause(ctx), ErrShutdown)
}
