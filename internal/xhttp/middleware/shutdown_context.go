package middleware

import (
	"net/http"

	"github.com/garrettladley/hookd/internal/xcontext"
	"github.com/garrettladley/hookd/internal/xerrors"
)

// ShutdownContext turns away requests that arrive after shutdown began. A 503
// tells the payment platform to redeliver to another replica, and the
// connection is closed so keep-alive clients reconnect elsewhere.
func ShutdownContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if ctx.Err() != nil && xcontext.IsShutdownInProgress(ctx) {
			ctx = xcontext.SetShutdownInProgress(ctx, true)
			w.Header().Set("Connection", "close")
			xerrors.WriteError(ctx, w, xerrors.ServiceUnavailable(xerrors.WithMessage("server shutting down")))
			return
		}
		next.ServeHTTP(w, r)
	})
}
