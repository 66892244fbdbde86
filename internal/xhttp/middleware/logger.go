package middleware

import (
	"log/slog"
	"net/http"

	"github.com/garrettladley/hookd/internal/xcontext"
	"github.com/garrettladley/hookd/internal/xslog"
)

// Logger injects a logger carrying the request id and client IP into the
// request context. Must run AFTER RequestID middleware.
func Logger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attrs := []any{xslog.RequestIP(r)}
			if id, ok := xcontext.GetRequestID(r.Context()); ok {
				attrs = append(attrs, xslog.RequestID(id))
			}
			ctx := xslog.WithLogger(r.Context(), base.With(attrs...))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
