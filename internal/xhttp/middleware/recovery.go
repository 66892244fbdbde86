package middleware

import (
	"fmt"
	"net/http"

	"github.com/garrettladley/hookd/internal/xerrors"
	"github.com/garrettladley/hookd/internal/xslog"
)

// Recovery turns a panic into a 500. A panicking delivery is answered with an
// error so the platform redelivers it.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			xslog.FromContext(r.Context()).ErrorContext(r.Context(), "panic recovered",
				xslog.RequestGroup(r),
				xslog.ErrorGroupWithStack(rec),
			)
			xerrors.WriteError(r.Context(), w, xerrors.Internal(xerrors.WithCause(fmt.Errorf("panic: %v", rec))))
		}()
		next.ServeHTTP(w, r)
	})
}
