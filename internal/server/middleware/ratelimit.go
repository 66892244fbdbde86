package middleware

import (
	"net/http"

	"github.com/garrettladley/hookd/internal/metrics"
	"github.com/garrettladley/hookd/internal/storage"
	"github.com/garrettladley/hookd/internal/xerrors"
	"github.com/garrettladley/hookd/internal/xhttp"
	"github.com/garrettladley/hookd/internal/xslog"
)

const reasonIPRateLimit = "ip_rate_limit"

// RateLimit applies IP-based rate limiting.
func RateLimit(limiter storage.RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ip := xhttp.GetRequestIP(r)

			result, err := limiter.Allow(ctx, ip)
			if err != nil {
				xslog.FromContext(ctx).ErrorContext(ctx, "rate limit check failed",
					xslog.ErrorGroup(err),
					xslog.IP(ip),
				)
				xerrors.WriteError(ctx, w, xerrors.ServiceUnavailable(xerrors.WithMessage("rate limit check failed")))
				return
			}

			if !result.Allowed {
				metrics.IncRateLimited()
				xerrors.WriteError(ctx, w, xerrors.TooManyRequests(
					xerrors.WithRetryAfter(result.RetryAfter),
					xerrors.WithReason(reasonIPRateLimit),
				))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
