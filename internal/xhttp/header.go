package xhttp

import (
	"math"
	"net/http"
	"strconv"
	"time"
)

const (
	XForwardedFor    = "X-Forwarded-For"
	XRequestID       = "X-Request-ID"
	XContentTypeOpts = "X-Content-Type-Options"
	XFrameOpts       = "X-Frame-Options"
	ReferrerPolicy   = "Referrer-Policy"
	CacheControl     = "Cache-Control"
	XRateLimitReason = "X-RateLimit-Reason"
	RetryAfter       = "Retry-After"
)

const (
	ContentType = "Content-Type"
	UserAgent   = "User-Agent"
)

const ApplicationJSON = "application/json"

func SetHeaderRequestID(w http.ResponseWriter, requestID string) {
	w.Header().Set(XRequestID, requestID)
}

func SetHeaderContentTypeApplicationJSON(w http.ResponseWriter) {
	w.Header().Set(ContentType, ApplicationJSON)
}

// SetHeaderRetryAfter rounds up to whole seconds so a sub-second wait is
// never advertised as zero.
func SetHeaderRetryAfter(w http.ResponseWriter, retryAfter time.Duration) {
	seconds := int(math.Ceil(retryAfter.Seconds()))
	w.Header().Set(RetryAfter, strconv.Itoa(max(seconds, 1)))
}
