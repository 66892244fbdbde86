package middleware

import (
	"net/http"

	"github.com/garrettladley/hookd/internal/xcontext"
	"github.com/garrettladley/hookd/internal/xhttp"
	"github.com/google/uuid"
)

const maxRequestIDLen = 128

type RequestIDMiddleware struct {
	IDFunc func(*http.Request) string
	// TrustHeader reuses a well-formed inbound X-Request-ID so delivery logs
	// line up with the sender's.
	TrustHeader bool
}

type RequestIDOption func(*RequestIDMiddleware)

func WithIDFunc(fn func(*http.Request) string) RequestIDOption {
	return func(m *RequestIDMiddleware) { m.IDFunc = fn }
}

func WithTrustedHeader() RequestIDOption {
	return func(m *RequestIDMiddleware) { m.TrustHeader = true }
}

func RequestID(opts ...RequestIDOption) func(http.Handler) http.Handler {
	m := RequestIDMiddleware{
		IDFunc: func(*http.Request) string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(&m)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := ""
			if m.TrustHeader {
				id = validRequestID(r.Header.Get(xhttp.XRequestID))
			}
			if id == "" {
				id = m.IDFunc(r)
			}
			ctx := xcontext.SetRequestID(r.Context(), id)
			xhttp.SetHeaderRequestID(w, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// validRequestID returns id if it is short printable ASCII, else "".
func validRequestID(id string) string {
	if id == "" || len(id) > maxRequestIDLen {
		return ""
	}
	for i := range len(id) {
		if c := id[i]; c <= ' ' || c > '~' {
			return ""
		}
	}
	return id
}
