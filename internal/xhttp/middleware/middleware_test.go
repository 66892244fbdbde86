package middleware

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/garrettladley/hookd/internal/xcontext"
)

func TestRequestID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		opts    []RequestIDOption
		inbound string
		want    string
	}{
		{name: "generated", opts: []RequestIDOption{WithIDFunc(func(*http.Request) string { return "gen" })}, inbound: "up-1", want: "gen"},
		{name: "trusted inbound", opts: []RequestIDOption{WithTrustedHeader(), WithIDFunc(func(*http.Request) string { return "gen" })}, inbound: "up-1", want: "up-1"},
		{name: "trusted but malformed", opts: []RequestIDOption{WithTrustedHeader(), WithIDFunc(func(*http.Request) string { return "gen" })}, inbound: "bad id\n", want: "gen"},
		{name: "trusted but too long", opts: []RequestIDOption{WithTrustedHeader(), WithIDFunc(func(*http.Request) string { return "gen" })}, inbound: strings.Repeat("a", maxRequestIDLen+1), want: "gen"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var gotCtxID string
			h := RequestID(tt.opts...)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				gotCtxID, _ = xcontext.GetRequestID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", nil)
			req.Header.Set("X-Request-ID", tt.inbound)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if gotCtxID != tt.want {
				t.Errorf("context request id = %q, want %q", gotCtxID, tt.want)
			}
			if got := rec.Header().Get("X-Request-ID"); got != tt.want {
				t.Errorf("X-Request-ID = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRecovery(t *testing.T) {
	t.Parallel()

	h := Recovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("callback blew up")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/payments", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

func TestShutdownContext(t *testing.T) {
	t.Parallel()

	var called bool
	h := ShutdownContext(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	base, cancel := context.WithCancelCause(context.Background())
	cancel(xcontext.ErrShutdown)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", nil).WithContext(base)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if called {
		t.Error("handler ran after shutdown began")
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/payments", nil))
	if !called || rec.Code != http.StatusOK {
		t.Errorf("live request: called = %v, status = %d, want handler to run", called, rec.Code)
	}
}

func TestLogging_Levels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		method    string
		path      string
		status    int
		wantLevel string
	}{
		{name: "delivery", method: http.MethodPost, path: "/webhooks/payments", status: http.StatusOK, wantLevel: "INFO"},
		{name: "server error", method: http.MethodPost, path: "/webhooks/payments", status: http.StatusServiceUnavailable, wantLevel: "ERROR"},
		{name: "health probe", method: http.MethodGet, path: "/health", status: http.StatusOK, wantLevel: "DEBUG"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

			h := Chain(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}), Logger(logger), Logging)

			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(tt.method, tt.path, nil))

			if !strings.Contains(buf.String(), `"level":"`+tt.wantLevel+`"`) {
				t.Errorf("log = %q, want level %s", buf.String(), tt.wantLevel)
			}
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	SecurityHeaders(http.NotFoundHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"Cache-Control":          "no-store",
	} {
		if got := rec.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
}
