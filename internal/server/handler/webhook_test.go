package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/garrettladley/hookd/internal/env"
	"github.com/garrettladley/hookd/internal/service/ingest"
	"github.com/garrettladley/hookd/internal/service/webhook"
	"github.com/garrettladley/hookd/internal/storage"
	"github.com/garrettladley/hookd/internal/xcontext"
	go_json "github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"
)

const (
	testSecret = "whsec_handler"
	testHeader = "Payment-Signature"
)

type stubIngester struct {
	res ingest.Result
	err error

	called    bool
	gotBody   string
	gotHeader string
}

func (s *stubIngester) Handle(_ context.Context, payload []byte, sigHeader string) (ingest.Result, error) {
	s.called = true
	s.gotBody = string(payload)
	s.gotHeader = sigHeader
	return s.res, s.err
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := go_json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestWebhook_OutcomeStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		res        ingest.Result
		err        error
		ctx        func(context.Context) context.Context
		wantStatus int
		wantKey    string
		wantValue  any
	}{
		{
			name:       "processed",
			res:        ingest.Result{Outcome: ingest.OutcomeProcessed, Attempts: 1},
			wantStatus: http.StatusOK,
			wantKey:    "outcome",
			wantValue:  "processed",
		},
		{
			name:       "duplicate",
			res:        ingest.Result{Outcome: ingest.OutcomeDuplicate, Attempts: 1},
			err:        &webhook.AlreadyProcessedError{EventID: "evt_dup"},
			wantStatus: http.StatusOK,
			wantKey:    "event_id",
			wantValue:  "evt_dup",
		},
		{
			name:       "malformed payload",
			res:        ingest.Result{Outcome: ingest.OutcomeValidationFailed},
			err:        &ingest.ValidationError{Reason: ingest.ReasonMalformedPayload},
			wantStatus: http.StatusBadRequest,
			wantKey:    "fields",
			wantValue:  map[string]any{"payload": "malformed_payload"},
		},
		{
			name:       "payload too large",
			res:        ingest.Result{Outcome: ingest.OutcomeValidationFailed},
			err:        &ingest.ValidationError{Reason: ingest.ReasonPayloadTooLarge, Size: 11, Limit: 10},
			wantStatus: http.StatusRequestEntityTooLarge,
		},
		{
			name:       "verification failed",
			res:        ingest.Result{Outcome: ingest.OutcomeVerificationFailed, Attempts: 1},
			err:        webhook.ErrVerificationFailed,
			wantStatus: http.StatusUnauthorized,
			wantKey:    "message",
			wantValue:  "signature verification failed",
		},
		{
			name:       "retries exhausted",
			res:        ingest.Result{Outcome: ingest.OutcomeRetriesExhausted, Attempts: 3},
			err:        &ingest.RetriesExhaustedError{Attempts: 3, Last: errors.New("store down")},
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "canceled by shutdown",
			res:        ingest.Result{Outcome: ingest.OutcomeCanceled},
			err:        context.Canceled,
			ctx:        func(ctx context.Context) context.Context { return xcontext.SetShutdownInProgress(ctx, true) },
			wantStatus: http.StatusServiceUnavailable,
			wantKey:    "message",
			wantValue:  "server shutting down",
		},
		{
			name:       "processing failed",
			res:        ingest.Result{Outcome: ingest.OutcomeProcessingFailed, Attempts: 1},
			err:        &ingest.ProcessingError{EventID: "evt_1", Err: errors.New("boom")},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ing := &stubIngester{res: tt.res, err: tt.err}
			h := NewWebhook(ing, testHeader, 64)

			req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", strings.NewReader(`{"id":"evt_1"}`))
			req.Header.Set(testHeader, "t=1,v1=abc")
			if tt.ctx != nil {
				req = req.WithContext(tt.ctx(req.Context()))
			}
			rec := httptest.NewRecorder()

			h.HandleWebhook(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if ing.gotBody != `{"id":"evt_1"}` {
				t.Errorf("ingested body = %q, want request body", ing.gotBody)
			}
			if ing.gotHeader != "t=1,v1=abc" {
				t.Errorf("ingested header = %q, want %q", ing.gotHeader, "t=1,v1=abc")
			}
			if tt.wantKey != "" {
				if got := decodeBody(t, rec)[tt.wantKey]; !cmp.Equal(got, tt.wantValue) {
					t.Errorf("response[%q] = %v, want %v", tt.wantKey, got, tt.wantValue)
				}
			}
		})
	}
}

func TestWebhook_BodyPastLimitIsRejectedBeforeIngest(t *testing.T) {
	t.Parallel()

	ing := &stubIngester{}
	h := NewWebhook(ing, testHeader, 8)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", strings.NewReader(strings.Repeat("x", 32)))
	rec := httptest.NewRecorder()

	h.HandleWebhook(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusRequestEntityTooLarge)
	}
	if ing.called {
		t.Error("ingester was called for a body past the read limit")
	}
}

func newController(t *testing.T, calls *int) *ingest.Controller {
	t.Helper()

	store := storage.NewMemoryStore(nil)
	gate, err := webhook.NewGate(webhook.GateConfig{
		Stage:      env.Test,
		Secrets:    webhook.Secrets{Test: testSecret},
		Tolerance:  webhook.DefaultTolerance,
		DefaultTTL: time.Hour,
	}, store, nil)
	if err != nil {
		t.Fatalf("NewGate() error = %v", err)
	}

	callback := func(_ context.Context, event webhook.Event) (any, error) {
		*calls++
		return event.Summary(), nil
	}
	ctrl, err := ingest.New(gate, store, callback, ingest.DefaultConfig())
	if err != nil {
		t.Fatalf("ingest.New() error = %v", err)
	}
	return ctrl
}

func TestWebhook_EndToEnd(t *testing.T) {
	t.Parallel()

	var calls int
	h := NewWebhook(newController(t, &calls), testHeader, ingest.DefaultMaxPayloadBytes)

	payload := []byte(`{"id":"evt_e2e","type":"payment_intent.succeeded","created":1}`)
	sig := webhook.GenerateTestHeader(payload, testSecret, time.Now())

	post := func(sig string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", strings.NewReader(string(payload)))
		req.Header.Set(testHeader, sig)
		rec := httptest.NewRecorder()
		h.HandleWebhook(rec, req)
		return rec
	}

	first := post(sig)
	if first.Code != http.StatusOK {
		t.Fatalf("first delivery status = %d, want %d", first.Code, http.StatusOK)
	}
	if got := decodeBody(t, first)["outcome"]; got != "processed" {
		t.Errorf("first delivery outcome = %v, want processed", got)
	}

	second := post(sig)
	if second.Code != http.StatusOK {
		t.Fatalf("redelivery status = %d, want %d", second.Code, http.StatusOK)
	}
	body := decodeBody(t, second)
	if body["outcome"] != "duplicate" || body["event_id"] != "evt_e2e" {
		t.Errorf("redelivery response = %v, want duplicate of evt_e2e", body)
	}

	forged := post(webhook.GenerateTestHeader(payload, "whsec_other", time.Now()))
	if forged.Code != http.StatusUnauthorized {
		t.Errorf("forged delivery status = %d, want %d", forged.Code, http.StatusUnauthorized)
	}

	if calls != 1 {
		t.Errorf("callback calls = %d, want 1", calls)
	}
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestHealth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "healthy", wantStatus: http.StatusOK},
		{name: "store down", err: errors.New("connection refused"), wantStatus: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := httptest.NewRecorder()
			NewHealth(pinger{err: tt.err}).HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}
