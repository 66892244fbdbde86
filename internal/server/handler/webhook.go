package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/garrettladley/hookd/internal/service/ingest"
	"github.com/garrettladley/hookd/internal/service/webhook"
	"github.com/garrettladley/hookd/internal/xcontext"
	"github.com/garrettladley/hookd/internal/xerrors"
	"github.com/garrettladley/hookd/internal/xhttp"
)

// Ingester runs one delivery to a terminal outcome.
type Ingester interface {
	Handle(ctx context.Context, payload []byte, sigHeader string) (ingest.Result, error)
}

type Webhook struct {
	ingester        Ingester
	signatureHeader string
	maxPayloadBytes int
}

func NewWebhook(ingester Ingester, signatureHeader string, maxPayloadBytes int) *Webhook {
	return &Webhook{
		ingester:        ingester,
		signatureHeader: signatureHeader,
		maxPayloadBytes: maxPayloadBytes,
	}
}

type webhookResponse struct {
	Outcome  string `json:"outcome"`
	EventID  string `json:"event_id,omitempty"`
	Attempts int    `json:"attempts"`
}

// HandleWebhook handles POST /webhooks/payments requests.
func (h *Webhook) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// one byte past the limit lets the controller report the exact size
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, int64(h.maxPayloadBytes)+1))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			xerrors.WriteError(ctx, w, xerrors.PayloadTooLarge(xerrors.WithCause(err)))
			return
		}
		xerrors.WriteError(ctx, w, xerrors.BadRequest(xerrors.WithMessage("failed to read request body"), xerrors.WithCause(err)))
		return
	}

	res, err := h.ingester.Handle(ctx, body, r.Header.Get(h.signatureHeader))

	resp := webhookResponse{
		Outcome:  res.Outcome.String(),
		EventID:  res.Event.ID(),
		Attempts: res.Attempts,
	}

	switch res.Outcome {
	case ingest.OutcomeProcessed:
		xhttp.WriteOK(w, resp)

	case ingest.OutcomeDuplicate:
		var dup *webhook.AlreadyProcessedError
		if errors.As(err, &dup) {
			resp.EventID = dup.EventID
		}
		// a 2xx stops the platform from redelivering
		xhttp.WriteOK(w, resp)

	case ingest.OutcomeValidationFailed:
		var verr *ingest.ValidationError
		if errors.As(err, &verr) && verr.Reason == ingest.ReasonPayloadTooLarge {
			xerrors.WriteError(ctx, w, xerrors.PayloadTooLarge(xerrors.WithMessage(verr.Error()), xerrors.WithCause(err)))
			return
		}
		var fields map[string]string
		if verr != nil {
			fields = map[string]string{"payload": string(verr.Reason)}
		}
		xerrors.WriteError(ctx, w, xerrors.Validation(fields, xerrors.WithMessage("invalid payload"), xerrors.WithCause(err)))

	case ingest.OutcomeVerificationFailed:
		xerrors.WriteError(ctx, w, xerrors.Unauthorized(xerrors.WithMessage("signature verification failed"), xerrors.WithCause(err)))

	case ingest.OutcomeRetriesExhausted:
		xerrors.WriteError(ctx, w, xerrors.ServiceUnavailable(xerrors.WithMessage("temporarily unable to process webhook"), xerrors.WithCause(err)))

	case ingest.OutcomeCanceled:
		msg := "request canceled"
		if xcontext.IsShutdownInProgress(ctx) {
			msg = "server shutting down"
		}
		xerrors.WriteError(ctx, w, xerrors.ServiceUnavailable(xerrors.WithMessage(msg), xerrors.WithCause(err)))

	default:
		xerrors.WriteError(ctx, w, xerrors.Internal(xerrors.WithMessage("failed to process webhook"), xerrors.WithCause(err)))
	}
}
