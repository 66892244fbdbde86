package ingest

import (
	"errors"
	"fmt"
)

// ErrAttemptTimeout is wrapped by the transient error returned when a single
// attempt outlives Config.AttemptTimeout.
var ErrAttemptTimeout = errors.New("attempt timed out")

type ValidationReason string

const (
	ReasonEmptyPayload     ValidationReason = "empty_payload"
	ReasonMalformedPayload ValidationReason = "malformed_payload"
	ReasonPayloadTooLarge  ValidationReason = "payload_too_large"
)

// ValidationError rejects a payload before any verification is attempted.
type ValidationError struct {
	Reason ValidationReason
	Size   int
	Limit  int
}

func (e *ValidationError) Error() string {
	switch e.Reason {
	case ReasonEmptyPayload:
		return "payload is empty"
	case ReasonMalformedPayload:
		return "payload is not a JSON object"
	case ReasonPayloadTooLarge:
		return fmt.Sprintf("payload of %d bytes exceeds the %d byte limit", e.Size, e.Limit)
	default:
		return "invalid payload: " + string(e.Reason)
	}
}

func IsValidationError(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// RetriesExhaustedError is returned once every attempt failed transiently.
type RetriesExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("max retries reached after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Last }

// Temporary reports false: the retry budget is spent, even though Last was
// transient.
func (e *RetriesExhaustedError) Temporary() bool { return false }

// ProcessingError wraps a failure of the business callback, or an
// unclassified gate failure. It is never retried.
type ProcessingError struct {
	EventID string
	Err     error
}

func (e *ProcessingError) Error() string {
	if e.EventID == "" {
		return "processing failed: " + e.Err.Error()
	}
	return fmt.Sprintf("processing event %s failed: %v", e.EventID, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }
