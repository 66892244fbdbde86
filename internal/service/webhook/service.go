package webhook

import (
	"context"
	"errors"
	"fmt"

	"github.com/garrettladley/hookd/internal/env"
)

var (
	// ErrVerificationFailed is the class every verification error belongs to.
	ErrVerificationFailed = errors.New("webhook verification failed")

	ErrMissingSignature        = errors.New("missing signature header")
	ErrMalformedHeader         = errors.New("malformed signature header")
	ErrSignatureMismatch       = errors.New("no signature matches the expected signature for the payload")
	ErrTimestampOutOfTolerance = errors.New("timestamp outside the tolerance zone")
	ErrMalformedPayload        = errors.New("payload is not a valid event")
)

func verificationError(reason error, detail string) error {
	if detail == "" {
		return fmt.Errorf("%w: %w", ErrVerificationFailed, reason)
	}
	return fmt.Errorf("%w: %w: %s", ErrVerificationFailed, reason, detail)
}

// IsVerificationFailure reports whether err came from signature or payload
// verification.
func IsVerificationFailure(err error) bool {
	return errors.Is(err, ErrVerificationFailed)
}

// AlreadyProcessedError is terminal for the event: retrying cannot change it.
type AlreadyProcessedError struct {
	EventID string
}

func (e *AlreadyProcessedError) Error() string {
	return fmt.Sprintf("event %s already processed", e.EventID)
}

func IsAlreadyProcessed(err error) bool {
	var target *AlreadyProcessedError
	return errors.As(err, &target)
}

// TransientError marks a failure that may succeed on retry, such as a store
// outage or rate limiting.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransientError) Unwrap() error { return e.Err }

func (e *TransientError) Temporary() bool { return true }

// IsTransient reports whether err, or anything it wraps, declares itself
// temporary.
func IsTransient(err error) bool {
	var t interface{ Temporary() bool }
	return errors.As(err, &t) && t.Temporary()
}

// ConfigurationError is returned at construction time, never per request.
type ConfigurationError struct {
	Stage  env.Stage
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("webhook configuration for stage %q: %s", e.Stage, e.Reason)
}

type Service interface {
	// VerifyAndProcess verifies the signature, rejects events that were
	// already processed and marks the event processed.
	// Returns an error satisfying IsVerificationFailure for bad input.
	// Returns *AlreadyProcessedError for duplicates.
	// Returns *TransientError when the idempotency store fails.
	VerifyAndProcess(ctx context.Context, payload []byte, sigHeader string) (Event, error)
}
