package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/garrettladley/hookd/internal/service/webhook"
	"github.com/garrettladley/hookd/internal/storage"
	"github.com/garrettladley/hookd/internal/xslog"
	go_json "github.com/goccy/go-json"
)

const (
	DefaultMaxPayloadBytes   = 128 * 1024
	DefaultMaxRetries        = 3
	DefaultInitialBackoff    = 100 * time.Millisecond
	DefaultBackoffMultiplier = 2.0
	DefaultMaxBackoff        = 5 * time.Second
	DefaultAttemptTimeout    = 5 * time.Second
	DefaultCallbackTimeout   = 30 * time.Second
)

type Outcome string

const (
	OutcomeProcessed          Outcome = "processed"
	OutcomeDuplicate          Outcome = "duplicate"
	OutcomeVerificationFailed Outcome = "verification_failed"
	OutcomeValidationFailed   Outcome = "validation_failed"
	OutcomeRetriesExhausted   Outcome = "retries_exhausted"
	OutcomeProcessingFailed   Outcome = "processing_failed"
	OutcomeCanceled           Outcome = "canceled"
)

func (o Outcome) String() string { return string(o) }

// Outcomes lists every terminal outcome Handle can report.
func Outcomes() []Outcome {
	return []Outcome{
		OutcomeProcessed,
		OutcomeDuplicate,
		OutcomeVerificationFailed,
		OutcomeValidationFailed,
		OutcomeRetriesExhausted,
		OutcomeProcessingFailed,
		OutcomeCanceled,
	}
}

// Callback is the business logic run once for every newly processed event.
type Callback func(ctx context.Context, event webhook.Event) (any, error)

type Result struct {
	Outcome  Outcome
	Event    webhook.Event
	Attempts int
	// Value is what the callback returned for OutcomeProcessed.
	Value any
}

// Recorder observes terminal outcomes and retries.
type Recorder interface {
	RecordOutcome(outcome Outcome, attempts int, elapsed time.Duration)
	RecordRetry(attempt int, backoff time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordOutcome(Outcome, int, time.Duration) {}
func (nopRecorder) RecordRetry(int, time.Duration)            {}

type Config struct {
	MaxPayloadBytes int
	// MaxRetries is the total number of attempts, including the first.
	MaxRetries        int
	InitialBackoff    time.Duration
	BackoffMultiplier float64
	// MaxBackoff caps a single delay; non-positive means uncapped.
	MaxBackoff time.Duration
	// AttemptTimeout bounds one gate call; non-positive disables it.
	AttemptTimeout time.Duration
	// CallbackTimeout bounds the callback, which does not see the caller's
	// cancellation; non-positive disables it.
	CallbackTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxPayloadBytes:   DefaultMaxPayloadBytes,
		MaxRetries:        DefaultMaxRetries,
		InitialBackoff:    DefaultInitialBackoff,
		BackoffMultiplier: DefaultBackoffMultiplier,
		MaxBackoff:        DefaultMaxBackoff,
		AttemptTimeout:    DefaultAttemptTimeout,
		CallbackTimeout:   DefaultCallbackTimeout,
	}
}

func (c Config) validate() error {
	switch {
	case c.MaxPayloadBytes <= 0:
		return errors.New("max payload bytes must be positive")
	case c.MaxRetries < 1:
		return errors.New("max retries must be at least 1")
	case c.InitialBackoff < 0:
		return errors.New("initial backoff must not be negative")
	case c.BackoffMultiplier < 1:
		return errors.New("backoff multiplier must be at least 1")
	}
	return nil
}

type Option func(*Controller)

func WithRecorder(r Recorder) Option {
	return func(c *Controller) {
		if r != nil {
			c.recorder = r
		}
	}
}

// WithSleep replaces the backoff wait. fn must return ctx.Err() when ctx is
// done before d elapses.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Controller) {
		if fn != nil {
			c.sleep = fn
		}
	}
}

// Controller validates inbound deliveries, runs them through the gate with
// bounded retries and hands newly processed events to the callback.
type Controller struct {
	gate     webhook.Service
	store    storage.Store
	callback Callback
	cfg      Config
	recorder Recorder
	sleep    func(ctx context.Context, d time.Duration) error
}

func New(gate webhook.Service, store storage.Store, callback Callback, cfg Config, opts ...Option) (*Controller, error) {
	if gate == nil {
		return nil, errors.New("ingest: gate is required")
	}
	if store == nil {
		return nil, errors.New("ingest: store is required")
	}
	if callback == nil {
		return nil, errors.New("ingest: callback is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}

	c := &Controller{
		gate:     gate,
		store:    store,
		callback: callback,
		cfg:      cfg,
		recorder: nopRecorder{},
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Controller) Config() Config { return c.cfg }

// Handle runs one delivery to a terminal outcome. The returned error is nil
// only for OutcomeProcessed; Result.Outcome is always set.
func (c *Controller) Handle(ctx context.Context, payload []byte, sigHeader string) (Result, error) {
	start := time.Now()
	res, err := c.handle(ctx, payload, sigHeader)
	elapsed := time.Since(start)

	c.recorder.RecordOutcome(res.Outcome, res.Attempts, elapsed)
	c.log(ctx, res, err, len(payload), elapsed)

	return res, err
}

func (c *Controller) handle(ctx context.Context, payload []byte, sigHeader string) (Result, error) {
	if err := c.validatePayload(payload); err != nil {
		return Result{Outcome: OutcomeValidationFailed}, err
	}

	var (
		backoff = c.cfg.InitialBackoff
		last    error
	)
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{Outcome: OutcomeCanceled, Attempts: attempt - 1}, err
		}

		event, err := c.attempt(ctx, payload, sigHeader)
		switch {
		case err == nil:
			return c.process(ctx, event, attempt)
		case webhook.IsAlreadyProcessed(err):
			return Result{Outcome: OutcomeDuplicate, Attempts: attempt}, err
		case webhook.IsVerificationFailure(err):
			return Result{Outcome: OutcomeVerificationFailed, Attempts: attempt}, err
		case ctx.Err() != nil:
			return Result{Outcome: OutcomeCanceled, Attempts: attempt}, ctx.Err()
		case !webhook.IsTransient(err):
			return Result{Outcome: OutcomeProcessingFailed, Attempts: attempt}, &ProcessingError{Err: err}
		}

		last = err
		if attempt == c.cfg.MaxRetries {
			break
		}

		c.recorder.RecordRetry(attempt, backoff)
		xslog.FromContext(ctx).WarnContext(ctx, "transient failure, retrying",
			xslog.Error(err),
			xslog.Attempt(attempt),
			xslog.MaxAttempts(c.cfg.MaxRetries),
			xslog.Backoff(backoff),
		)

		if err := c.sleep(ctx, backoff); err != nil {
			return Result{Outcome: OutcomeCanceled, Attempts: attempt}, err
		}
		backoff = c.nextBackoff(backoff)
	}

	return Result{Outcome: OutcomeRetriesExhausted, Attempts: c.cfg.MaxRetries},
		&RetriesExhaustedError{Attempts: c.cfg.MaxRetries, Last: last}
}

func (c *Controller) process(ctx context.Context, event webhook.Event, attempt int) (Result, error) {
	res := Result{Event: event, Attempts: attempt}

	// The event is already marked, so a redelivery would be answered as a
	// duplicate. Cancelling the callback now would drop the event.
	cbCtx := context.WithoutCancel(ctx)
	if c.cfg.CallbackTimeout > 0 {
		var cancel context.CancelFunc
		cbCtx, cancel = context.WithTimeout(cbCtx, c.cfg.CallbackTimeout)
		defer cancel()
	}

	value, err := c.callback(xslog.WithEvent(cbCtx, event.ID(), event.Type()), event)
	if err != nil {
		res.Outcome = OutcomeProcessingFailed
		return res, &ProcessingError{EventID: event.ID(), Err: err}
	}

	res.Outcome = OutcomeProcessed
	res.Value = value
	return res, nil
}

// validatePayload checks, in order: non-empty, a JSON object, within the size
// limit.
func (c *Controller) validatePayload(payload []byte) error {
	if len(bytes.TrimSpace(payload)) == 0 {
		return &ValidationError{Reason: ReasonEmptyPayload}
	}
	if trimmed := bytes.TrimLeft(payload, " \t\r\n"); trimmed[0] != '{' || !go_json.Valid(payload) {
		return &ValidationError{Reason: ReasonMalformedPayload}
	}
	if len(payload) > c.cfg.MaxPayloadBytes {
		return &ValidationError{Reason: ReasonPayloadTooLarge, Size: len(payload), Limit: c.cfg.MaxPayloadBytes}
	}
	return nil
}

type attemptResult struct {
	event webhook.Event
	err   error
}

// attempt runs the gate on its own goroutine so a stuck store call surfaces
// as a transient timeout instead of hanging the delivery.
func (c *Controller) attempt(ctx context.Context, payload []byte, sigHeader string) (webhook.Event, error) {
	if c.cfg.AttemptTimeout <= 0 {
		return c.gate.VerifyAndProcess(ctx, payload, sigHeader)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
	defer cancel()

	done := make(chan attemptResult, 1)
	go func() {
		event, err := c.gate.VerifyAndProcess(attemptCtx, payload, sigHeader)
		done <- attemptResult{event: event, err: err}
	}()

	select {
	case r := <-done:
		if r.err == nil || attemptCtx.Err() == nil || ctx.Err() != nil {
			return r.event, r.err
		}
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return webhook.Event{}, ctx.Err()
		}
	}

	return webhook.Event{}, &webhook.TransientError{
		Op:  "verify and process",
		Err: fmt.Errorf("%w after %s", ErrAttemptTimeout, c.cfg.AttemptTimeout),
	}
}

func (c *Controller) nextBackoff(current time.Duration) time.Duration {
	next := time.Duration(float64(current) * c.cfg.BackoffMultiplier)
	if next < current {
		// overflow
		next = current
	}
	if c.cfg.MaxBackoff > 0 && next > c.cfg.MaxBackoff {
		next = c.cfg.MaxBackoff
	}
	return next
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	// timer rather than time.After so an early return releases it
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Controller) log(ctx context.Context, res Result, err error, size int, elapsed time.Duration) {
	logger := xslog.FromContext(ctx)
	attrs := []slog.Attr{xslog.DeliveryGroup(res.Outcome.String(), res.Attempts, size, elapsed)}
	if !res.Event.IsZero() {
		attrs = append(attrs, xslog.EventID(res.Event.ID()), xslog.EventType(res.Event.Type()))
	}

	var dup *webhook.AlreadyProcessedError
	if errors.As(err, &dup) {
		attrs = append(attrs, xslog.EventID(dup.EventID))
	}

	var verr *ValidationError
	if errors.As(err, &verr) {
		attrs = append(attrs, xslog.Reason(string(verr.Reason)))
	}

	if err != nil && dup == nil {
		attrs = append(attrs, xslog.ErrorGroup(err))
	}

	level := slog.LevelInfo
	switch res.Outcome {
	case OutcomeVerificationFailed, OutcomeValidationFailed, OutcomeCanceled:
		level = slog.LevelWarn
	case OutcomeRetriesExhausted, OutcomeProcessingFailed:
		level = slog.LevelError
	}

	logger.LogAttrs(ctx, level, "webhook delivery handled", attrs...)
}

func (c *Controller) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	return c.store.IsProcessed(ctx, eventID)
}

func (c *Controller) RemoveProcessedEvent(ctx context.Context, eventID string) error {
	return c.store.RemoveEvent(ctx, eventID)
}

func (c *Controller) ClearProcessedEvents(ctx context.Context) error {
	return c.store.ClearAll(ctx)
}
