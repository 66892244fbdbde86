package webhook

import (
	"context"
	"sync"
	"time"

	"github.com/garrettladley/hookd/internal/env"
	"github.com/garrettladley/hookd/internal/storage"
	"github.com/garrettladley/hookd/internal/xslog"
)

// DefaultTTL is how long processed event ids are retained.
const DefaultTTL = 48 * time.Hour

// Secrets holds the signing secret for each platform mode. Production uses
// Live; development and test use Test.
type Secrets struct {
	Test string
	Live string
}

func (s Secrets) ForStage(stage env.Stage) string {
	if stage.IsProduction() {
		return s.Live
	}
	return s.Test
}

type GateConfig struct {
	Stage     env.Stage
	Secrets   Secrets
	Tolerance time.Duration
	// DefaultTTL applies to every mark; non-positive means never expire.
	DefaultTTL time.Duration
}

type gateSnapshot struct {
	secret     string
	tolerance  time.Duration
	defaultTTL time.Duration
}

// Gate verifies inbound payloads and records them in the idempotency store.
// Setters only affect calls that start after they return.
type Gate struct {
	verifier *Verifier
	store    storage.Store

	mu         sync.RWMutex
	stage      env.Stage
	secrets    Secrets
	tolerance  time.Duration
	defaultTTL time.Duration
}

var _ Service = (*Gate)(nil)

func NewGate(cfg GateConfig, store storage.Store, verifier *Verifier) (*Gate, error) {
	if store == nil {
		return nil, &ConfigurationError{Stage: cfg.Stage, Reason: "idempotency store is required"}
	}
	if err := checkSecret(cfg.Stage, cfg.Secrets); err != nil {
		return nil, err
	}
	if verifier == nil {
		verifier = NewVerifier(nil)
	}
	return &Gate{
		verifier:   verifier,
		store:      store,
		stage:      cfg.Stage,
		secrets:    cfg.Secrets,
		tolerance:  cfg.Tolerance,
		defaultTTL: cfg.DefaultTTL,
	}, nil
}

func checkSecret(stage env.Stage, secrets Secrets) error {
	switch stage {
	case env.Development, env.Test, env.Production:
	default:
		return &ConfigurationError{Stage: stage, Reason: "unknown stage"}
	}
	if secrets.ForStage(stage) == "" {
		if stage.IsProduction() {
			return &ConfigurationError{Stage: stage, Reason: "live signing secret is not set"}
		}
		return &ConfigurationError{Stage: stage, Reason: "test signing secret is not set"}
	}
	return nil
}

func (g *Gate) VerifyAndProcess(ctx context.Context, payload []byte, sigHeader string) (Event, error) {
	snap := g.snapshot()

	// fail closed: nothing touches the store until the signature checks out
	event, err := g.verifier.VerifySignature(payload, sigHeader, snap.secret, snap.tolerance)
	if err != nil {
		return Event{}, err
	}

	processed, err := g.store.IsProcessed(ctx, event.ID())
	if err != nil {
		return Event{}, &TransientError{Op: "check processed", Err: err}
	}
	if processed {
		return Event{}, &AlreadyProcessedError{EventID: event.ID()}
	}

	// a concurrent delivery may have marked the id since the check above
	created, err := g.store.TryMarkAsProcessed(ctx, event.ID(), snap.defaultTTL, event.Summary())
	if err != nil {
		return Event{}, &TransientError{Op: "mark processed", Err: err}
	}
	if !created {
		return Event{}, &AlreadyProcessedError{EventID: event.ID()}
	}

	xslog.FromContext(ctx).DebugContext(ctx, "marked event processed",
		xslog.EventID(event.ID()),
		xslog.EventType(event.Type()),
	)

	return event, nil
}

func (g *Gate) snapshot() gateSnapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return gateSnapshot{
		secret:     g.secrets.ForStage(g.stage),
		tolerance:  g.tolerance,
		defaultTTL: g.defaultTTL,
	}
}

func (g *Gate) SetTolerance(tolerance time.Duration) {
	g.mu.Lock()
	g.tolerance = tolerance
	g.mu.Unlock()
}

// SetDefaultTTL changes retention for future marks; non-positive means never
// expire.
func (g *Gate) SetDefaultTTL(ttl time.Duration) {
	g.mu.Lock()
	g.defaultTTL = ttl
	g.mu.Unlock()
}

// SetStage switches the active secret. The stage is left unchanged when the
// secret for the new stage is missing.
func (g *Gate) SetStage(stage env.Stage) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := checkSecret(stage, g.secrets); err != nil {
		return err
	}
	g.stage = stage
	return nil
}

func (g *Gate) Stage() env.Stage {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.stage
}

func (g *Gate) Tolerance() time.Duration {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.tolerance
}

func (g *Gate) DefaultTTL() time.Duration {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.defaultTTL
}
