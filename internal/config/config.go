package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	appenv "github.com/garrettladley/hookd/internal/env"
	"github.com/garrettladley/hookd/internal/kafka"
	"github.com/garrettladley/hookd/internal/service/ingest"
	"github.com/garrettladley/hookd/internal/service/webhook"
	"github.com/garrettladley/hookd/internal/storage"
)

const DefaultSignatureHeader = "Payment-Signature"

type Config struct {
	Port      string       `env:"PORT" envDefault:"8080"`
	Stage     appenv.Stage `env:"STAGE" envDefault:"development"`
	Webhook   Webhook      `envPrefix:"WEBHOOK_"`
	Ingest    Ingest       `envPrefix:"INGEST_"`
	Store     Store        `envPrefix:"STORE_"`
	Database  Database     `envPrefix:"DATABASE_"`
	Redis     Redis        `envPrefix:"REDIS_"`
	Kafka     kafka.Config `envPrefix:"KAFKA_"`
	RateLimit RateLimit    `envPrefix:"RATE_"`
}

type Webhook struct {
	SecretTest      string        `env:"SECRET_TEST"`
	SecretLive      string        `env:"SECRET_LIVE"`
	Tolerance       time.Duration `env:"TOLERANCE" envDefault:"20s"`
	DefaultTTL      time.Duration `env:"DEFAULT_TTL" envDefault:"48h"`
	SignatureHeader string        `env:"SIGNATURE_HEADER" envDefault:"Payment-Signature"`
}

func (w Webhook) Secrets() webhook.Secrets {
	return webhook.Secrets{Test: w.SecretTest, Live: w.SecretLive}
}

type Ingest struct {
	MaxPayloadBytes   int           `env:"MAX_PAYLOAD_BYTES" envDefault:"131072"`
	MaxRetries        int           `env:"MAX_RETRIES" envDefault:"3"`
	InitialBackoff    time.Duration `env:"INITIAL_BACKOFF" envDefault:"100ms"`
	BackoffMultiplier float64       `env:"BACKOFF_MULTIPLIER" envDefault:"2"`
	MaxBackoff        time.Duration `env:"MAX_BACKOFF" envDefault:"5s"`
	AttemptTimeout    time.Duration `env:"ATTEMPT_TIMEOUT" envDefault:"5s"`
	CallbackTimeout   time.Duration `env:"CALLBACK_TIMEOUT" envDefault:"30s"`
}

func (i Ingest) Controller() ingest.Config {
	return ingest.Config{
		MaxPayloadBytes:   i.MaxPayloadBytes,
		MaxRetries:        i.MaxRetries,
		InitialBackoff:    i.InitialBackoff,
		BackoffMultiplier: i.BackoffMultiplier,
		MaxBackoff:        i.MaxBackoff,
		AttemptTimeout:    i.AttemptTimeout,
		CallbackTimeout:   i.CallbackTimeout,
	}
}

type Store struct {
	// Backend overrides the stage default when set.
	Backend         storage.Backend `env:"BACKEND"`
	Table           string          `env:"TABLE" envDefault:"processed_webhook_events"`
	SQLitePath      string          `env:"SQLITE_PATH" envDefault:"hookd.db"`
	KeyPrefix       string          `env:"KEY_PREFIX" envDefault:"webhook:processed:"`
	CleanupInterval time.Duration   `env:"CLEANUP_INTERVAL" envDefault:"10m"`
}

type Database struct {
	URL string `env:"URL"`
}

type Redis struct {
	URL string `env:"URL"`
}

type RateLimit struct {
	Limit float64 `env:"LIMIT" envDefault:"10"`
	Burst int     `env:"BURST" envDefault:"20"`
}

func Read() (Config, error) {
	return parse(env.Options{}, Config.Validate)
}

// ReadStore reads the configuration for tools that only touch the
// idempotency store, so signing secrets are not required.
func ReadStore() (Config, error) {
	return parse(env.Options{}, Config.ValidateStore)
}

func parse(opts env.Options, validate func(Config) error) (Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](opts)
	if err != nil {
		return Config{}, err
	}
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate catches settings that would only fail later at construction.
func (c Config) Validate() error {
	var errs []error

	if c.Webhook.Secrets().ForStage(c.Stage) == "" {
		if c.Stage.IsProduction() {
			errs = append(errs, errors.New("WEBHOOK_SECRET_LIVE is required in production"))
		} else {
			errs = append(errs, fmt.Errorf("WEBHOOK_SECRET_TEST is required in %s", c.Stage))
		}
	}
	if c.Webhook.SignatureHeader == "" {
		errs = append(errs, errors.New("WEBHOOK_SIGNATURE_HEADER must not be empty"))
	}

	errs = append(errs, c.ValidateStore())

	if c.RateLimit.Limit <= 0 || c.RateLimit.Burst <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT and RATE_BURST must be positive"))
	}

	return errors.Join(errs...)
}

// ValidateStore checks that the backend for the stage has its connection
// settings.
func (c Config) ValidateStore() error {
	backend, err := c.StoreBackend()
	if err != nil {
		return err
	}
	switch backend {
	case storage.BackendPostgres:
		if c.Database.URL == "" {
			return errors.New("DATABASE_URL is required for the postgres store")
		}
	case storage.BackendRedis:
		if c.Redis.URL == "" {
			return errors.New("REDIS_URL is required for the redis store")
		}
	}
	return nil
}

// StoreBackend is the backend storage.New builds for this configuration.
func (c Config) StoreBackend() (storage.Backend, error) {
	return storage.Resolve(c.Stage, storage.Options{Backend: c.Store.Backend})
}
