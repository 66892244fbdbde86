package storage

import (
	"context"
	_ "embed"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

type RateLimitResult struct {
	Allowed    bool
	RetryAfter time.Duration
}

// RateLimiter limits requests per key, typically the client IP.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (RateLimitResult, error)
}

//go:embed ratelimit.lua
var rateLimitLua string

var rateLimitScript = redis.NewScript(rateLimitLua)

const (
	rateLimitKeyPrefix = "ratelimit:"
	limiterIdleTimeout = 10 * time.Minute
)

type rateLimitParams struct {
	window time.Duration // ARGV[1]: sliding window size in milliseconds
	limit  int           // ARGV[2]: max requests allowed in window
	ttl    time.Duration // ARGV[3]: key expiration in seconds
	now    time.Time     // ARGV[4]: current time in milliseconds
	member string        // ARGV[5]: unique member for this request
}

func (p rateLimitParams) args() []any {
	return []any{
		p.window.Milliseconds(),
		p.limit,
		int(p.ttl.Seconds()),
		p.now.UnixMilli(),
		p.member,
	}
}

func runRateLimitScript(ctx context.Context, client *redis.Client, key string, params rateLimitParams) (bool, error) {
	result, err := rateLimitScript.Run(ctx, client,
		[]string{key},
		params.args()...,
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to run rate limit script: %w", err)
	}
	return result == 1, nil
}

var _ RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter shares a sliding one-second window across replicas.
type RedisRateLimiter struct {
	client     *redis.Client
	limit      int
	rateWindow time.Duration
	now        func() time.Time
}

func NewRedisRateLimiter(client *redis.Client, limit int) *RedisRateLimiter {
	return &RedisRateLimiter{
		client:     client,
		limit:      max(limit, 1),
		rateWindow: time.Second,
		now:        defaultNow,
	}
}

func (r *RedisRateLimiter) Allow(ctx context.Context, key string) (RateLimitResult, error) {
	params := rateLimitParams{
		window: r.rateWindow,
		limit:  r.limit,
		ttl:    r.rateWindow + time.Second,
		now:    r.now(),
		member: uuid.NewString(),
	}

	allowed, err := runRateLimitScript(ctx, r.client, rateLimitKeyPrefix+key, params)
	if err != nil {
		return RateLimitResult{}, wrapErr(BackendRedis, "rate limit", err)
	}

	return RateLimitResult{
		Allowed:    allowed,
		RetryAfter: r.rateWindow,
	}, nil
}

var _ RateLimiter = (*MemoryRateLimiter)(nil)

type trackedLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryRateLimiter keeps a token bucket per key. Buckets idle for longer
// than limiterIdleTimeout are dropped by a background loop until Close.
type MemoryRateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*trackedLimiter
	rateLimit rate.Limit
	rateBurst int

	done      chan struct{}
	closeOnce sync.Once
}

func NewMemoryRateLimiter(ratePerSec float64, burst int) *MemoryRateLimiter {
	m := &MemoryRateLimiter{
		limiters:  make(map[string]*trackedLimiter),
		rateLimit: rate.Limit(ratePerSec),
		rateBurst: burst,
		done:      make(chan struct{}),
	}

	go m.cleanupLoop()

	return m
}

func (m *MemoryRateLimiter) Allow(_ context.Context, key string) (RateLimitResult, error) {
	now := time.Now()

	m.mu.Lock()
	tl, ok := m.limiters[key]
	if !ok {
		tl = &trackedLimiter{limiter: rate.NewLimiter(m.rateLimit, m.rateBurst)}
		m.limiters[key] = tl
	}
	tl.lastSeen = now
	m.mu.Unlock()

	r := tl.limiter.ReserveN(now, 1)
	if !r.OK() {
		return RateLimitResult{Allowed: false, RetryAfter: time.Second}, nil
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return RateLimitResult{Allowed: false, RetryAfter: delay}, nil
	}
	return RateLimitResult{Allowed: true}, nil
}

func (m *MemoryRateLimiter) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	return nil
}

func (m *MemoryRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.evictIdle(time.Now())
		case <-m.done:
			return
		}
	}
}

func (m *MemoryRateLimiter) evictIdle(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, tl := range m.limiters {
		if now.Sub(tl.lastSeen) > limiterIdleTimeout {
			delete(m.limiters, key)
		}
	}
}

// NewRateLimiter shares limits through redis when a client is configured and
// falls back to per-process buckets otherwise.
func NewRateLimiter(client *redis.Client, ratePerSec float64, burst int) RateLimiter {
	if client != nil {
		return NewRedisRateLimiter(client, int(math.Ceil(ratePerSec)))
	}
	return NewMemoryRateLimiter(ratePerSec, burst)
}
