package ratelimit

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/vyrodovalexey/rosterguard/internal/observability"
	"github.com/vyrodovalexey/rosterguard/internal/ratelimit/store"
)

// Result is the outcome of a check.
type Result struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	Limit     int       `json:"limit"`
	ResetAt   time.Time `json:"resetAt"`
}

// RetryAfter returns how long until the window resets, relative to now.
func (r *Result) RetryAfter(now time.Time) time.Duration {
	if d := r.ResetAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Limiter is a fixed-window rate limiter. It is safe for concurrent use.
type Limiter struct {
	store   store.Store
	limits  atomic.Pointer[map[string]Limit]
	clock   func() time.Time
	logger  observability.Logger
	metrics *Metrics
}

// Option is a functional option for Limiter.
type Option func(*Limiter)

// WithStore sets the counter store. The limiter owns it and closes it.
func WithStore(s store.Store) Option {
	return func(l *Limiter) {
		l.store = s
	}
}

// WithClock sets the clock.
func WithClock(clock func() time.Time) Option {
	return func(l *Limiter) {
		l.clock = clock
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// WithMetrics sets the metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(l *Limiter) {
		l.metrics = metrics
	}
}

// New creates a limiter. Invalid limits are rejected here rather than per
// request.
func New(cfg *Config, opts ...Option) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l := &Limiter{
		clock:  time.Now,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.metrics == nil {
		l.metrics = NewMetrics(nil)
	}
	if l.store == nil {
		l.store = store.NewMemoryStore(store.WithJanitorClock(l.clock))
	}

	limits := cfg.Resolved()
	l.limits.Store(&limits)
	return l, nil
}

// SetLimits atomically replaces the configured limits. Existing windows
// keep their reset time; new quotas apply to the next check.
func (l *Limiter) SetLimits(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	limits := cfg.Resolved()
	l.limits.Store(&limits)
	l.logger.Info("rate limits updated", observability.Int("resources", len(limits)))
	return nil
}

// Limits returns a copy of the configured limits.
func (l *Limiter) Limits() map[string]Limit {
	current := *l.limits.Load()
	out := make(map[string]Limit, len(current))
	for k, v := range current {
		out[k] = v
	}
	return out
}

// LimitFor returns the limit applied to resource and the name of the
// configuration entry it came from.
func (l *Limiter) LimitFor(resource string) (Limit, string) {
	limits := *l.limits.Load()
	if lim, ok := limits[resource]; ok {
		return lim, resource
	}
	return limits[DefaultResource], DefaultResource
}

// Key returns the bucket key of a (resource, identifier) pair.
func Key(resource, identifier string) string {
	return resource + ":" + identifier
}

// Check counts one request against resource for identifier. A non-nil
// override replaces the configured limit.
func (l *Limiter) Check(ctx context.Context, resource, identifier string, override *Limit) (*Result, error) {
	limit, source := l.LimitFor(resource)
	if override != nil {
		if err := override.Validate(); err != nil {
			return nil, err
		}
		limit = *override
	}

	now := l.clock()
	b, err := l.store.Hit(ctx, Key(resource, identifier), limit.Window, now)
	if err != nil {
		return nil, fmt.Errorf("rate limit check %s: %w", Key(resource, identifier), err)
	}

	res := newResult(limit, b)
	l.metrics.recordCheck(source, res.Allowed)
	if !res.Allowed {
		l.logger.Debug("rate limit exceeded",
			observability.String("resource", resource),
			observability.String("identifier", identifier),
			observability.Int64("count", b.Count),
			observability.Int("limit", limit.Requests),
		)
	}
	return res, nil
}

// Status reports the current window without counting a request.
func (l *Limiter) Status(ctx context.Context, resource, identifier string) (*Result, error) {
	return l.StatusWithLimit(ctx, resource, identifier, nil)
}

// StatusWithLimit is Status evaluated against an explicit limit.
func (l *Limiter) StatusWithLimit(ctx context.Context, resource, identifier string, override *Limit) (*Result, error) {
	limit, _ := l.LimitFor(resource)
	if override != nil {
		if err := override.Validate(); err != nil {
			return nil, err
		}
		limit = *override
	}

	now := l.clock()
	b, ok, err := l.store.Peek(ctx, Key(resource, identifier), now)
	if err != nil {
		return nil, fmt.Errorf("rate limit status %s: %w", Key(resource, identifier), err)
	}
	if !ok {
		return &Result{
			Allowed:   true,
			Remaining: limit.Requests,
			Limit:     limit.Requests,
			ResetAt:   now.Add(limit.Window),
		}, nil
	}
	return newResult(limit, b), nil
}

// Reset clears the window of a (resource, identifier) pair.
func (l *Limiter) Reset(ctx context.Context, resource, identifier string) error {
	return l.store.Delete(ctx, Key(resource, identifier))
}

// Close closes the store.
func (l *Limiter) Close() error {
	return l.store.Close()
}

func newResult(limit Limit, b store.Bucket) *Result {
	quota := limit.quota()
	remaining := quota - b.Count
	if remaining < 0 {
		remaining = 0
	}
	return &Result{
		Allowed:   b.Count <= quota,
		Remaining: int(remaining),
		Limit:     limit.Requests,
		ResetAt:   b.ResetAt,
	}
}
