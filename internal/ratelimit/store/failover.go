package store

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
)

// Breaker defaults.
const (
	DefaultBreakerFailures = 5
	DefaultBreakerTimeout  = 30 * time.Second
)

// FailoverStore serves from a primary store behind a circuit breaker and
// falls back to a secondary store while the primary is failing or the
// breaker is open. Counts kept in the secondary are local to the process.
type FailoverStore struct {
	primary   Store
	secondary Store
	cb        *gobreaker.CircuitBreaker

	onFallback    func(op string, err error)
	onStateChange func(from, to gobreaker.State)
}

// FailoverOption is a functional option for FailoverStore.
type FailoverOption func(*failoverOptions)

type failoverOptions struct {
	name          string
	failures      uint32
	timeout       time.Duration
	onFallback    func(op string, err error)
	onStateChange func(from, to gobreaker.State)
}

// WithBreaker sets the consecutive failure count that opens the breaker
// and how long it stays open before probing the primary again.
func WithBreaker(failures uint32, timeout time.Duration) FailoverOption {
	return func(o *failoverOptions) {
		o.failures = failures
		o.timeout = timeout
	}
}

// WithFallbackHook is called every time an operation is served by the
// secondary store.
func WithFallbackHook(fn func(op string, err error)) FailoverOption {
	return func(o *failoverOptions) {
		o.onFallback = fn
	}
}

// WithStateChangeHook is called when the breaker changes state.
func WithStateChangeHook(fn func(from, to gobreaker.State)) FailoverOption {
	return func(o *failoverOptions) {
		o.onStateChange = fn
	}
}

// NewFailoverStore creates a failover store.
func NewFailoverStore(primary, secondary Store, opts ...FailoverOption) *FailoverStore {
	o := failoverOptions{
		name:     "ratelimit-store",
		failures: DefaultBreakerFailures,
		timeout:  DefaultBreakerTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.failures == 0 {
		o.failures = DefaultBreakerFailures
	}

	s := &FailoverStore{
		primary:       primary,
		secondary:     secondary,
		onFallback:    o.onFallback,
		onStateChange: o.onStateChange,
	}

	failures := o.failures
	s.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        o.name,
		MaxRequests: 1,
		Timeout:     o.timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			if s.onStateChange != nil {
				s.onStateChange(from, to)
			}
		},
	})
	return s
}

// State returns the breaker state.
func (s *FailoverStore) State() gobreaker.State {
	return s.cb.State()
}

func (s *FailoverStore) fallback(op string, err error) {
	if s.onFallback != nil {
		s.onFallback(op, err)
	}
}

// Hit implements Store.
func (s *FailoverStore) Hit(ctx context.Context, key string, window time.Duration, now time.Time) (Bucket, error) {
	res, err := s.cb.Execute(func() (interface{}, error) {
		return s.primary.Hit(ctx, key, window, now)
	})
	if err == nil {
		return res.(Bucket), nil
	}
	if ctx.Err() != nil {
		return Bucket{}, ctx.Err()
	}
	s.fallback("hit", err)
	return s.secondary.Hit(ctx, key, window, now)
}

type peekResult struct {
	bucket Bucket
	ok     bool
}

// Peek implements Store.
func (s *FailoverStore) Peek(ctx context.Context, key string, now time.Time) (Bucket, bool, error) {
	res, err := s.cb.Execute(func() (interface{}, error) {
		b, ok, err := s.primary.Peek(ctx, key, now)
		return peekResult{bucket: b, ok: ok}, err
	})
	if err == nil {
		pr := res.(peekResult)
		return pr.bucket, pr.ok, nil
	}
	if ctx.Err() != nil {
		return Bucket{}, false, ctx.Err()
	}
	s.fallback("peek", err)
	return s.secondary.Peek(ctx, key, now)
}

// Delete implements Store. The key is removed from both stores.
func (s *FailoverStore) Delete(ctx context.Context, key string) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.primary.Delete(ctx, key)
	})
	if err != nil {
		s.fallback("delete", err)
	}
	if serr := s.secondary.Delete(ctx, key); serr != nil {
		return serr
	}
	return nil
}

// Close closes both stores.
func (s *FailoverStore) Close() error {
	perr := s.primary.Close()
	serr := s.secondary.Close()
	if perr != nil {
		return perr
	}
	return serr
}
