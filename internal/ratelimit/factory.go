package ratelimit

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/vyrodovalexey/rosterguard/internal/observability"
	"github.com/vyrodovalexey/rosterguard/internal/ratelimit/store"
)

// StoreConfig selects the counter store.
type StoreConfig struct {
	// Redis enables the shared Redis store when set.
	Redis *store.RedisConfig `yaml:"redis,omitempty" json:"redis,omitempty"`

	// BreakerFailures is the consecutive failure count that opens the
	// breaker in front of Redis.
	BreakerFailures uint32 `yaml:"breakerFailures,omitempty" json:"breakerFailures,omitempty"`

	// BreakerTimeout is how long the breaker stays open.
	BreakerTimeout time.Duration `yaml:"breakerTimeout,omitempty" json:"breakerTimeout,omitempty"`
}

// NewStore builds the store described by cfg. Without Redis an in-memory
// store is returned. With Redis the store fails over to memory while Redis
// is unavailable.
func NewStore(ctx context.Context, cfg *StoreConfig, clock func() time.Time,
	logger observability.Logger, metrics *Metrics) (store.Store, error) {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	memory := store.NewMemoryStore(store.WithJanitorClock(clock))
	if cfg == nil || cfg.Redis == nil {
		return memory, nil
	}

	primary, err := store.DialRedisStore(ctx, cfg.Redis)
	if err != nil {
		_ = memory.Close()
		return nil, err
	}

	logger.Info("using redis rate limit store",
		observability.String("address", cfg.Redis.Address),
	)
	return NewFailover(primary, memory, cfg, logger, metrics), nil
}

// NewFailover wraps primary with a breaker that falls back to secondary,
// wiring fallback and state changes into logs and metrics.
func NewFailover(primary, secondary store.Store, cfg *StoreConfig,
	logger observability.Logger, metrics *Metrics) *store.FailoverStore {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	var failures uint32
	var timeout time.Duration
	if cfg != nil {
		failures, timeout = cfg.BreakerFailures, cfg.BreakerTimeout
	}
	if timeout <= 0 {
		timeout = store.DefaultBreakerTimeout
	}

	warn := &rate.Sometimes{Interval: 10 * time.Second}
	return store.NewFailoverStore(primary, secondary,
		store.WithBreaker(failures, timeout),
		store.WithFallbackHook(func(op string, err error) {
			metrics.RecordFallback(op)
			warn.Do(func() {
				logger.Warn("rate limit store unavailable, using in-memory fallback",
					observability.String("operation", op),
					observability.Error(err),
				)
			})
		}),
		store.WithStateChangeHook(func(from, to gobreaker.State) {
			metrics.SetBreakerState(int(to))
			logger.Info("rate limit store breaker state change",
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
		}),
	)
}
