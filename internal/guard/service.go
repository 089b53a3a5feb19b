package guard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/rosterguard/internal/apikey"
	"github.com/vyrodovalexey/rosterguard/internal/audit"
	"github.com/vyrodovalexey/rosterguard/internal/authz"
	"github.com/vyrodovalexey/rosterguard/internal/config"
	"github.com/vyrodovalexey/rosterguard/internal/observability"
	"github.com/vyrodovalexey/rosterguard/internal/permission"
	"github.com/vyrodovalexey/rosterguard/internal/ratelimit"
	"github.com/vyrodovalexey/rosterguard/internal/ratelimit/store"
	"github.com/vyrodovalexey/rosterguard/internal/role"
)

// ErrForbidden is returned when the acting user may not perform a role
// administration change.
var ErrForbidden = errors.New("forbidden")

// Audit actions of administrative operations.
const (
	ActionRoleCreate   = "roles:create"
	ActionRoleAssign   = "roles:assign"
	ActionRoleRevoke   = "roles:revoke"
	ActionAPIKeyCreate = "api_keys:create"
	ActionAPIKeyRevoke = "api_keys:revoke"
)

// Service is the authorization and rate limiting facade. It is safe for
// concurrent use.
type Service struct {
	registry    *permission.Registry
	roles       role.Store
	resolver    *role.Resolver
	roleManager *role.Manager
	compiler    *role.Compiler
	audit       *audit.Log
	engine      *authz.Engine
	limiter     *ratelimit.Limiter
	keys        *apikey.Manager

	redis      redis.UniversalClient
	ownsRedis  bool
	logger     observability.Logger
	registerer prometheus.Registerer
	tracer     trace.Tracer
	clock      func() time.Time

	closeOnce sync.Once
	closeErr  error
}

// Option is a functional option for Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithRegisterer sets the Prometheus registerer of every component.
func WithRegisterer(registerer prometheus.Registerer) Option {
	return func(s *Service) {
		s.registerer = registerer
	}
}

// WithTracer sets the tracer of the decision engine.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

// WithClock sets the clock.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		s.clock = clock
	}
}

// WithRegistry replaces the default permission registry.
func WithRegistry(registry *permission.Registry) Option {
	return func(s *Service) {
		s.registry = registry
	}
}

// WithRoleStore replaces the in-memory role store.
func WithRoleStore(roles role.Store) Option {
	return func(s *Service) {
		s.roles = roles
	}
}

// WithRedisClient supplies the Redis client. The caller keeps ownership.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(s *Service) {
		s.redis = client
	}
}

// New builds a Service from cfg. A nil cfg uses the defaults.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		logger: observability.NopLogger(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = permission.NewDefaultRegistry()
	}
	if s.roles == nil {
		s.roles = role.NewMemoryStore(role.SystemRoles(s.registry))
	}

	if err := s.connectRedis(ctx, cfg); err != nil {
		return nil, err
	}

	if err := s.build(ctx, cfg); err != nil {
		_ = s.Close()
		return nil, err
	}

	if err := s.seedTenants(ctx, cfg.Tenants); err != nil {
		_ = s.Close()
		return nil, err
	}

	s.logger.Info("rosterguard service ready",
		observability.String("rate_limit_store", cfg.RateLimit.Store),
		observability.String("api_key_store", cfg.APIKeys.Store),
		observability.Int("tenants", len(cfg.Tenants)),
	)
	return s, nil
}

func (s *Service) connectRedis(ctx context.Context, cfg *config.Config) error {
	if !cfg.NeedsRedis() || s.redis != nil {
		return nil
	}

	client := store.NewRedisClient(cfg.Redis)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Address, err)
	}
	s.redis = client
	s.ownsRedis = true
	s.logger.Info("connected to redis", observability.String("address", cfg.Redis.Address))
	return nil
}

func (s *Service) build(ctx context.Context, cfg *config.Config) error {
	compiler, err := role.NewCompiler(0)
	if err != nil {
		return err
	}
	s.compiler = compiler
	s.resolver = role.NewResolver(s.roles)
	s.roleManager = role.NewManager(s.roles, s.registry, compiler,
		role.WithManagerLogger(s.logger.With(observability.String("component", "roles"))),
		role.WithManagerClock(s.clock),
	)

	sinks, err := s.auditSinks(cfg)
	if err != nil {
		return err
	}
	s.audit = audit.NewLog(&cfg.Audit,
		audit.WithLogger(s.logger.With(observability.String("component", "audit"))),
		audit.WithMetrics(audit.NewMetrics(s.registerer)),
		audit.WithClock(s.clock),
		audit.WithSinks(sinks...),
	)

	engineOpts := []authz.Option{
		authz.WithLogger(s.logger.With(observability.String("component", "authz"))),
		authz.WithMetrics(authz.NewMetrics(s.registerer)),
		authz.WithClock(s.clock),
		authz.WithCompiler(compiler),
	}
	if s.tracer != nil {
		engineOpts = append(engineOpts, authz.WithTracer(s.tracer))
	}
	s.engine = authz.NewEngine(s.registry, s.resolver, s.audit, engineOpts...)

	limiterLogger := s.logger.With(observability.String("component", "ratelimit"))
	limiterMetrics := ratelimit.NewMetrics(s.registerer)
	counters, err := s.rateLimitStore(ctx, cfg, limiterLogger, limiterMetrics)
	if err != nil {
		return err
	}
	s.limiter, err = ratelimit.New(cfg.RateLimiter(),
		ratelimit.WithStore(counters),
		ratelimit.WithClock(s.clock),
		ratelimit.WithLogger(limiterLogger),
		ratelimit.WithMetrics(limiterMetrics),
	)
	if err != nil {
		_ = counters.Close()
		return err
	}

	var keyStore apikey.Store = apikey.NewMemoryStore()
	if cfg.APIKeys.Store == config.StoreRedis {
		keyStore = apikey.NewRedisStore(s.redis, "")
	}
	keyOpts := []apikey.Option{
		apikey.WithLogger(s.logger.With(observability.String("component", "apikey"))),
		apikey.WithMetrics(apikey.NewMetrics(s.registerer)),
		apikey.WithClock(s.clock),
	}
	switch {
	case cfg.APIKeys.CacheSize != 0:
		keyOpts = append(keyOpts, apikey.WithCache(cfg.APIKeys.CacheSize, cfg.APIKeys.CacheTTL))
	case cfg.APIKeys.CacheTTL > 0:
		keyOpts = append(keyOpts, apikey.WithCache(apikey.DefaultCacheSize, cfg.APIKeys.CacheTTL))
	}
	s.keys = apikey.NewManager(keyStore, s.registry, s.engine, s.limiter, keyOpts...)
	return nil
}

func (s *Service) auditSinks(cfg *config.Config) ([]audit.Sink, error) {
	var sinks []audit.Sink
	if cfg.Audit.Output != "" {
		w, err := audit.OpenWriterSink(cfg.Audit.Output, cfg.Audit.Format)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, w)
	}
	if cfg.Audit.Stream != nil {
		sinks = append(sinks, audit.NewRedisStreamSink(s.redis, cfg.Audit.Stream))
	}
	return sinks, nil
}

func (s *Service) rateLimitStore(ctx context.Context, cfg *config.Config,
	logger observability.Logger, metrics *ratelimit.Metrics) (store.Store, error) {
	if cfg.RateLimit.Store != config.StoreRedis {
		return ratelimit.NewStore(ctx, nil, s.clock, logger, metrics)
	}
	primary := store.NewRedisStore(s.redis, cfg.Redis.Prefix)
	secondary := store.NewMemoryStore(store.WithJanitorClock(s.clock))
	return ratelimit.NewFailover(primary, secondary, cfg.RateLimitStore(), logger, metrics), nil
}

// UsesRedis reports whether any component is backed by Redis.
func (s *Service) UsesRedis() bool {
	return s.redis != nil
}

// Ping checks the Redis connection when one is configured.
func (s *Service) Ping(ctx context.Context) error {
	if s.redis == nil {
		return nil
	}
	return s.redis.Ping(ctx).Err()
}

// Close releases the limiter, flushes the audit sinks and closes an owned
// Redis client. It is safe to call more than once.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if s.limiter != nil {
			errs = append(errs, s.limiter.Close())
		}
		if s.audit != nil {
			errs = append(errs, s.audit.Close())
		}
		if s.ownsRedis && s.redis != nil {
			errs = append(errs, s.redis.Close())
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
