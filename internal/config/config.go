package config

import (
	"time"

	"github.com/vyrodovalexey/rosterguard/internal/audit"
	"github.com/vyrodovalexey/rosterguard/internal/observability"
	"github.com/vyrodovalexey/rosterguard/internal/ratelimit"
	"github.com/vyrodovalexey/rosterguard/internal/ratelimit/store"
	"github.com/vyrodovalexey/rosterguard/internal/role"
)

// Backend names for stores.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Server defaults.
const (
	DefaultAddress         = ":8080"
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 15 * time.Second
)

// Config is the root configuration.
type Config struct {
	Server    ServerConfig               `yaml:"server" json:"server"`
	Logging   observability.LogConfig    `yaml:"logging" json:"logging"`
	Tracing   observability.TracerConfig `yaml:"tracing" json:"tracing"`
	Redis     *store.RedisConfig         `yaml:"redis,omitempty" json:"redis,omitempty"`
	RateLimit RateLimitConfig            `yaml:"rateLimit" json:"rateLimit"`
	Audit     audit.Config               `yaml:"audit" json:"audit"`
	APIKeys   APIKeyConfig               `yaml:"apiKeys" json:"apiKeys"`
	Tenants   []TenantConfig             `yaml:"tenants,omitempty" json:"tenants,omitempty"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Address         string        `yaml:"address" json:"address"`
	ReadTimeout     time.Duration `yaml:"readTimeout,omitempty" json:"readTimeout,omitempty"`
	WriteTimeout    time.Duration `yaml:"writeTimeout,omitempty" json:"writeTimeout,omitempty"`
	IdleTimeout     time.Duration `yaml:"idleTimeout,omitempty" json:"idleTimeout,omitempty"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout,omitempty" json:"shutdownTimeout,omitempty"`
}

// RateLimitConfig configures quotas and the counter store.
type RateLimitConfig struct {
	// Store is memory or redis.
	Store string `yaml:"store,omitempty" json:"store,omitempty"`

	// Limits override the built-in per-resource limits.
	Limits map[string]ratelimit.Limit `yaml:"limits,omitempty" json:"limits,omitempty"`

	BreakerFailures uint32        `yaml:"breakerFailures,omitempty" json:"breakerFailures,omitempty"`
	BreakerTimeout  time.Duration `yaml:"breakerTimeout,omitempty" json:"breakerTimeout,omitempty"`
}

// APIKeyConfig configures API key storage and validation caching.
type APIKeyConfig struct {
	// Store is memory or redis.
	Store string `yaml:"store,omitempty" json:"store,omitempty"`

	// CacheSize bounds the validation cache. Zero uses the default and a
	// negative value disables caching.
	CacheSize int           `yaml:"cacheSize,omitempty" json:"cacheSize,omitempty"`
	CacheTTL  time.Duration `yaml:"cacheTTL,omitempty" json:"cacheTTL,omitempty"`
}

// TenantConfig seeds custom roles and assignments of one tenant.
type TenantConfig struct {
	ID          string               `yaml:"id" json:"id"`
	Roles       []role.Spec          `yaml:"roles,omitempty" json:"roles,omitempty"`
	Assignments []role.AssignRequest `yaml:"assignments,omitempty" json:"assignments,omitempty"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         DefaultAddress,
			ReadTimeout:     DefaultReadTimeout,
			WriteTimeout:    DefaultWriteTimeout,
			IdleTimeout:     DefaultIdleTimeout,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		Logging: observability.DefaultLogConfig(),
		Tracing: observability.TracerConfig{
			ServiceName:  "rosterguard",
			SamplingRate: 1.0,
		},
		RateLimit: RateLimitConfig{Store: StoreMemory},
		Audit:     *audit.DefaultConfig(),
		APIKeys:   APIKeyConfig{Store: StoreMemory},
	}
}

// RateLimiter returns the limiter configuration.
func (c *Config) RateLimiter() *ratelimit.Config {
	return &ratelimit.Config{Limits: c.RateLimit.Limits}
}

// RateLimitStore returns the counter store configuration.
func (c *Config) RateLimitStore() *ratelimit.StoreConfig {
	sc := &ratelimit.StoreConfig{
		BreakerFailures: c.RateLimit.BreakerFailures,
		BreakerTimeout:  c.RateLimit.BreakerTimeout,
	}
	if c.RateLimit.Store == StoreRedis {
		sc.Redis = c.Redis
	}
	return sc
}

// NeedsRedis reports whether any component is configured to use Redis.
func (c *Config) NeedsRedis() bool {
	return c.RateLimit.Store == StoreRedis || c.APIKeys.Store == StoreRedis || c.Audit.Stream != nil
}
