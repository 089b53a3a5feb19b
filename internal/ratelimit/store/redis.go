package store

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces rate limit keys in Redis.
const DefaultKeyPrefix = "rosterguard:ratelimit:"

// hitScript increments the window counter and starts its expiry on the
// first hit. A key that somehow lost its TTL is given a fresh one so it
// cannot count forever.
// KEYS[1] = key
// ARGV[1] = window in milliseconds
var hitScript = redis.NewScript(`
local current = redis.call('INCR', KEYS[1])
if current == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RedisStore keeps buckets in Redis so that several instances share one
// quota. Window expiry is driven by Redis key TTLs.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	closed atomic.Bool
	owned  bool
}

// RedisConfig configures a Redis store created from an address.
type RedisConfig struct {
	Address      string        `yaml:"address" json:"address"`
	Password     string        `yaml:"password,omitempty" json:"password,omitempty"`
	DB           int           `yaml:"db,omitempty" json:"db,omitempty"`
	Prefix       string        `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	PoolSize     int           `yaml:"poolSize,omitempty" json:"poolSize,omitempty"`
	DialTimeout  time.Duration `yaml:"dialTimeout,omitempty" json:"dialTimeout,omitempty"`
	ReadTimeout  time.Duration `yaml:"readTimeout,omitempty" json:"readTimeout,omitempty"`
	WriteTimeout time.Duration `yaml:"writeTimeout,omitempty" json:"writeTimeout,omitempty"`
}

// NewRedisClient creates a client from cfg with sane timeouts.
func NewRedisClient(cfg *RedisConfig) *redis.Client {
	dial, read, write := cfg.DialTimeout, cfg.ReadTimeout, cfg.WriteTimeout
	if dial <= 0 {
		dial = 5 * time.Second
	}
	if read <= 0 {
		read = time.Second
	}
	if write <= 0 {
		write = time.Second
	}
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  dial,
		ReadTimeout:  read,
		WriteTimeout: write,
	})
}

// NewRedisStore wraps an existing client. The caller keeps ownership of
// the client.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

// DialRedisStore creates a client from cfg, pings it and returns a store
// that closes the client on Close.
func DialRedisStore(ctx context.Context, cfg *RedisConfig) (*RedisStore, error) {
	client := NewRedisClient(cfg)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Address, err)
	}
	s := NewRedisStore(client, cfg.Prefix)
	s.owned = true
	return s, nil
}

func (s *RedisStore) key(key string) string {
	return s.prefix + key
}

// Hit implements Store.
func (s *RedisStore) Hit(ctx context.Context, key string, window time.Duration, now time.Time) (Bucket, error) {
	if s.closed.Load() {
		return Bucket{}, ErrClosed
	}

	res, err := hitScript.Run(ctx, s.client, []string{s.key(key)}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Bucket{}, fmt.Errorf("redis hit %q: %w", key, err)
	}
	if len(res) != 2 {
		return Bucket{}, fmt.Errorf("redis hit %q: unexpected reply length %d", key, len(res))
	}

	return Bucket{
		Count:   res[0],
		ResetAt: now.Add(time.Duration(res[1]) * time.Millisecond),
	}, nil
}

// Peek implements Store.
func (s *RedisStore) Peek(ctx context.Context, key string, now time.Time) (Bucket, bool, error) {
	if s.closed.Load() {
		return Bucket{}, false, ErrClosed
	}

	k := s.key(key)
	pipe := s.client.Pipeline()
	getCmd := pipe.Get(ctx, k)
	ttlCmd := pipe.PTTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Bucket{}, false, fmt.Errorf("redis peek %q: %w", key, err)
	}

	count, err := getCmd.Int64()
	if errors.Is(err, redis.Nil) {
		return Bucket{}, false, nil
	}
	if err != nil {
		return Bucket{}, false, fmt.Errorf("redis peek %q: %w", key, err)
	}

	ttl := ttlCmd.Val()
	if ttl <= 0 {
		return Bucket{}, false, nil
	}
	return Bucket{Count: count, ResetAt: now.Add(ttl)}, true, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis delete %q: %w", key, err)
	}
	return nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close implements Store. The client is closed only when the store
// created it.
func (s *RedisStore) Close() error {
	if s.closed.Swap(true) || !s.owned {
		return nil
	}
	return s.client.Close()
}
