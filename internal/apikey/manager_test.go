package apikey

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/rosterguard/internal/audit"
	"github.com/vyrodovalexey/rosterguard/internal/authz"
	"github.com/vyrodovalexey/rosterguard/internal/permission"
	"github.com/vyrodovalexey/rosterguard/internal/ratelimit"
	"github.com/vyrodovalexey/rosterguard/internal/ratelimit/store"
	"github.com/vyrodovalexey/rosterguard/internal/role"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	manager *Manager
	store   *MemoryStore
	log     *audit.Log
	clock   *testClock
	metrics *Metrics
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	clock := &testClock{now: time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)}
	keys := NewMemoryStore()
	m := NewMetrics(prometheus.NewRegistry())
	opts = append([]Option{WithMetrics(m)}, opts...)
	manager, log := newManagerOver(t, keys, clock, opts...)

	return &fixture{
		manager: manager,
		store:   keys,
		log:     log,
		clock:   clock,
		metrics: m,
	}
}

// newManagerOver builds a manager over keys with its own engine, audit log
// and limiter.
func newManagerOver(t *testing.T, keys Store, clock *testClock, opts ...Option) (*Manager, *audit.Log) {
	t.Helper()

	reg := permission.NewDefaultRegistry()
	roles := role.NewMemoryStore(role.SystemRoles(reg))

	log := audit.NewLog(nil, audit.WithMetrics(audit.NewMetrics(prometheus.NewRegistry())))
	t.Cleanup(func() { _ = log.Close() })

	engine := authz.NewEngine(reg, role.NewResolver(roles), log,
		authz.WithClock(clock.Now),
		authz.WithMetrics(authz.NewMetrics(prometheus.NewRegistry())),
	)
	limiter, err := ratelimit.New(nil,
		ratelimit.WithClock(clock.Now),
		ratelimit.WithStore(store.NewMemoryStore(store.WithCleanupInterval(0))),
		ratelimit.WithMetrics(ratelimit.NewMetrics(prometheus.NewRegistry())),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = limiter.Close() })

	opts = append([]Option{WithClock(clock.Now), WithMetrics(NewMetrics(prometheus.NewRegistry()))}, opts...)
	return NewManager(keys, reg, engine, limiter, opts...), log
}

func validRequest() GenerateRequest {
	return GenerateRequest{
		Name:        "payroll export",
		UserID:      "u1",
		TenantID:    "t1",
		Permissions: []string{"timesheets:read", "exports:*"},
	}
}

func TestGenerate(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	key, secret, err := f.manager.Generate(context.Background(), validRequest())
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(secret, KeyPrefix))
	assert.Len(t, secret, len(KeyPrefix)+SecretLength)
	assert.True(t, wellFormed(secret))
	assert.Equal(t, secret[:displayLength], key.Prefix)
	assert.Equal(t, HashKey(secret), key.KeyHash)
	assert.NotContains(t, key.KeyHash, secret)
	assert.True(t, key.Active)
	assert.NotEmpty(t, key.ID)
	assert.Equal(t, 1, f.store.Count())
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.issuedTotal))

	_, other, err := f.manager.Generate(context.Background(), validRequest())
	require.NoError(t, err)
	assert.NotEqual(t, secret, other)
}

func TestGenerate_Rejects(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	past := f.clock.Now().Add(-time.Hour)

	tests := []struct {
		name   string
		mutate func(*GenerateRequest)
		want   error
	}{
		{name: "missing name", mutate: func(r *GenerateRequest) { r.Name = " " }},
		{name: "missing user", mutate: func(r *GenerateRequest) { r.UserID = "" }},
		{name: "missing tenant", mutate: func(r *GenerateRequest) { r.TenantID = "" }},
		{name: "no permissions", mutate: func(r *GenerateRequest) { r.Permissions = nil }},
		{name: "unknown permission", mutate: func(r *GenerateRequest) { r.Permissions = []string{"rockets:launch"} },
			want: permission.ErrInvalidPermission},
		{name: "invalid limit", mutate: func(r *GenerateRequest) { r.RateLimit = &ratelimit.Limit{Requests: 1} },
			want: ratelimit.ErrInvalidLimit},
		{name: "expired", mutate: func(r *GenerateRequest) { r.ExpiresAt = &past }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := validRequest()
			tt.mutate(&req)
			_, _, err := f.manager.Generate(context.Background(), req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
	assert.Equal(t, 0, f.store.Count())
}

func TestValidate(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	key, secret, err := f.manager.Generate(ctx, validRequest())
	require.NoError(t, err)

	got, err := f.manager.Validate(ctx, secret)
	require.NoError(t, err)
	assert.Equal(t, key.ID, got.ID)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.cacheMisses))

	_, err = f.manager.Validate(ctx, secret)
	require.NoError(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.cacheHits))

	for _, bad := range []string{"", "rg_short", "xx_" + secret[3:], secret[:len(secret)-1] + "!"} {
		_, err := f.manager.Validate(ctx, bad)
		assert.ErrorIs(t, err, ErrKeyNotFound, bad)
	}

	unknown := KeyPrefix + strings.Repeat("a", SecretLength)
	_, err = f.manager.Validate(ctx, unknown)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestValidate_Expired(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	req := validRequest()
	expires := f.clock.Now().Add(time.Hour)
	req.ExpiresAt = &expires

	_, secret, err := f.manager.Generate(ctx, req)
	require.NoError(t, err)
	_, err = f.manager.Validate(ctx, secret)
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	_, err = f.manager.Validate(ctx, secret)
	assert.ErrorIs(t, err, ErrKeyExpired, "cached keys still expire")

	_, err = f.manager.Validate(ctx, secret)
	assert.ErrorIs(t, err, ErrKeyExpired)
}

func TestRevoke(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	key, secret, err := f.manager.Generate(ctx, validRequest())
	require.NoError(t, err)

	_, err = f.manager.Validate(ctx, secret)
	require.NoError(t, err)

	require.NoError(t, f.manager.Revoke(ctx, key.ID))
	_, err = f.manager.Validate(ctx, secret)
	assert.ErrorIs(t, err, ErrKeyRevoked)

	stored, err := f.manager.Get(ctx, key.ID)
	require.NoError(t, err)
	assert.False(t, stored.Active)
	require.NotNil(t, stored.RevokedAt)

	require.NoError(t, f.manager.Revoke(ctx, key.ID))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.revokedTotal))

	assert.ErrorIs(t, f.manager.Revoke(ctx, "missing"), ErrKeyNotFound)
}

func TestRevoke_SharedStore(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := &testClock{now: time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)}
	first, _ := newManagerOver(t, NewRedisStore(client, ""), clock)
	second, _ := newManagerOver(t, NewRedisStore(client, ""), clock)
	ctx := context.Background()

	key, secret, err := first.Generate(ctx, validRequest())
	require.NoError(t, err)

	// Both instances cache the key.
	_, err = first.Validate(ctx, secret)
	require.NoError(t, err)
	_, err = second.Validate(ctx, secret)
	require.NoError(t, err)
	_, err = second.Validate(ctx, secret)
	require.NoError(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(second.metrics.cacheHits))

	require.NoError(t, first.Revoke(ctx, key.ID))

	_, err = second.Validate(ctx, secret)
	assert.ErrorIs(t, err, ErrKeyRevoked, "a revocation made by another instance applies immediately")
	_, err = second.Validate(ctx, secret)
	assert.ErrorIs(t, err, ErrKeyRevoked)

	res, err := second.Authorize(ctx, AuthorizeRequest{Secret: secret, Permission: "timesheets:read"})
	assert.ErrorIs(t, err, ErrKeyRevoked)
	assert.Nil(t, res)
}

func TestMemoryStore_Revoke(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()
	created := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.Create(ctx, &APIKey{ID: "k1", TenantID: "t1", KeyHash: HashKey("secret-1"), Active: true, CreatedAt: created}))

	used := created.Add(time.Minute)
	require.NoError(t, s.Touch(ctx, "k1", used))
	got, changed, err := s.Revoke(ctx, "k1", created.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.False(t, got.Active)

	require.NoError(t, s.Touch(ctx, "k1", used.Add(time.Hour)))
	got, changed, err = s.Revoke(ctx, "k1", created.Add(2*time.Hour))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.False(t, got.Active, "recording a use keeps the key revoked")
	assert.True(t, got.RevokedAt.Equal(created.Add(time.Hour)))

	_, _, err = s.Revoke(ctx, "missing", created)
	assert.ErrorIs(t, err, ErrKeyNotFound)
	assert.ErrorIs(t, s.Touch(ctx, "missing", created), ErrKeyNotFound)
}

func TestList(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	first, _, err := f.manager.Generate(ctx, validRequest())
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	second, _, err := f.manager.Generate(ctx, validRequest())
	require.NoError(t, err)
	other := validRequest()
	other.TenantID = "t2"
	_, _, err = f.manager.Generate(ctx, other)
	require.NoError(t, err)

	keys, err := f.manager.List(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, first.ID, keys[0].ID)
	assert.Equal(t, second.ID, keys[1].ID)
}

func TestAuthorize(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	key, secret, err := f.manager.Generate(ctx, validRequest())
	require.NoError(t, err)

	res, err := f.manager.Authorize(ctx, AuthorizeRequest{Secret: secret, Permission: "exports:create"})
	require.NoError(t, err)
	assert.True(t, res.Allowed())
	assert.Equal(t, 999, res.RateLimit.Remaining)
	assert.Equal(t, "apikey:"+key.ID, res.Decision.Role)

	res, err = f.manager.Authorize(ctx, AuthorizeRequest{Secret: secret, Permission: "employees:delete"})
	require.NoError(t, err)
	assert.False(t, res.Allowed())
	assert.Equal(t, audit.ResultBlocked, res.Decision.Result)

	entries := f.log.Query(audit.Filter{UserID: "u1", TenantID: "t1"})
	assert.Len(t, entries, 2)

	stored, err := f.manager.Get(ctx, key.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.LastUsedAt)

	_, err = f.manager.Authorize(ctx, AuthorizeRequest{Secret: KeyPrefix + strings.Repeat("b", SecretLength)})
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestAuthorize_KeyRateLimit(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	req := validRequest()
	req.RateLimit = &ratelimit.Limit{Requests: 2, Window: time.Minute}
	_, secret, err := f.manager.Generate(ctx, req)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		res, err := f.manager.Authorize(ctx, AuthorizeRequest{Secret: secret, Permission: "timesheets:read"})
		require.NoError(t, err)
		assert.True(t, res.Allowed())
	}

	res, err := f.manager.Authorize(ctx, AuthorizeRequest{Secret: secret, Permission: "timesheets:read"})
	require.NoError(t, err)
	assert.False(t, res.Allowed())
	assert.Nil(t, res.Decision)
	assert.Equal(t, 2, res.RateLimit.Limit)
	assert.Equal(t, 2, f.log.Len(), "rate limited calls never reach the engine")

	f.clock.Advance(time.Minute + time.Second)
	res, err = f.manager.Authorize(ctx, AuthorizeRequest{Secret: secret, Permission: "timesheets:read"})
	require.NoError(t, err)
	assert.True(t, res.Allowed())
}

func TestCacheDisabled(t *testing.T) {
	t.Parallel()

	f := newFixture(t, WithCache(0, 0))
	ctx := context.Background()
	_, secret, err := f.manager.Generate(ctx, validRequest())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := f.manager.Validate(ctx, secret)
		require.NoError(t, err)
	}
	assert.Equal(t, float64(0), testutil.ToFloat64(f.metrics.cacheHits))
	assert.Equal(t, float64(0), testutil.ToFloat64(f.metrics.cacheMisses))
}
