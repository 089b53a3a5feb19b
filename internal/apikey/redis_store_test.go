package apikey

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/rosterguard/internal/ratelimit"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, ""), mr
}

func TestRedisStore(t *testing.T) {
	t.Parallel()

	s, mr := newRedisStore(t)
	ctx := context.Background()
	created := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

	key := &APIKey{
		ID:          "k1",
		Name:        "ci",
		UserID:      "u1",
		TenantID:    "t1",
		Prefix:      "rg_abcdef",
		KeyHash:     HashKey("secret-1"),
		Permissions: []string{"reports:read"},
		RateLimit:   &ratelimit.Limit{Requests: 5, Window: time.Minute},
		Active:      true,
		CreatedAt:   created,
	}
	require.NoError(t, s.Create(ctx, key))
	assert.ErrorIs(t, s.Create(ctx, key), ErrKeyExists)
	assert.True(t, mr.Exists(DefaultRedisPrefix+"hash:"+key.KeyHash))

	got, err := s.GetByHash(ctx, key.KeyHash)
	require.NoError(t, err)
	assert.Equal(t, key.ID, got.ID)
	assert.Equal(t, key.KeyHash, got.KeyHash)
	assert.Equal(t, *key.RateLimit, *got.RateLimit)
	assert.True(t, got.CreatedAt.Equal(created))

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)
	_, err = s.GetByHash(ctx, "missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	revoked, err := s.Revoked(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, revoked)

	used := created.Add(time.Hour)
	require.NoError(t, s.Touch(ctx, "k1", used))
	assert.ErrorIs(t, s.Touch(ctx, "ghost", used), ErrKeyNotFound)
	assert.False(t, mr.Exists(DefaultRedisPrefix+"used:ghost"))

	revokedAt := used.Add(time.Minute)
	got, changed, err := s.Revoke(ctx, "k1", revokedAt)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.False(t, got.Active)

	got, changed, err = s.Revoke(ctx, "k1", revokedAt.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, changed)
	require.NotNil(t, got.RevokedAt)
	assert.True(t, got.RevokedAt.Equal(revokedAt), "a second revoke leaves the record alone")

	_, _, err = s.Revoke(ctx, "ghost", revokedAt)
	assert.ErrorIs(t, err, ErrKeyNotFound)

	got, err = s.Get(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, got.Active)
	require.NotNil(t, got.LastUsedAt)
	assert.True(t, got.LastUsedAt.Equal(used))
	revoked, err = s.Revoked(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, revoked)

	second := key.Clone()
	second.ID = "k0"
	second.KeyHash = HashKey("secret-2")
	second.CreatedAt = created.Add(-time.Hour)
	require.NoError(t, s.Create(ctx, second))

	keys, err := s.List(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "k0", keys[0].ID)
	assert.Nil(t, keys[0].LastUsedAt)
	assert.Equal(t, "k1", keys[1].ID)
	require.NotNil(t, keys[1].LastUsedAt)
	assert.True(t, keys[1].LastUsedAt.Equal(used))

	empty, err := s.List(ctx, "t2")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRedisStore_Unavailable(t *testing.T) {
	t.Parallel()

	s, mr := newRedisStore(t)
	mr.Close()

	_, err := s.Get(context.Background(), "k1")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrKeyNotFound)
}

// interleaveHook runs fn once, just before the first command named in names
// is sent.
type interleaveHook struct {
	names map[string]bool
	armed atomic.Bool
	fn    func()
}

func (h *interleaveHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *interleaveHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if h.names[cmd.Name()] && h.armed.CompareAndSwap(true, false) {
			h.fn()
		}
		return next(ctx, cmd)
	}
}

func (h *interleaveHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestRedisStore_RevokeDuringTouch(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	s := NewRedisStore(client, "")
	ctx := context.Background()

	created := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.Create(ctx, &APIKey{
		ID: "k1", TenantID: "t1", KeyHash: HashKey("secret-1"),
		Permissions: []string{"reports:read"}, Active: true, CreatedAt: created,
	}))

	revokedAt := created.Add(time.Minute)
	var revokeErr error
	hook := &interleaveHook{
		names: map[string]bool{"evalsha": true, "eval": true},
		fn: func() {
			_, _, revokeErr = s.Revoke(ctx, "k1", revokedAt)
		},
	}
	hook.armed.Store(true)
	client.AddHook(hook)

	used := created.Add(2 * time.Minute)
	require.NoError(t, s.Touch(ctx, "k1", used))
	require.False(t, hook.armed.Load(), "revoke ran while the use was being recorded")
	require.NoError(t, revokeErr)

	got, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, got.Active, "recording a use must not reactivate a revoked key")
	require.NotNil(t, got.RevokedAt)
	assert.True(t, got.RevokedAt.Equal(revokedAt))
	require.NotNil(t, got.LastUsedAt)
	assert.True(t, got.LastUsedAt.Equal(used))
}

func TestRedisStore_ConcurrentRevokeAndTouch(t *testing.T) {
	t.Parallel()

	s, _ := newRedisStore(t)
	ctx := context.Background()
	created := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.Create(ctx, &APIKey{
		ID: "k1", TenantID: "t1", KeyHash: HashKey("secret-1"),
		Permissions: []string{"reports:read"}, Active: true, CreatedAt: created,
	}))

	var (
		wg      sync.WaitGroup
		changes atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				assert.NoError(t, s.Touch(ctx, "k1", created.Add(time.Duration(i*10+j)*time.Second)))
			}
		}(i)
		go func(i int) {
			defer wg.Done()
			_, changed, err := s.Revoke(ctx, "k1", created.Add(time.Duration(i)*time.Hour))
			assert.NoError(t, err)
			if changed {
				changes.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), changes.Load(), "exactly one revoke takes effect")
	got, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.NotNil(t, got.RevokedAt)
}
