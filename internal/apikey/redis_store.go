package apikey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix is the key prefix of RedisStore.
const DefaultRedisPrefix = "rosterguard:apikey:"

// maxRevokeAttempts bounds optimistic retries of Revoke.
const maxRevokeAttempts = 16

// touchScript records a use only while the key exists.
var touchScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("SET", KEYS[2], ARGV[1])
return 1
`)

// RedisStore keeps API keys in Redis so several instances share them.
//
// Layout: <prefix>id:<id> holds the JSON record, <prefix>hash:<hash> the id,
// <prefix>tenant:<tenant> the set of the tenant's ids, <prefix>used:<id> the
// last use and <prefix>revoked:<id> marks a revoked key. The record is only
// rewritten by Revoke, under WATCH, so recording uses can never undo a
// revocation.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a store over client.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) idKey(id string) string         { return s.prefix + "id:" + id }
func (s *RedisStore) hashKey(hash string) string     { return s.prefix + "hash:" + hash }
func (s *RedisStore) tenantKey(tenant string) string { return s.prefix + "tenant:" + tenant }
func (s *RedisStore) usedKey(id string) string       { return s.prefix + "used:" + id }
func (s *RedisStore) revokedKey(id string) string    { return s.prefix + "revoked:" + id }

func encodeKey(key *APIKey) ([]byte, error) {
	return json.Marshal(storedKey{APIKey: *key, KeyHash: key.KeyHash})
}

func decodeKey(data []byte) (*APIKey, error) {
	var sk storedKey
	if err := json.Unmarshal(data, &sk); err != nil {
		return nil, fmt.Errorf("failed to decode API key: %w", err)
	}
	key := sk.APIKey
	key.KeyHash = sk.KeyHash
	return &key, nil
}

// Create implements Store.
func (s *RedisStore) Create(ctx context.Context, key *APIKey) error {
	data, err := encodeKey(key)
	if err != nil {
		return err
	}

	ok, err := s.client.SetNX(ctx, s.hashKey(key.KeyHash), key.ID, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to store API key: %w", err)
	}
	if !ok {
		return ErrKeyExists
	}
	ok, err = s.client.SetNX(ctx, s.idKey(key.ID), data, 0).Result()
	if err != nil || !ok {
		_ = s.client.Del(ctx, s.hashKey(key.KeyHash)).Err()
		if err != nil {
			return fmt.Errorf("failed to store API key: %w", err)
		}
		return ErrKeyExists
	}
	if err := s.client.SAdd(ctx, s.tenantKey(key.TenantID), key.ID).Err(); err != nil {
		return fmt.Errorf("failed to index API key: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, id string) (*APIKey, error) {
	pipe := s.client.Pipeline()
	record := pipe.Get(ctx, s.idKey(id))
	used := pipe.Get(ctx, s.usedKey(id))
	_, _ = pipe.Exec(ctx)

	data, err := record.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load API key: %w", err)
	}
	key, err := decodeKey(data)
	if err != nil {
		return nil, err
	}
	if err := applyUsed(key, used.Val(), used.Err()); err != nil {
		return nil, err
	}
	return key, nil
}

func applyUsed(key *APIKey, value string, err error) error {
	switch {
	case errors.Is(err, redis.Nil):
		return nil
	case err != nil:
		return fmt.Errorf("failed to load API key usage: %w", err)
	}
	at, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return fmt.Errorf("failed to decode API key usage: %w", err)
	}
	key.LastUsedAt = &at
	return nil
}

// GetByHash implements Store.
func (s *RedisStore) GetByHash(ctx context.Context, hash string) (*APIKey, error) {
	id, err := s.client.Get(ctx, s.hashKey(hash)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load API key: %w", err)
	}
	return s.Get(ctx, id)
}

// Revoke implements Store. The record is rewritten in a transaction that
// fails when another writer changed it after it was read, and is retried.
func (s *RedisStore) Revoke(ctx context.Context, id string, at time.Time) (*APIKey, bool, error) {
	var (
		revoked *APIKey
		changed bool
	)
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, s.idKey(id)).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrKeyNotFound
		}
		if err != nil {
			return err
		}
		key, err := decodeKey(data)
		if err != nil {
			return err
		}
		if !key.Active {
			revoked, changed = key, false
			return nil
		}

		key.Active = false
		key.RevokedAt = &at
		updated, err := encodeKey(key)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.idKey(id), updated, 0)
			pipe.Set(ctx, s.revokedKey(id), at.UTC().Format(time.RFC3339Nano), 0)
			return nil
		})
		if err == nil {
			revoked, changed = key, true
		}
		return err
	}

	for i := 0; i < maxRevokeAttempts; i++ {
		err := s.client.Watch(ctx, txf, s.idKey(id))
		switch {
		case err == nil:
			return revoked, changed, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, ErrKeyNotFound):
			return nil, false, err
		default:
			return nil, false, fmt.Errorf("failed to revoke API key: %w", err)
		}
	}
	return nil, false, fmt.Errorf("failed to revoke API key %s: too much contention", id)
}

// Revoked implements SharedStore.
func (s *RedisStore) Revoked(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Exists(ctx, s.revokedKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check API key revocation: %w", err)
	}
	return n > 0, nil
}

// Touch implements Store. Only the usage key is written.
func (s *RedisStore) Touch(ctx context.Context, id string, at time.Time) error {
	ok, err := touchScript.Run(ctx, s.client,
		[]string{s.idKey(id), s.usedKey(id)},
		at.UTC().Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		return fmt.Errorf("failed to record API key use: %w", err)
	}
	if ok == 0 {
		return ErrKeyNotFound
	}
	return nil
}

// List implements Store.
func (s *RedisStore) List(ctx context.Context, tenantID string) ([]*APIKey, error) {
	ids, err := s.client.SMembers(ctx, s.tenantKey(tenantID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list API keys: %w", err)
	}
	if len(ids) == 0 {
		return []*APIKey{}, nil
	}

	lookup := make([]string, 0, 2*len(ids))
	for _, id := range ids {
		lookup = append(lookup, s.idKey(id), s.usedKey(id))
	}
	values, err := s.client.MGet(ctx, lookup...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list API keys: %w", err)
	}

	keys := make([]*APIKey, 0, len(ids))
	for i := 0; i < len(values); i += 2 {
		str, ok := values[i].(string)
		if !ok {
			continue
		}
		key, err := decodeKey([]byte(str))
		if err != nil {
			return nil, err
		}
		used, ok := values[i+1].(string)
		if ok {
			if err := applyUsed(key, used, nil); err != nil {
				return nil, err
			}
		}
		keys = append(keys, key)
	}
	sortKeys(keys)
	return keys, nil
}
