package apikey

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store persists API key metadata. Implementations return copies.
type Store interface {
	// Create stores a new key. Duplicate ids or hashes return ErrKeyExists.
	Create(ctx context.Context, key *APIKey) error

	// Get returns a key by id.
	Get(ctx context.Context, id string) (*APIKey, error)

	// GetByHash returns a key by secret hash.
	GetByHash(ctx context.Context, hash string) (*APIKey, error)

	// Revoke marks a key inactive at the given time. The boolean is false
	// when the key was already revoked, in which case it is left unchanged.
	Revoke(ctx context.Context, id string, at time.Time) (*APIKey, bool, error)

	// Touch records a use of the key. It never changes any other field.
	Touch(ctx context.Context, id string, at time.Time) error

	// List returns the keys of a tenant ordered by creation time.
	List(ctx context.Context, tenantID string) ([]*APIKey, error)
}

// SharedStore is a Store shared by several processes. Keys cached by one
// process are confirmed with Revoked so revocations made elsewhere apply
// immediately.
type SharedStore interface {
	Store

	// Revoked reports whether the key has been revoked.
	Revoked(ctx context.Context, id string) (bool, error)
}

// MemoryStore is an in-memory implementation of the Store interface.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]*APIKey
	byHash map[string]string
}

// NewMemoryStore creates a new in-memory API key store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]*APIKey),
		byHash: make(map[string]string),
	}
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, key *APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[key.ID]; exists {
		return ErrKeyExists
	}
	if _, exists := s.byHash[key.KeyHash]; exists {
		return ErrKeyExists
	}
	s.byID[key.ID] = key.Clone()
	s.byHash[key.KeyHash] = key.ID
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.byID[id]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return key.Clone(), nil
}

// GetByHash implements Store.
func (s *MemoryStore) GetByHash(_ context.Context, hash string) (*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byHash[hash]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return s.byID[id].Clone(), nil
}

// Revoke implements Store.
func (s *MemoryStore) Revoke(_ context.Context, id string, at time.Time) (*APIKey, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.byID[id]
	if !ok {
		return nil, false, ErrKeyNotFound
	}
	if !key.Active {
		return key.Clone(), false, nil
	}
	key.Active = false
	key.RevokedAt = &at
	return key.Clone(), true, nil
}

// Touch implements Store.
func (s *MemoryStore) Touch(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.byID[id]
	if !ok {
		return ErrKeyNotFound
	}
	key.LastUsedAt = &at
	return nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, tenantID string) ([]*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]*APIKey, 0)
	for _, key := range s.byID {
		if key.TenantID == tenantID {
			keys = append(keys, key.Clone())
		}
	}
	sortKeys(keys)
	return keys, nil
}

// Count returns the number of API keys in the store.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func sortKeys(keys []*APIKey) {
	sort.Slice(keys, func(i, j int) bool {
		if !keys[i].CreatedAt.Equal(keys[j].CreatedAt) {
			return keys[i].CreatedAt.Before(keys[j].CreatedAt)
		}
		return keys[i].ID < keys[j].ID
	})
}
