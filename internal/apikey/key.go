package apikey

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/vyrodovalexey/rosterguard/internal/ratelimit"
	"github.com/vyrodovalexey/rosterguard/internal/role"
)

// Secret format.
const (
	KeyPrefix    = "rg_"
	SecretLength = 32

	// displayLength is the number of leading secret characters kept for
	// display.
	displayLength = len(KeyPrefix) + 6
)

// Common errors for API key operations.
var (
	// ErrKeyNotFound indicates an unknown or malformed key.
	ErrKeyNotFound = errors.New("API key not found")

	// ErrKeyRevoked indicates a revoked key.
	ErrKeyRevoked = errors.New("API key revoked")

	// ErrKeyExpired indicates an expired key.
	ErrKeyExpired = errors.New("API key expired")

	// ErrKeyExists indicates a duplicate id or hash.
	ErrKeyExists = errors.New("API key already exists")

	// ErrInvalidRequest indicates a generate request that fails validation.
	ErrInvalidRequest = errors.New("invalid API key request")
)

// APIKey is the stored metadata of a key. The secret itself is never kept.
type APIKey struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	UserID      string           `json:"userId"`
	TenantID    string           `json:"tenantId"`
	Prefix      string           `json:"prefix"`
	KeyHash     string           `json:"-"`
	Permissions []string         `json:"permissions"`
	RateLimit   *ratelimit.Limit `json:"rateLimit,omitempty"`
	ExpiresAt   *time.Time       `json:"expiresAt,omitempty"`
	Active      bool             `json:"active"`
	CreatedAt   time.Time        `json:"createdAt"`
	LastUsedAt  *time.Time       `json:"lastUsedAt,omitempty"`
	RevokedAt   *time.Time       `json:"revokedAt,omitempty"`
}

// storedKey is the persisted form; unlike the API form it keeps the hash.
type storedKey struct {
	APIKey
	KeyHash string `json:"keyHash"`
}

// Expired reports whether the key has expired at now.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && !now.Before(*k.ExpiresAt)
}

// Role returns a compiled role holding the key's permissions.
func (k *APIKey) Role() (*role.Role, error) {
	r := &role.Role{
		ID:          "apikey:" + k.ID,
		Name:        k.Name,
		Permissions: append([]string(nil), k.Permissions...),
		TenantID:    k.TenantID,
	}
	if err := r.Compile(); err != nil {
		return nil, err
	}
	return r, nil
}

// Clone returns a deep copy of the key.
func (k *APIKey) Clone() *APIKey {
	if k == nil {
		return nil
	}
	c := *k
	c.Permissions = append([]string(nil), k.Permissions...)
	if k.RateLimit != nil {
		l := *k.RateLimit
		c.RateLimit = &l
	}
	c.ExpiresAt = cloneTime(k.ExpiresAt)
	c.LastUsedAt = cloneTime(k.LastUsedAt)
	c.RevokedAt = cloneTime(k.RevokedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// HashKey returns the hex SHA-256 of a secret.
func HashKey(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
