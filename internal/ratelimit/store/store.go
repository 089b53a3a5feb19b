// Package store provides fixed-window counter storage for rate limiting.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("rate limit store closed")

// Bucket is the state of one fixed window.
type Bucket struct {
	Count   int64
	ResetAt time.Time
}

// Store holds fixed-window counters keyed by "resource:identifier". A window
// stays active up to and including its ResetAt instant.
type Store interface {
	// Hit increments the counter for key. When no window is active at now a
	// new one starts with count zero and ResetAt = now + window before the
	// increment. The read-increment-write is atomic per key.
	Hit(ctx context.Context, key string, window time.Duration, now time.Time) (Bucket, error)

	// Peek returns the active bucket for key without changing it.
	// The boolean is false when no window is active.
	Peek(ctx context.Context, key string, now time.Time) (Bucket, bool, error)

	// Delete removes the bucket for key.
	Delete(ctx context.Context, key string) error

	// Close releases resources held by the store.
	Close() error
}
