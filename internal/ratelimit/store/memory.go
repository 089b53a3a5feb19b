package store

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Memory store defaults.
const (
	DefaultShards          = 64
	DefaultCleanupInterval = time.Minute
)

type bucket struct {
	count   int64
	resetAt time.Time
}

type shard struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

// MemoryStore keeps buckets in process memory. Keys are spread over
// independently locked shards; a janitor goroutine removes buckets whose
// window has elapsed.
type MemoryStore struct {
	shards []*shard
	clock  func() time.Time
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// MemoryOption is a functional option for MemoryStore.
type MemoryOption func(*memoryOptions)

type memoryOptions struct {
	shards          int
	cleanupInterval time.Duration
	clock           func() time.Time
}

// WithShards sets the number of lock shards.
func WithShards(n int) MemoryOption {
	return func(o *memoryOptions) {
		o.shards = n
	}
}

// WithCleanupInterval sets how often expired buckets are removed.
// A non-positive interval disables the janitor.
func WithCleanupInterval(d time.Duration) MemoryOption {
	return func(o *memoryOptions) {
		o.cleanupInterval = d
	}
}

// WithJanitorClock sets the clock the janitor compares expiry against.
func WithJanitorClock(clock func() time.Time) MemoryOption {
	return func(o *memoryOptions) {
		o.clock = clock
	}
}

// NewMemoryStore creates an in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	o := memoryOptions{
		shards:          DefaultShards,
		cleanupInterval: DefaultCleanupInterval,
		clock:           time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.shards <= 0 {
		o.shards = DefaultShards
	}

	s := &MemoryStore{
		shards: make([]*shard, o.shards),
		clock:  o.clock,
		done:   make(chan struct{}),
	}
	for i := range s.shards {
		s.shards[i] = &shard{buckets: make(map[string]*bucket)}
	}

	if o.cleanupInterval > 0 {
		s.wg.Add(1)
		go s.janitor(o.cleanupInterval)
	}
	return s
}

func (s *MemoryStore) shardFor(key string) *shard {
	return s.shards[xxhash.Sum64String(key)%uint64(len(s.shards))]
}

// Hit implements Store.
func (s *MemoryStore) Hit(ctx context.Context, key string, window time.Duration, now time.Time) (Bucket, error) {
	if err := ctx.Err(); err != nil {
		return Bucket{}, err
	}

	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	b, ok := sh.buckets[key]
	if !ok || now.After(b.resetAt) {
		b = &bucket{resetAt: now.Add(window)}
		sh.buckets[key] = b
	}
	b.count++

	return Bucket{Count: b.count, ResetAt: b.resetAt}, nil
}

// Peek implements Store.
func (s *MemoryStore) Peek(ctx context.Context, key string, now time.Time) (Bucket, bool, error) {
	if err := ctx.Err(); err != nil {
		return Bucket{}, false, err
	}

	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	b, ok := sh.buckets[key]
	if !ok || now.After(b.resetAt) {
		return Bucket{}, false, nil
	}
	return Bucket{Count: b.count, ResetAt: b.resetAt}, true, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	sh := s.shardFor(key)
	sh.mu.Lock()
	delete(sh.buckets, key)
	sh.mu.Unlock()
	return nil
}

// Len returns the number of buckets held, expired or not.
func (s *MemoryStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.buckets)
		sh.mu.Unlock()
	}
	return n
}

// Sweep removes buckets whose reset time is before now and returns how
// many were removed.
func (s *MemoryStore) Sweep(now time.Time) int {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, b := range sh.buckets {
			if now.After(b.resetAt) {
				delete(sh.buckets, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

func (s *MemoryStore) janitor(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep(s.clock())
		case <-s.done:
			return
		}
	}
}

// Close stops the janitor.
func (s *MemoryStore) Close() error {
	s.once.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
	return nil
}
