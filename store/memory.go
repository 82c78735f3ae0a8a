// Package store provides storage backends for github.com/jassus213/throttle.
//
// Currently supported backends:
//   - MemoryStore: in-memory store for single-instance applications
//   - RedisStore: Redis-based store for distributed applications, falling back
//     to a private MemoryStore whenever Redis cannot answer
//
// Stores implement the throttle.Store interface, providing atomic fixed window
// counting per key.
//
// Example usage:
//
//	ctx := context.Background()
//	st := store.NewMemory(ctx, time.Minute) // sweep interval = 1 minute
//	defer st.Close()
//	limiter, err := throttle.New(st, 100, time.Minute)
package store

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/jassus213/throttle"
)

const defaultShards = 32

// record stores the counter and end of the window for one key.
type record struct {
	hits    int64
	resetAt time.Time
}

type shard struct {
	mu      sync.Mutex
	records map[string]record
}

// MemoryStore is an in-memory implementation of throttle.Store.
//
// Keys are spread over independently locked shards, so unrelated keys never
// contend on one lock. A background goroutine removes expired windows.
//
// Note: MemoryStore is suitable for single-instance applications. Every
// process enforces its own limits; use RedisStore to share them.
type MemoryStore struct {
	shards []*shard
	now    func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

var _ throttle.Store = (*MemoryStore)(nil)

type memoryConfig struct {
	shards int
	now    func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*memoryConfig)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(c *memoryConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// WithShards sets the number of lock shards. Values below 1 are ignored.
func WithShards(n int) MemoryOption {
	return func(c *memoryConfig) {
		if n > 0 {
			c.shards = n
		}
	}
}

// NewMemory creates a new MemoryStore instance.
//
// ctx: a parent context bounding the lifetime of the background sweep goroutine.
// cleanupInterval: interval at which expired windows are removed. Pass 0 to disable the sweep.
//
// Example:
//
//	ctx := context.Background()
//	st := store.NewMemory(ctx, time.Minute)
func NewMemory(ctx context.Context, cleanupInterval time.Duration, opts ...MemoryOption) *MemoryStore {
	cfg := memoryConfig{shards: defaultShards, now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &MemoryStore{
		shards: make([]*shard, cfg.shards),
		now:    cfg.now,
		done:   make(chan struct{}),
	}
	for i := range s.shards {
		s.shards[i] = &shard{records: make(map[string]record)}
	}

	ctx, s.cancel = context.WithCancel(ctx)
	if cleanupInterval > 0 {
		go s.runCleanup(ctx, cleanupInterval)
	} else {
		close(s.done)
	}

	return s
}

func (s *MemoryStore) shardFor(key string) *shard {
	return s.shards[xxhash.Sum64String(key)%uint64(len(s.shards))]
}

// Increment atomically records one hit for key.
//
// A missing or expired window is replaced by a fresh one ending window from now.
//
// Example:
//
//	w, err := st.Increment(ctx, "user:123", time.Minute)
func (s *MemoryStore) Increment(_ context.Context, key string, window time.Duration) (throttle.Window, error) {
	sh := s.shardFor(key)
	now := s.now()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	r, found := sh.records[key]
	if !found || now.After(r.resetAt) {
		r = record{hits: 1, resetAt: now.Add(window)}
	} else {
		r.hits++
	}
	sh.records[key] = r

	return throttle.Window{Hits: r.hits, ResetAt: r.resetAt}, nil
}

// Decrement removes one hit from the current window of key. Expired windows
// and counters already at zero are left alone.
func (s *MemoryStore) Decrement(_ context.Context, key string) error {
	sh := s.shardFor(key)
	now := s.now()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	r, found := sh.records[key]
	if !found || now.After(r.resetAt) || r.hits <= 0 {
		return nil
	}
	r.hits--
	sh.records[key] = r
	return nil
}

// Reset removes the window of key.
func (s *MemoryStore) Reset(_ context.Context, key string) error {
	sh := s.shardFor(key)

	sh.mu.Lock()
	delete(sh.records, key)
	sh.mu.Unlock()
	return nil
}

// Len returns the number of windows held, expired ones included.
func (s *MemoryStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.records)
		sh.mu.Unlock()
	}
	return n
}

// Close stops the sweep goroutine and waits for it to exit. It is safe to call
// more than once.
func (s *MemoryStore) Close() error {
	s.cancel()
	<-s.done
	return nil
}

// runCleanup periodically removes expired windows until ctx is done.
func (s *MemoryStore) runCleanup(ctx context.Context, interval time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-ctx.Done():
			return
		}
	}
}

func (s *MemoryStore) sweep() {
	now := s.now()
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, r := range sh.records {
			if now.After(r.resetAt) {
				delete(sh.records, key)
			}
		}
		sh.mu.Unlock()
	}
}
