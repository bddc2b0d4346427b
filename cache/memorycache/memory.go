// Package memorycache provides an in-memory cache.Store backed by
// github.com/hashicorp/golang-lru/v2. The size bound is defensive; TTL
// expiry is the contractual eviction policy and is enforced on read and by
// the reaper's Sweep.
package memorycache

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/relaykit/relay/cache"
)

const defaultMaxItems = 4096

type Store struct {
	mu    sync.RWMutex
	now   func() time.Time
	items *lru.Cache[string, *cache.Item]
}

// Option configures a Store.
type Option func(*Store)

// WithClock injects the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func New(maxItems int, opts ...Option) (*Store, error) {
	if maxItems <= 0 {
		maxItems = defaultMaxItems
	}
	items, err := lru.New[string, *cache.Item](maxItems)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}
	s := &Store{now: time.Now, items: items}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Get(ctx context.Context, key string) (*cache.Item, error) {
	s.mu.RLock()
	it, ok := s.items.Get(key)
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if it.Expired(s.now()) {
		// Lookup past expiry behaves as a miss and purges the entry.
		s.purgeExpired(key, it)
		return nil, nil
	}
	return it, nil
}

// purgeExpired removes key only while it still maps to the expired item
// observed by Get. A Set racing in between the lock handoff keeps its fresh
// entry.
func (s *Store) purgeExpired(key string, it *cache.Item) {
	s.mu.Lock()
	if cur, ok := s.items.Peek(key); ok && cur == it {
		s.items.Remove(key)
	}
	s.mu.Unlock()
}

func (s *Store) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	now := s.now()
	it := &cache.Item{
		Data:      append([]byte(nil), data...),
		CreatedAt: now,
	}
	if ttl > 0 {
		it.ExpiresAt = now.Add(ttl)
	}
	s.mu.Lock()
	s.items.Add(key, it)
	s.mu.Unlock()
	return nil
}

func (s *Store) Len(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items.Len(), nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	s.items.Purge()
	s.mu.Unlock()
	return nil
}

// Sweep purges entries past TTL as of now, re-checking each entry
// immediately before removal so a fresh insert under the same key is never
// evicted. Returns the number of entries purged.
func (s *Store) Sweep(now time.Time) int {
	s.mu.RLock()
	keys := s.items.Keys()
	s.mu.RUnlock()

	purged := 0
	for _, key := range keys {
		s.mu.Lock()
		if it, ok := s.items.Peek(key); ok && it.Expired(now) {
			s.items.Remove(key)
			purged++
		}
		s.mu.Unlock()
	}
	return purged
}

var _ cache.Store = (*Store)(nil)
