package cache

import (
	"context"
	"sync"
	"time"
)

type inflight struct {
	done chan struct{}
	data []byte
	err  error
}

// Loader coalesces concurrent computations of the same key: the first caller
// populates the store, concurrent callers for that key wait for its result
// instead of issuing duplicate upstream calls.
type Loader struct {
	store Store

	mu    sync.Mutex
	calls map[string]*inflight
}

func NewLoader(store Store) *Loader {
	return &Loader{store: store, calls: make(map[string]*inflight)}
}

// Do returns the cached value for key, computing and storing it with ttl on
// a miss. Errors from compute are shared with coalesced waiters but never
// cached.
func (l *Loader) Do(ctx context.Context, key string, ttl time.Duration, compute func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if it, err := l.store.Get(ctx, key); err != nil {
		return nil, err
	} else if it != nil {
		return it.Data, nil
	}

	l.mu.Lock()
	if c, ok := l.calls[key]; ok {
		l.mu.Unlock()
		select {
		case <-c.done:
			return c.data, c.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	c := &inflight{done: make(chan struct{})}
	l.calls[key] = c
	l.mu.Unlock()

	// Re-check under coalescing ownership: another process path may have
	// populated the store between our miss and winning the in-flight slot.
	if it, err := l.store.Get(ctx, key); err == nil && it != nil {
		c.data = it.Data
		l.finish(key, c)
		return it.Data, nil
	}

	c.data, c.err = compute(ctx)
	if c.err == nil {
		if serr := l.store.Set(ctx, key, c.data, ttl); serr != nil {
			c.err = serr
		}
	}
	l.finish(key, c)
	return c.data, c.err
}

func (l *Loader) finish(key string, c *inflight) {
	l.mu.Lock()
	delete(l.calls, key)
	l.mu.Unlock()
	close(c.done)
}
