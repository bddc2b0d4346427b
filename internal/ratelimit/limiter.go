// Package ratelimit implements per-client-address admission control using a
// fixed-window counter: window length W, limit L. Windows are created lazily
// on first sight and reclaimed by the reaper once idle past W so memory stays
// bounded under address churn.
package ratelimit

import (
	"log/slog"
	"sync"
	"time"
)

type window struct {
	mu        sync.Mutex
	start     time.Time
	count     int
	lastSeen  time.Time
	reclaimed bool
}

// Limiter is safe for concurrent use. Each address gets its own lock; the
// shared map uses sync.Map so the hot path for existing addresses takes no
// global lock.
type Limiter struct {
	log    *slog.Logger
	limit  int
	window time.Duration
	now    func() time.Time

	windows sync.Map // addr -> *window

	overrideMu sync.RWMutex
	overrides  map[string]int // addr -> limit
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock injects the time source. Tests simulate time instead of sleeping.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(l *Limiter) {
		if log != nil {
			l.log = log
		}
	}
}

func New(limit int, windowSize time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		log:       slog.Default(),
		limit:     limit,
		window:    windowSize,
		now:       time.Now,
		overrides: make(map[string]int),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) limitFor(addr string) int {
	l.overrideMu.RLock()
	defer l.overrideMu.RUnlock()
	if lim, ok := l.overrides[addr]; ok {
		return lim
	}
	return l.limit
}

// Admit decides whether a request from addr may proceed. On denial,
// retryAfter is the remaining window time the client should wait.
func (l *Limiter) Admit(addr string) (allowed bool, retryAfter time.Duration) {
	now := l.now()

	for {
		// Fast path: window already exists, no allocation.
		v, ok := l.windows.Load(addr)
		if !ok {
			v, _ = l.windows.LoadOrStore(addr, &window{start: now, lastSeen: now})
		}
		w := v.(*window)

		w.mu.Lock()
		if w.reclaimed {
			// Lost the race with Sweep; the window is no longer in the map,
			// so counting against it would discard this admission.
			w.mu.Unlock()
			continue
		}

		w.lastSeen = now
		if now.Sub(w.start) >= l.window {
			w.start = now
			w.count = 0
		}
		if w.count >= l.limitFor(addr) {
			retry := w.start.Add(l.window).Sub(now)
			w.mu.Unlock()
			return false, retry
		}
		w.count++
		w.mu.Unlock()
		return true, 0
	}
}

// Sweep removes windows idle past the window size. The delete happens under
// the per-window lock with the window marked reclaimed, so an Admit racing
// the sweep re-resolves against the map instead of counting into an orphan.
// Returns the number of windows reclaimed.
func (l *Limiter) Sweep(now time.Time) int {
	reclaimed := 0
	l.windows.Range(func(key, value any) bool {
		w := value.(*window)
		w.mu.Lock()
		if now.Sub(w.lastSeen) >= l.window {
			w.reclaimed = true
			l.windows.Delete(key)
			reclaimed++
		}
		w.mu.Unlock()
		return true
	})
	return reclaimed
}

// Len reports the number of live windows.
func (l *Limiter) Len() int {
	n := 0
	l.windows.Range(func(any, any) bool { n++; return true })
	return n
}
