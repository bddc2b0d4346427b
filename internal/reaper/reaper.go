// Package reaper runs the periodic background reclamation pass: expired
// cache entries, stale rate-limit windows, and idle or defunct sessions.
// Each target owns its own locking and re-checks eligibility immediately
// before removal; the reaper never holds a global lock across a pass.
package reaper

import (
	"context"
	"log/slog"
	"time"
)

type target struct {
	name  string
	sweep func(now time.Time) int
}

// Reaper drives all registered sweep targets on a fixed interval. Timing is
// injectable so tests simulate time via RunOnce instead of sleeping.
type Reaper struct {
	log      *slog.Logger
	interval time.Duration
	now      func() time.Time
	targets  []target
}

// Option configures a Reaper.
type Option func(*Reaper)

// WithClock injects the time source used for each pass.
func WithClock(now func() time.Time) Option {
	return func(r *Reaper) {
		if now != nil {
			r.now = now
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(r *Reaper) {
		if log != nil {
			r.log = log
		}
	}
}

func New(interval time.Duration, opts ...Option) *Reaper {
	r := &Reaper{log: slog.Default(), interval: interval, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Add registers a sweep target. Registration is not safe concurrently with
// Run; register everything during startup.
func (r *Reaper) Add(name string, sweep func(now time.Time) int) {
	r.targets = append(r.targets, target{name: name, sweep: sweep})
}

// RunOnce executes a single pass at the given time.
func (r *Reaper) RunOnce(now time.Time) {
	for _, t := range r.targets {
		if n := t.sweep(now); n > 0 {
			r.log.Debug("reaper.sweep", slog.String("target", t.name), slog.Int("reclaimed", n))
		}
	}
}

// Run executes passes on the configured interval until ctx is done.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.RunOnce(r.now())
		}
	}
}
