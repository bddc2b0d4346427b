package reaper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRunOnceInvokesEveryTarget(t *testing.T) {
	t.Parallel()

	r := New(time.Second)

	var mu sync.Mutex
	seen := make(map[string]time.Time)
	for _, name := range []string{"cache", "sessions", "rate_windows"} {
		name := name
		r.Add(name, func(now time.Time) int {
			mu.Lock()
			seen[name] = now
			mu.Unlock()
			return 0
		})
	}

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	r.RunOnce(now)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 3 {
		t.Fatalf("RunOnce reached %d targets, want 3", len(seen))
	}
	for name, got := range seen {
		if !got.Equal(now) {
			t.Fatalf("target %s saw time %v, want %v", name, got, now)
		}
	}
}

func TestRunSweepsOnIntervalUntilCanceled(t *testing.T) {
	t.Parallel()

	r := New(5 * time.Millisecond)

	passes := make(chan struct{}, 16)
	r.Add("counter", func(now time.Time) int {
		select {
		case passes <- struct{}{}:
		default:
		}
		return 1
	})

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	// Observe at least two passes before stopping.
	for i := 0; i < 2; i++ {
		select {
		case <-passes:
		case <-time.After(2 * time.Second):
			t.Fatalf("reaper never completed pass %d", i+1)
		}
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run never returned after cancel")
	}
}

func TestInjectedClockDrivesPassTime(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	r := New(time.Millisecond, WithClock(func() time.Time { return fixed }))

	got := make(chan time.Time, 1)
	r.Add("probe", func(now time.Time) int {
		select {
		case got <- now:
		default:
		}
		return 0
	})

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go func() { _ = r.Run(ctx) }()

	select {
	case now := <-got:
		if !now.Equal(fixed) {
			t.Fatalf("pass time = %v, want injected clock %v", now, fixed)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no pass observed")
	}
}
