// Package registry owns the mapping from session identifier to duplex
// channel and collaborator handler. It is the sole owner of session
// lifecycle: creation, publication, lookup, and teardown.
package registry

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/relaykit/relay/internal/duplex"
	"github.com/relaykit/relay/service"
)

var (
	// ErrNotFound indicates a well-formed session id that is unknown or
	// already terminated.
	ErrNotFound = errors.New("session not found")
	// ErrMalformedID indicates an id that fails the format check. It is a
	// distinct client error and is rejected before any registry lookup.
	ErrMalformedID = errors.New("malformed session id")
)

// ValidateID enforces the session identifier format (canonical UUID text)
// before any registry state is touched.
func ValidateID(id string) error {
	if len(id) != 36 {
		return ErrMalformedID
	}
	if _, err := uuid.Parse(id); err != nil {
		return ErrMalformedID
	}
	return nil
}

// Session is a logical long-lived handle spanning multiple physical
// connections. Exactly one Session exists per identifier.
type Session struct {
	id         string
	createdAt  time.Time
	lastActive atomic.Int64 // unix nanos
	channel    *duplex.Channel
	handler    service.Handler
}

func (s *Session) ID() string               { return s.id }
func (s *Session) CreatedAt() time.Time     { return s.createdAt }
func (s *Session) Channel() *duplex.Channel { return s.channel }
func (s *Session) Handler() service.Handler { return s.handler }

// Touch refreshes the last-activity timestamp.
func (s *Session) Touch() { s.lastActive.Store(time.Now().UnixNano()) }

func (s *Session) LastActive() time.Time { return time.Unix(0, s.lastActive.Load()) }

// Registry maps published session ids to sessions. The registry lock guards
// only the map itself; per-session state carries its own synchronization so
// unrelated sessions never serialize on each other.
type Registry struct {
	log *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

func New(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{log: log, sessions: make(map[string]*Session)}
}

// Create allocates a session with a fresh 128-bit random identifier and an
// owned duplex channel. The session is not routable until Publish is called;
// callers confirm initialization succeeded first.
func (r *Registry) Create(handler service.Handler) *Session {
	s := &Session{
		id:        uuid.NewString(),
		createdAt: time.Now(),
		channel:   duplex.New(r.log),
		handler:   handler,
	}
	s.Touch()
	return s
}

// Publish makes a created session routable.
func (r *Registry) Publish(s *Session) {
	r.mu.Lock()
	r.sessions[s.id] = s
	r.mu.Unlock()
}

// Discard tears down a session whose initialization never completed. It must
// not be called for published sessions; use Terminate.
func (r *Registry) Discard(s *Session) {
	s.channel.Close("initialization failed")
}

// Resolve looks up a published session by id, refreshing its last-activity
// timestamp on success. The id must already have passed ValidateID.
func (r *Registry) Resolve(id string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	s.Touch()
	return s, nil
}

// Terminate closes the session's channel (failing all pending calls) and
// removes it. It is idempotent: a second call reports ErrNotFound, which is
// not a failure condition for callers implementing idempotent DELETE.
func (r *Registry) Terminate(id string, reason string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	s.channel.Close(reason)
	r.log.Info("session.terminate.ok", slog.String("session_id", id), slog.String("reason", reason))
	return nil
}

// Len reports the number of active sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot returns a stable copy of the current sessions for iteration
// without holding the registry lock.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()
	return out
}

// SweepIdle terminates sessions idle past threshold or whose channel is
// defunct. Eligibility is re-checked immediately before removal so a freshly
// touched session never races its own eviction. Returns the number of
// sessions reaped.
func (r *Registry) SweepIdle(now time.Time, threshold time.Duration) int {
	reaped := 0
	for _, s := range r.Snapshot() {
		defunct := s.Channel().Defunct()
		if !defunct && now.Sub(s.LastActive()) < threshold {
			continue
		}
		r.mu.Lock()
		cur, ok := r.sessions[s.ID()]
		if !ok || cur != s {
			r.mu.Unlock()
			continue
		}
		// Re-check: a request may have touched the session since the snapshot.
		if !defunct && now.Sub(s.LastActive()) < threshold {
			r.mu.Unlock()
			continue
		}
		delete(r.sessions, s.ID())
		r.mu.Unlock()

		reason := "idle timeout"
		if defunct {
			reason = "connection defunct"
		}
		s.Channel().Close(reason)
		r.log.Info("session.reap", slog.String("session_id", s.ID()), slog.String("reason", reason))
		reaped++
	}
	return reaped
}

// CloseAll terminates every session. Used during graceful shutdown so
// pending calls fail cleanly rather than hanging.
func (r *Registry) CloseAll(reason string) {
	r.mu.Lock()
	all := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()
	for _, s := range all {
		s.channel.Close(reason)
	}
}
