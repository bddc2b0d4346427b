package registry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/relaykit/relay/service"
)

type nopHandler struct{}

func (nopHandler) Initialize(ctx context.Context, params *service.InitializeParams) (*service.InitializeResult, error) {
	return &service.InitializeResult{Server: service.ClientInfo{Name: "test"}}, nil
}

func (nopHandler) HandleOperation(ctx context.Context, name string, args json.RawMessage, caller service.Caller) (any, error) {
	return nil, nil
}

func TestValidateID(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		id   string
		ok   bool
	}{
		{"canonical uuid", "7f2c8a9e-1b3d-4e5f-8a9b-0c1d2e3f4a5b", true},
		{"empty", "", false},
		{"too short", "7f2c8a9e", false},
		{"right length wrong alphabet", "zzzzzzzz-zzzz-zzzz-zzzz-zzzzzzzzzzzz", false},
		{"path traversal", "../../../../../../../etc/passwd8-12", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateID(tc.id)
			if tc.ok && err != nil {
				t.Fatalf("ValidateID(%q) = %v, want nil", tc.id, err)
			}
			if !tc.ok && !errors.Is(err, ErrMalformedID) {
				t.Fatalf("ValidateID(%q) = %v, want ErrMalformedID", tc.id, err)
			}
		})
	}
}

func TestCreateIsNotRoutableUntilPublished(t *testing.T) {
	t.Parallel()

	r := New(nil)
	s := r.Create(nopHandler{})

	if err := ValidateID(s.ID()); err != nil {
		t.Fatalf("created session id fails format check: %v", err)
	}
	if _, err := r.Resolve(s.ID()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unpublished session resolved")
	}

	r.Publish(s)
	got, err := r.Resolve(s.ID())
	if err != nil {
		t.Fatalf("Resolve after publish failed: %v", err)
	}
	if got != s {
		t.Fatalf("Resolve returned a different session")
	}
}

func TestSessionIDsAreUnique(t *testing.T) {
	t.Parallel()

	r := New(nil)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		s := r.Create(nopHandler{})
		if seen[s.ID()] {
			t.Fatalf("duplicate session id %q", s.ID())
		}
		seen[s.ID()] = true
	}
}

func TestResolveTouchesLastActive(t *testing.T) {
	t.Parallel()

	r := New(nil)
	s := r.Create(nopHandler{})
	r.Publish(s)

	before := s.LastActive()
	time.Sleep(2 * time.Millisecond)
	if _, err := r.Resolve(s.ID()); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !s.LastActive().After(before) {
		t.Fatalf("Resolve did not refresh last-activity")
	}
}

func TestTerminateClosesChannelAndIsIdempotent(t *testing.T) {
	t.Parallel()

	r := New(nil)
	s := r.Create(nopHandler{})
	r.Publish(s)

	if err := r.Terminate(s.ID(), "client requested termination"); err != nil {
		t.Fatalf("Terminate failed: %v", err)
	}
	if _, err := r.Resolve(s.ID()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("terminated session still resolvable")
	}
	if _, err := s.Channel().Publish([]byte("x")); err == nil {
		t.Fatalf("channel still accepts events after terminate")
	}
	if err := r.Terminate(s.ID(), "again"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Terminate = %v, want ErrNotFound", err)
	}
}

func TestDiscardClosesChannel(t *testing.T) {
	t.Parallel()

	r := New(nil)
	s := r.Create(nopHandler{})
	r.Discard(s)
	if _, err := s.Channel().Publish([]byte("x")); err == nil {
		t.Fatalf("discarded session channel still open")
	}
}

func TestSweepIdleReapsOnlyStaleSessions(t *testing.T) {
	t.Parallel()

	r := New(nil)
	idle := r.Create(nopHandler{})
	fresh := r.Create(nopHandler{})
	r.Publish(idle)
	r.Publish(fresh)

	threshold := 30 * time.Minute
	// Fresh was touched now; pretend the sweep runs just past idle's horizon.
	future := time.Now().Add(threshold + time.Minute)
	fresh.lastActive.Store(future.Add(-time.Minute).UnixNano())

	reaped := r.SweepIdle(future, threshold)
	if reaped != 1 {
		t.Fatalf("SweepIdle reaped %d sessions, want 1", reaped)
	}
	if _, err := r.Resolve(idle.ID()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("idle session survived the sweep")
	}
	if _, err := r.Resolve(fresh.ID()); err != nil {
		t.Fatalf("fresh session was reaped: %v", err)
	}
}

func TestSweepIdleReapsDefunctSessions(t *testing.T) {
	t.Parallel()

	r := New(nil)
	s := r.Create(nopHandler{})
	r.Publish(s)

	// A sink failure mid-delivery marks the channel defunct.
	if _, err := s.Channel().Publish([]byte("x")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	sinkErr := errors.New("broken pipe")
	_ = s.Channel().AttachStream(t.Context(), func(context.Context, string, []byte) error {
		return sinkErr
	}, "")
	if !s.Channel().Defunct() {
		t.Fatalf("channel should be defunct")
	}

	if reaped := r.SweepIdle(time.Now(), time.Hour); reaped != 1 {
		t.Fatalf("SweepIdle reaped %d, want 1 defunct session", reaped)
	}
}

func TestCloseAllTerminatesEverySession(t *testing.T) {
	t.Parallel()

	r := New(nil)
	var sessions []*Session
	for i := 0; i < 3; i++ {
		s := r.Create(nopHandler{})
		r.Publish(s)
		sessions = append(sessions, s)
	}

	r.CloseAll("server shutting down")
	if got := r.Len(); got != 0 {
		t.Fatalf("Len after CloseAll = %d, want 0", got)
	}
	for _, s := range sessions {
		if _, err := s.Channel().Publish([]byte("x")); err == nil {
			t.Fatalf("session %s channel still open", s.ID())
		}
	}
}
