// Package correlation tracks server-issued calls awaiting client replies.
//
// A Table is scoped to a single duplex channel. Every registered call reaches
// exactly one terminal state: fulfilled by a matching reply, timed out, or
// failed by channel close. Replies are matched strictly by identifier, never
// by arrival order.
package correlation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/relaykit/relay/internal/jsonrpc"
)

var (
	// ErrTimeout is returned by Await when the reply deadline elapses.
	ErrTimeout = errors.New("call timed out awaiting reply")
	// ErrClosed is returned for calls pending on (or registered into) a
	// closed channel.
	ErrClosed = errors.New("channel closed")
)

// callIDPrefix distinguishes server-issued call IDs from client request IDs
// echoed back on the same channel, so the two namespaces can never collide.
const callIDPrefix = "s-"

type pending struct {
	// ch carries the matching reply (buffered, cap 1); it is closed without
	// a value when the table shuts down before fulfillment.
	ch chan *jsonrpc.Response
	// fulfilled is guarded by the table mutex and makes fulfillment
	// at-most-once. The entry stays in the map until the awaiter consumes
	// it, so a reply racing ahead of Await is never lost.
	fulfilled bool
}

// Table is a map from call identifier to pending reply slot. It is safe for
// concurrent use and supports many outstanding calls at once.
type Table struct {
	mu       sync.Mutex
	next     uint64
	pending  map[string]*pending
	closed   bool
	closeErr error
}

func New() *Table {
	return &Table{pending: make(map[string]*pending)}
}

// Register allocates a call identifier unique within the table's lifetime and
// records a pending slot for it. Registration into a closed table fails fast
// with ErrClosed rather than hanging.
func (t *Table) Register() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return "", t.closeErr
	}
	t.next++
	id := callIDPrefix + strconv.FormatUint(t.next, 10)
	t.pending[id] = &pending{ch: make(chan *jsonrpc.Response, 1)}
	return id, nil
}

// Await blocks until the call identified by id is fulfilled, the timeout
// elapses, the table closes, or ctx is done. On timeout the entry is removed
// so a late reply is ignored.
func (t *Table) Await(ctx context.Context, id string, timeout time.Duration) (*jsonrpc.Response, error) {
	t.mu.Lock()
	p, ok := t.pending[id]
	t.mu.Unlock()
	if !ok {
		// Registered id unknown: the table was closed and drained.
		return nil, t.closeReason()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res, ok := <-p.ch:
		t.remove(id)
		if !ok {
			return nil, t.closeReason()
		}
		return res, nil
	case <-timer.C:
		return t.expire(id, p)
	case <-ctx.Done():
		t.remove(id)
		return nil, ctx.Err()
	}
}

// expire removes the entry under lock, re-checking for a reply that raced the
// deadline. A reply that made it into the slot before removal wins.
func (t *Table) expire(id string, p *pending) (*jsonrpc.Response, error) {
	t.mu.Lock()
	fulfilled := p.fulfilled
	delete(t.pending, id)
	t.mu.Unlock()

	if fulfilled {
		if res, ok := <-p.ch; ok {
			return res, nil
		}
		return nil, t.closeReason()
	}
	if t.isClosed() {
		return nil, t.closeReason()
	}
	return nil, ErrTimeout
}

func (t *Table) remove(id string) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

// Fulfill delivers a reply to the pending call with the given id. Fulfillment
// is at-most-once: the first reply wins. A reply for an unknown id (already
// timed out, already fulfilled, or never issued) returns false and is
// otherwise a no-op. The entry is consumed and removed by its awaiter.
func (t *Table) Fulfill(id string, res *jsonrpc.Response) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pending[id]
	if !ok || p.fulfilled || t.closed {
		return false
	}
	p.fulfilled = true
	// Buffered send under the lock; cap 1 and the fulfilled flag guarantee
	// it never blocks.
	p.ch <- res
	close(p.ch)
	return true
}

// Close fails every pending call with ErrClosed carrying reason and rejects
// all future registrations. It is idempotent; only the first reason sticks.
func (t *Table) Close(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	if reason != "" {
		t.closeErr = fmt.Errorf("%w: %s", ErrClosed, reason)
	} else {
		t.closeErr = ErrClosed
	}
	for id, p := range t.pending {
		if !p.fulfilled {
			close(p.ch)
		}
		delete(t.pending, id)
	}
}

// Len reports the number of outstanding calls.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *Table) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Table) closeReason() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closeErr != nil {
		return t.closeErr
	}
	return ErrClosed
}
