package correlation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/relaykit/relay/internal/jsonrpc"
)

func TestRegisterAllocatesUniquePrefixedIDs(t *testing.T) {
	t.Parallel()

	tbl := New()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := tbl.Register()
		if err != nil {
			t.Fatalf("Register failed: %v", err)
		}
		if !strings.HasPrefix(id, "s-") {
			t.Fatalf("call id %q missing server prefix", id)
		}
		if seen[id] {
			t.Fatalf("duplicate call id %q", id)
		}
		seen[id] = true
	}
	if got := tbl.Len(); got != 100 {
		t.Fatalf("Len = %d, want 100", got)
	}
}

func TestFulfillDeliversMatchingReply(t *testing.T) {
	t.Parallel()

	tbl := New()
	id, err := tbl.Register()
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	want := jsonrpc.NewErrorResponse(jsonrpc.NewRequestID(id), jsonrpc.ErrorCodeInternalError, "boom", nil)
	done := make(chan struct{})
	go func() {
		defer close(done)
		res, err := tbl.Await(t.Context(), id, time.Second)
		if err != nil {
			t.Errorf("Await failed: %v", err)
			return
		}
		if res != want {
			t.Errorf("Await returned wrong response")
		}
	}()

	if !tbl.Fulfill(id, want) {
		t.Fatalf("Fulfill reported no pending call")
	}
	<-done

	if got := tbl.Len(); got != 0 {
		t.Fatalf("Len after fulfill = %d, want 0", got)
	}
}

func TestFulfillIsAtMostOnce(t *testing.T) {
	t.Parallel()

	tbl := New()
	id, _ := tbl.Register()
	res := jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeInternalError, "x", nil)

	if !tbl.Fulfill(id, res) {
		t.Fatalf("first Fulfill should succeed")
	}
	if tbl.Fulfill(id, res) {
		t.Fatalf("second Fulfill for same id should report unmatched")
	}
}

func TestFulfillUnknownIDIsNoOp(t *testing.T) {
	t.Parallel()

	tbl := New()
	if tbl.Fulfill("s-999", &jsonrpc.Response{}) {
		t.Fatalf("Fulfill of unknown id should return false")
	}
}

func TestAwaitTimesOut(t *testing.T) {
	t.Parallel()

	tbl := New()
	id, _ := tbl.Register()

	start := time.Now()
	_, err := tbl.Await(t.Context(), id, 20*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Await error = %v, want ErrTimeout", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatalf("Await returned before the deadline")
	}

	// Timed-out entries are removed; a late reply is dropped.
	if tbl.Fulfill(id, &jsonrpc.Response{}) {
		t.Fatalf("late reply should not match a timed-out call")
	}
	if got := tbl.Len(); got != 0 {
		t.Fatalf("Len after timeout = %d, want 0", got)
	}
}

func TestAwaitObservesContextCancellation(t *testing.T) {
	t.Parallel()

	tbl := New()
	id, _ := tbl.Register()

	ctx, cancel := context.WithCancel(t.Context())
	errCh := make(chan error, 1)
	go func() {
		_, err := tbl.Await(ctx, id, time.Minute)
		errCh <- err
	}()

	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("Await error = %v, want context.Canceled", err)
	}
	if got := tbl.Len(); got != 0 {
		t.Fatalf("canceled call left a pending entry")
	}
}

func TestCloseFailsAllPendingWithReason(t *testing.T) {
	t.Parallel()

	tbl := New()
	const callers = 8

	errCh := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		id, err := tbl.Register()
		if err != nil {
			t.Fatalf("Register failed: %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tbl.Await(t.Context(), id, time.Minute)
			errCh <- err
		}()
	}

	tbl.Close("session terminated")
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("Await error = %v, want ErrClosed", err)
		}
		if !strings.Contains(err.Error(), "session terminated") {
			t.Fatalf("close reason missing from error: %v", err)
		}
	}
}

func TestRegisterIntoClosedTableFailsFast(t *testing.T) {
	t.Parallel()

	tbl := New()
	tbl.Close("shutdown")

	if _, err := tbl.Register(); !errors.Is(err, ErrClosed) {
		t.Fatalf("Register after close = %v, want ErrClosed", err)
	}
}

func TestCloseIsIdempotentAndFirstReasonSticks(t *testing.T) {
	t.Parallel()

	tbl := New()
	tbl.Close("first")
	tbl.Close("second")

	_, err := tbl.Register()
	if err == nil || !strings.Contains(err.Error(), "first") {
		t.Fatalf("close reason = %v, want the first reason", err)
	}
}

func TestRepliesMatchByIDNotArrivalOrder(t *testing.T) {
	t.Parallel()

	tbl := New()
	idA, _ := tbl.Register()
	idB, _ := tbl.Register()

	resA := jsonrpc.NewErrorResponse(jsonrpc.NewRequestID(idA), jsonrpc.ErrorCodeInternalError, "a", nil)
	resB := jsonrpc.NewErrorResponse(jsonrpc.NewRequestID(idB), jsonrpc.ErrorCodeInternalError, "b", nil)

	type result struct {
		res *jsonrpc.Response
		err error
	}
	chA := make(chan result, 1)
	chB := make(chan result, 1)
	go func() {
		res, err := tbl.Await(t.Context(), idA, time.Second)
		chA <- result{res, err}
	}()
	go func() {
		res, err := tbl.Await(t.Context(), idB, time.Second)
		chB <- result{res, err}
	}()

	// Fulfill in reverse registration order.
	if !tbl.Fulfill(idB, resB) {
		t.Fatalf("Fulfill(idB) failed")
	}
	if !tbl.Fulfill(idA, resA) {
		t.Fatalf("Fulfill(idA) failed")
	}

	if got := <-chA; got.err != nil || got.res != resA {
		t.Fatalf("Await(idA) = %v, %v; want resA", got.res, got.err)
	}
	if got := <-chB; got.err != nil || got.res != resB {
		t.Fatalf("Await(idB) = %v, %v; want resB", got.res, got.err)
	}
}
