// Package duplex implements the per-session duplex channel: an ordered
// server-to-client event stream with reconnect/resume, plus the ability for
// the server to issue a call into the session and await the client's reply.
package duplex

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/relaykit/relay/internal/correlation"
	"github.com/relaykit/relay/internal/jsonrpc"
)

// ReplayHorizon bounds the per-channel event buffer. Events older than the
// horizon are unrecoverable; a client resuming from a cursor past the horizon
// observes a gap, not an error.
const ReplayHorizon = 256

// EventSink consumes ordered events for an attached stream. A non-nil error
// terminates the attachment.
type EventSink func(ctx context.Context, eventID string, data []byte) error

// MessageWriter is a request-scoped outbound path, typically the open SSE
// response of the originating POST. Writes that fail fall back to the
// channel's event stream.
type MessageWriter interface {
	WriteMessage(ctx context.Context, msg jsonrpc.Message) error
}

// MessageWriterFunc adapts a function to the MessageWriter interface.
type MessageWriterFunc func(ctx context.Context, msg jsonrpc.Message) error

func (f MessageWriterFunc) WriteMessage(ctx context.Context, msg jsonrpc.Message) error {
	return f(ctx, msg)
}

type event struct {
	seq  uint64
	data []byte
}

type subscription struct {
	ch     chan event
	stopCh chan struct{}
}

func (s *subscription) stop() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
}

// Channel is bound to exactly one session. At most one event-stream sink is
// attached at a time; attaching a new one supersedes and closes the previous
// one. All methods are safe for concurrent use.
type Channel struct {
	log   *slog.Logger
	calls *correlation.Table

	mu        sync.Mutex
	events    []event
	nextSeq   uint64 // sequence assigned to the next published event
	delivered uint64 // highest sequence handed to any sink
	sub       *subscription
	closed    bool
	defunct   bool
}

func New(log *slog.Logger) *Channel {
	if log == nil {
		log = slog.Default()
	}
	return &Channel{
		log:     log,
		calls:   correlation.New(),
		nextSeq: 1,
	}
}

// Publish appends data to the channel's event stream and wakes any attached
// sink. It returns the assigned event cursor.
func (c *Channel) Publish(data []byte) (string, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", correlation.ErrClosed
	}
	ev := event{seq: c.nextSeq, data: append([]byte(nil), data...)}
	c.nextSeq++
	c.events = append(c.events, ev)
	if len(c.events) > ReplayHorizon {
		c.events = c.events[len(c.events)-ReplayHorizon:]
	}
	sub := c.sub
	c.mu.Unlock()

	if sub != nil {
		select {
		case sub.ch <- ev:
		case <-sub.stopCh:
		default:
			// Sink can't keep up. Drop the attachment, not the event: the
			// delivered watermark never moves past an undelivered sequence,
			// and the client reconnects and resumes from its cursor.
			sub.stop()
		}
	}
	return strconv.FormatUint(ev.seq, 10), nil
}

// AttachStream binds sink as the channel's single event sink and blocks,
// delivering events, until ctx is done, a newer sink supersedes this one, the
// channel closes, or the sink errors.
//
// resumeCursor is the last event ID the client saw ("" for a fresh stream).
// Buffered events after the cursor are replayed before live delivery; without
// a cursor, events never handed to any prior sink are delivered first so
// queued server-issued calls are not lost between reconnects.
func (c *Channel) AttachStream(ctx context.Context, sink EventSink, resumeCursor string) error {
	var after uint64
	if resumeCursor != "" {
		n, err := strconv.ParseUint(resumeCursor, 10, 64)
		if err != nil {
			return ErrBadCursor
		}
		after = n
	}

	sub := &subscription{ch: make(chan event, ReplayHorizon), stopCh: make(chan struct{})}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return correlation.ErrClosed
	}
	if resumeCursor == "" {
		after = c.delivered
	}
	// Supersede: at most one winner.
	prev := c.sub
	c.sub = sub
	var replay []event
	for _, ev := range c.events {
		if ev.seq > after {
			replay = append(replay, ev)
		}
	}
	c.mu.Unlock()

	if prev != nil {
		prev.stop()
	}
	defer c.detach(sub)

	for _, ev := range replay {
		if err := c.deliver(ctx, sink, sub, ev); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sub.stopCh:
			return nil
		case ev := <-sub.ch:
			// Replay may already have covered this event.
			if ev.seq <= after {
				continue
			}
			if err := c.deliver(ctx, sink, sub, ev); err != nil {
				return err
			}
		}
	}
}

func (c *Channel) deliver(ctx context.Context, sink EventSink, sub *subscription, ev event) error {
	if err := sink(ctx, strconv.FormatUint(ev.seq, 10), ev.data); err != nil {
		c.mu.Lock()
		if c.sub == sub {
			c.defunct = true
		}
		c.mu.Unlock()
		return err
	}
	c.mu.Lock()
	if ev.seq > c.delivered {
		c.delivered = ev.seq
	}
	c.mu.Unlock()
	return nil
}

func (c *Channel) detach(sub *subscription) {
	c.mu.Lock()
	if c.sub == sub {
		c.sub = nil
	}
	c.mu.Unlock()
	sub.stop()
}

// IssueCall allocates a call id, transmits a JSON-RPC request to the client
// over the request-scoped writer when one is reachable (falling back to the
// event stream), and blocks the calling goroutine until the matching reply
// arrives, timeout elapses, or the channel closes. Other sessions and other
// calls on this channel proceed concurrently.
func (c *Channel) IssueCall(ctx context.Context, method string, params any, timeout time.Duration, direct MessageWriter) (*jsonrpc.Response, error) {
	id, err := c.calls.Register()
	if err != nil {
		return nil, err
	}

	req, err := jsonrpc.NewRequest(jsonrpc.NewRequestID(id), method, params)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	sent := false
	if direct != nil {
		if werr := direct.WriteMessage(ctx, b); werr == nil {
			sent = true
		} else {
			c.log.DebugContext(ctx, "duplex.call.direct_write.fail", slog.String("err", werr.Error()))
		}
	}
	if !sent {
		if _, perr := c.Publish(b); perr != nil {
			return nil, perr
		}
	}

	return c.calls.Await(ctx, id, timeout)
}

// ResolveReply routes an inbound message recognized as a reply to a
// previously issued call. A reply with an unknown id is logged and dropped;
// it is never an error to the client.
func (c *Channel) ResolveReply(ctx context.Context, res *jsonrpc.Response) {
	id := res.ID.String()
	if id == "" {
		c.log.WarnContext(ctx, "duplex.reply.missing_id")
		return
	}
	if !c.calls.Fulfill(id, res) {
		c.log.InfoContext(ctx, "duplex.reply.unmatched", slog.String("call_id", id))
	}
}

// Close fails every pending call with a channel-closed error carrying reason,
// detaches any stream sink, and transitions the channel to its terminal
// state. It is idempotent.
func (c *Channel) Close(reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()

	c.calls.Close(reason)
	if sub != nil {
		sub.stop()
	}
}

// Defunct reports whether the underlying connection failed mid-delivery.
func (c *Channel) Defunct() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.defunct
}

// PendingCalls reports the number of outstanding server-issued calls.
func (c *Channel) PendingCalls() int {
	return c.calls.Len()
}
