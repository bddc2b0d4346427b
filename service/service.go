// Package service defines the contract between the relay core and the
// collaborator operations it hosts. The core invokes a registered Handler
// with (operation name, arguments, channel reference); the handler returns a
// result or a typed failure. Handlers may use the channel reference to ask
// the connected client to perform work and must treat its timeout or absence
// as a recoverable failure.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/relaykit/relay/internal/correlation"
)

// Sentinel errors surfaced by Caller. A handler observing ErrCallTimeout
// should degrade gracefully (fallback result) rather than hang or crash.
var (
	ErrCallTimeout   = correlation.ErrTimeout
	ErrChannelClosed = correlation.ErrClosed
)

// DefaultCallTimeout applies when a handler does not specify its own deadline
// for a server-issued call.
const DefaultCallTimeout = 30 * time.Second

// Caller is the handler's view of the session's duplex channel.
type Caller interface {
	// Call issues a call into the connected client and blocks until the
	// matching reply, the timeout, or channel close. A zero timeout means
	// DefaultCallTimeout.
	Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error)

	// Notify pushes a one-way event onto the session's stream.
	Notify(ctx context.Context, method string, params any) error
}

// ClientInfo identifies the client connecting to the server.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// InitializeParams is the payload of the session-establishing call.
type InitializeParams struct {
	Client ClientInfo `json:"client"`
}

// InitializeResult is returned to the client on successful initialization.
type InitializeResult struct {
	Server     ClientInfo `json:"server"`
	Operations []string   `json:"operations,omitempty"`
}

// Handler is the collaborator side of the core. Implementations must be safe
// for concurrent use; one handler instance serves all of a session's
// requests.
type Handler interface {
	// Initialize is invoked for the session-establishing call. An error
	// aborts session creation; the session id is never published.
	Initialize(ctx context.Context, params *InitializeParams) (*InitializeResult, error)

	// HandleOperation dispatches one inbound operation call.
	HandleOperation(ctx context.Context, name string, args json.RawMessage, caller Caller) (any, error)
}

// OperationError is a typed failure a handler may return to control the
// client-visible message. Other error values are reported generically.
type OperationError struct {
	Message string
	Data    any
}

func (e *OperationError) Error() string { return e.Message }

// CallError is a failure reply returned by the connected client for a
// server-issued call. It is distinct from ErrCallTimeout and
// ErrChannelClosed so handlers can decide whether a retry makes sense.
type CallError struct {
	Code    int
	Message string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("client error %d: %s", e.Code, e.Message)
}

// ErrUnknownOperation is returned by Mux for unregistered operation names.
type ErrUnknownOperation struct {
	Name string
}

func (e *ErrUnknownOperation) Error() string {
	return fmt.Sprintf("unknown operation %q", e.Name)
}
