package service

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// OperationFunc is a single operation implementation.
type OperationFunc func(ctx context.Context, args json.RawMessage, caller Caller) (any, error)

// Mux is a static operation catalog: a name-to-function table implementing
// Handler. The zero value is not usable; construct with NewMux.
type Mux struct {
	server ClientInfo

	mu  sync.RWMutex
	ops map[string]OperationFunc
}

func NewMux(server ClientInfo) *Mux {
	return &Mux{server: server, ops: make(map[string]OperationFunc)}
}

// Handle registers fn under name, replacing any previous registration.
func (m *Mux) Handle(name string, fn OperationFunc) {
	m.mu.Lock()
	m.ops[name] = fn
	m.mu.Unlock()
}

func (m *Mux) Initialize(ctx context.Context, params *InitializeParams) (*InitializeResult, error) {
	m.mu.RLock()
	names := make([]string, 0, len(m.ops))
	for name := range m.ops {
		names = append(names, name)
	}
	m.mu.RUnlock()
	sort.Strings(names)
	return &InitializeResult{Server: m.server, Operations: names}, nil
}

func (m *Mux) HandleOperation(ctx context.Context, name string, args json.RawMessage, caller Caller) (any, error) {
	m.mu.RLock()
	fn, ok := m.ops[name]
	m.mu.RUnlock()
	if !ok {
		return nil, &ErrUnknownOperation{Name: name}
	}
	return fn(ctx, args, caller)
}

var _ Handler = (*Mux)(nil)
