package service

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"
)

type nopCaller struct{}

func (nopCaller) Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	return nil, nil
}

func (nopCaller) Notify(ctx context.Context, method string, params any) error { return nil }

func TestMuxDispatchesRegisteredOperation(t *testing.T) {
	t.Parallel()

	m := NewMux(ClientInfo{Name: "test"})
	m.Handle("greet", func(ctx context.Context, args json.RawMessage, caller Caller) (any, error) {
		var p struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(args, &p); err != nil {
			return nil, err
		}
		return "hello " + p.Name, nil
	})

	got, err := m.HandleOperation(t.Context(), "greet", json.RawMessage(`{"name":"you"}`), nopCaller{})
	if err != nil {
		t.Fatalf("HandleOperation failed: %v", err)
	}
	if got != "hello you" {
		t.Fatalf("HandleOperation = %v, want %q", got, "hello you")
	}
}

func TestMuxRejectsUnknownOperation(t *testing.T) {
	t.Parallel()

	m := NewMux(ClientInfo{Name: "test"})
	_, err := m.HandleOperation(t.Context(), "nope", nil, nopCaller{})

	var unknown *ErrUnknownOperation
	if !errors.As(err, &unknown) {
		t.Fatalf("HandleOperation error = %v, want ErrUnknownOperation", err)
	}
	if unknown.Name != "nope" {
		t.Fatalf("unknown operation name = %q", unknown.Name)
	}
}

func TestMuxInitializeListsOperationsSorted(t *testing.T) {
	t.Parallel()

	m := NewMux(ClientInfo{Name: "test", Version: "1.0.0"})
	for _, name := range []string{"zeta", "alpha", "mid"} {
		m.Handle(name, func(ctx context.Context, args json.RawMessage, caller Caller) (any, error) {
			return nil, nil
		})
	}

	res, err := m.Initialize(t.Context(), &InitializeParams{Client: ClientInfo{Name: "c"}})
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if res.Server.Name != "test" {
		t.Fatalf("server name = %q", res.Server.Name)
	}
	if want := []string{"alpha", "mid", "zeta"}; !reflect.DeepEqual(res.Operations, want) {
		t.Fatalf("operations = %v, want %v", res.Operations, want)
	}
}
