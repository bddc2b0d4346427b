package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/relaykit/relay/cache"
)

// ResolveFunc performs the expensive upstream lookup behind the "resolve"
// operation. Results are cached; the function must be safe for concurrent use.
type ResolveFunc func(ctx context.Context, query string) ([]byte, error)

// defaultResolveTTL bounds how long a resolve result is served from cache
// when the caller does not specify its own TTL.
const defaultResolveTTL = 5 * time.Minute

// NewExampleMux builds a small operation catalog exercising the main handler
// capabilities: plain request/response, cache-backed lookups, and
// server-issued calls back into the connected client.
func NewExampleMux(server ClientInfo, loader *cache.Loader, resolve ResolveFunc) *Mux {
	m := NewMux(server)

	m.Handle("echo", func(ctx context.Context, args json.RawMessage, caller Caller) (any, error) {
		if len(args) == 0 {
			return json.RawMessage("null"), nil
		}
		return args, nil
	})

	m.Handle("resolve", func(ctx context.Context, args json.RawMessage, caller Caller) (any, error) {
		var params struct {
			Query      string `json:"query"`
			TTLSeconds int    `json:"ttl_seconds,omitempty"`
		}
		if err := json.Unmarshal(args, &params); err != nil || params.Query == "" {
			return nil, &OperationError{Message: "resolve requires a non-empty query"}
		}
		ttl := defaultResolveTTL
		if params.TTLSeconds > 0 {
			ttl = time.Duration(params.TTLSeconds) * time.Second
		}

		data, err := loader.Do(ctx, cache.Key("resolve", params.Query), ttl, func(ctx context.Context) ([]byte, error) {
			return resolve(ctx, params.Query)
		})
		if err != nil {
			return nil, &OperationError{Message: fmt.Sprintf("resolve %q failed", params.Query), Data: err.Error()}
		}
		return json.RawMessage(data), nil
	})

	// confirm asks the connected client to approve something before the
	// operation completes. Timeout and channel-closed failures propagate so
	// the front door maps them onto their dedicated error codes.
	m.Handle("confirm", func(ctx context.Context, args json.RawMessage, caller Caller) (any, error) {
		var params struct {
			Prompt         string `json:"prompt"`
			TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
		}
		if err := json.Unmarshal(args, &params); err != nil || params.Prompt == "" {
			return nil, &OperationError{Message: "confirm requires a non-empty prompt"}
		}
		timeout := time.Duration(params.TimeoutSeconds) * time.Second

		res, err := caller.Call(ctx, "client.confirm", map[string]string{"prompt": params.Prompt}, timeout)
		if err != nil {
			return nil, err
		}
		return res, nil
	})

	// confirm_or_default degrades gracefully: an unanswered client falls
	// back to a denial instead of failing the operation.
	m.Handle("confirm_or_default", func(ctx context.Context, args json.RawMessage, caller Caller) (any, error) {
		var params struct {
			Prompt         string `json:"prompt"`
			TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
		}
		if err := json.Unmarshal(args, &params); err != nil || params.Prompt == "" {
			return nil, &OperationError{Message: "confirm_or_default requires a non-empty prompt"}
		}
		timeout := time.Duration(params.TimeoutSeconds) * time.Second

		res, err := caller.Call(ctx, "client.confirm", map[string]string{"prompt": params.Prompt}, timeout)
		if err != nil {
			if errors.Is(err, ErrCallTimeout) {
				return map[string]any{"approved": false, "fallback": true}, nil
			}
			return nil, err
		}
		return res, nil
	})

	m.Handle("notify", func(ctx context.Context, args json.RawMessage, caller Caller) (any, error) {
		if err := caller.Notify(ctx, "client.notice", args); err != nil {
			return nil, err
		}
		return map[string]bool{"ok": true}, nil
	})

	return m
}
