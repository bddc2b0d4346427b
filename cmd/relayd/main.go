// Command relayd runs the relay server: a session-scoped duplex RPC front
// door over HTTP, serving a small built-in operation catalog.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/relaykit/relay/cache"
	"github.com/relaykit/relay/cache/memorycache"
	"github.com/relaykit/relay/cache/rediscache"
	"github.com/relaykit/relay/service"
	"github.com/relaykit/relay/streaminghttp"
)

type config struct {
	// ListenAddr like ":8080". ENV: LISTEN_ADDR
	ListenAddr string `env:"LISTEN_ADDR,default=:8080"`
	// Endpoint is the rooted path serving the relay protocol. ENV: RPC_ENDPOINT
	Endpoint string `env:"RPC_ENDPOINT,default=/rpc"`
	// LogLevel is one of debug, info, warn, error. ENV: LOG_LEVEL
	LogLevel string `env:"LOG_LEVEL,default=info"`

	// CacheBackend selects "memory" or "redis". ENV: CACHE_BACKEND
	CacheBackend string `env:"CACHE_BACKEND,default=memory"`
	// CacheMaxItems bounds the memory backend. ENV: CACHE_MAX_ITEMS
	CacheMaxItems int `env:"CACHE_MAX_ITEMS,default=4096"`

	// RateLimit is requests per window per client address. ENV: RATE_LIMIT
	RateLimit int `env:"RATE_LIMIT,default=120"`
	// RateWindow is the fixed window length. ENV: RATE_WINDOW
	RateWindow time.Duration `env:"RATE_WINDOW,default=1m"`
	// RateOverridesFile optionally points at a hot-reloaded JSON file of
	// per-address limits. ENV: RATE_LIMIT_OVERRIDES_FILE
	RateOverridesFile string `env:"RATE_LIMIT_OVERRIDES_FILE"`

	// IdleThreshold is how long a session may sit idle before the reaper
	// terminates it. ENV: SESSION_IDLE_THRESHOLD
	IdleThreshold time.Duration `env:"SESSION_IDLE_THRESHOLD,default=30m"`
	// ReapInterval is the reaper's pass interval. ENV: REAP_INTERVAL
	ReapInterval time.Duration `env:"REAP_INTERVAL,default=30s"`

	// ShutdownGrace bounds graceful shutdown. ENV: SHUTDOWN_GRACE
	ShutdownGrace time.Duration `env:"SHUTDOWN_GRACE,default=10s"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var cfg config
	if err := envdecode.Decode(&cfg); err != nil {
		return fmt.Errorf("decode configuration: %w", err)
	}

	log := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := newStore(cfg)
	if err != nil {
		return fmt.Errorf("build cache store: %w", err)
	}
	defer store.Close()

	loader := cache.NewLoader(store)
	svc := service.NewExampleMux(service.ClientInfo{Name: "relayd", Version: "0.1.0"}, loader, resolveLocal)

	opts := []streaminghttp.Option{
		streaminghttp.WithLogger(log),
		streaminghttp.WithRateLimit(cfg.RateLimit, cfg.RateWindow),
		streaminghttp.WithIdleThreshold(cfg.IdleThreshold),
		streaminghttp.WithReapInterval(cfg.ReapInterval),
	}
	if cfg.RateOverridesFile != "" {
		opts = append(opts, streaminghttp.WithRateLimitOverridesFile(cfg.RateOverridesFile))
	}

	h, err := streaminghttp.New(ctx, cfg.Endpoint, svc, store, opts...)
	if err != nil {
		return fmt.Errorf("build handler: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server.listen", slog.String("addr", cfg.ListenAddr), slog.String("endpoint", cfg.Endpoint))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("server.shutdown.start")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()

	h.Shutdown(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("server.shutdown.ok")
	return nil
}

func newStore(cfg config) (cache.Store, error) {
	switch strings.ToLower(cfg.CacheBackend) {
	case "", "memory":
		return memorycache.New(cfg.CacheMaxItems)
	case "redis":
		return rediscache.NewFromEnv()
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// resolveLocal is the built-in stand-in for a real upstream lookup. It
// answers with a timestamped document so cache behavior is observable.
func resolveLocal(ctx context.Context, query string) ([]byte, error) {
	return json.Marshal(map[string]any{
		"query":       query,
		"resolved_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
}
