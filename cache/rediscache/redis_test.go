package rediscache

import (
	"testing"

	"github.com/joeshaw/envdecode"
)

func TestConfigDecodesFromEnvironment(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis.internal:6380")
	t.Setenv("CACHE_KEY_PREFIX", "relay:test:")

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if cfg.RedisAddr != "redis.internal:6380" {
		t.Fatalf("RedisAddr = %q", cfg.RedisAddr)
	}
	if cfg.KeyPrefix != "relay:test:" {
		t.Fatalf("KeyPrefix = %q", cfg.KeyPrefix)
	}
}

func TestConfigDefaultsApplyWhenEnvUnset(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("CACHE_KEY_PREFIX", "")

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Fatalf("RedisAddr default = %q", cfg.RedisAddr)
	}
	if cfg.KeyPrefix != "relay:cache:" {
		t.Fatalf("KeyPrefix default = %q", cfg.KeyPrefix)
	}
}
