// Package rediscache provides a Redis-backed cache.Store. TTL expiry is
// delegated to Redis key expiry, so the reaper has nothing to sweep here.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
	"github.com/relaykit/relay/cache"
)

// Config for the Redis-backed cache. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: CACHE_KEY_PREFIX
	KeyPrefix string `env:"CACHE_KEY_PREFIX,default=relay:cache:"`
}

type Store struct {
	client    *redis.Client
	keyPrefix string
}

func New(cfg Config) (*Store, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "relay:cache:"
	}
	return &Store{client: cl, keyPrefix: prefix}, nil
}

// NewFromEnv builds a Store using envdecode to populate Config.
func NewFromEnv() (*Store, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode redis cache config: %w", err)
	}
	return New(cfg)
}

// record is the stored envelope; CreatedAt is kept so callers can see entry
// age even though Redis owns expiry.
type record struct {
	Data      []byte    `json:"d"`
	CreatedAt time.Time `json:"c"`
	ExpiresAt time.Time `json:"e,omitempty"`
}

func (s *Store) key(key string) string { return s.keyPrefix + key }

func (s *Store) Get(ctx context.Context, key string) (*cache.Item, error) {
	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode cache record: %w", err)
	}
	it := &cache.Item{Data: rec.Data, CreatedAt: rec.CreatedAt, ExpiresAt: rec.ExpiresAt}
	if it.Expired(time.Now()) {
		// Redis expiry lags by up to its sweep cycle; enforce the contract.
		_ = s.client.Del(ctx, s.key(key)).Err()
		return nil, nil
	}
	return it, nil
}

func (s *Store) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	now := time.Now()
	rec := record{Data: data, CreatedAt: now}
	if ttl > 0 {
		rec.ExpiresAt = now.Add(ttl)
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode cache record: %w", err)
	}
	if err := s.client.Set(ctx, s.key(key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *Store) Len(ctx context.Context) (int, error) {
	var cursor uint64
	count := 0
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.keyPrefix+"*", 512).Result()
		if err != nil {
			return 0, fmt.Errorf("redis scan: %w", err)
		}
		count += len(keys)
		if next == 0 {
			return count, nil
		}
		cursor = next
	}
}

func (s *Store) Close() error { return s.client.Close() }

var _ cache.Store = (*Store)(nil)
