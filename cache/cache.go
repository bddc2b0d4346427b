// Package cache defines the TTL-based result cache consulted by collaborator
// operations. Entries are content-addressed by a deterministic function of
// operation inputs so repeated identical calls within TTL skip re-executing
// the expensive, externally rate-limited operation.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Item is one cache entry. The value is opaque to the core.
type Item struct {
	Data      []byte
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the entry is past its TTL. An expired entry must
// behave as a miss and be purged by the store.
func (it *Item) Expired(now time.Time) bool {
	return !it.ExpiresAt.IsZero() && !now.Before(it.ExpiresAt)
}

// Store is a key-value store with per-entry TTL. Get returns (nil, nil) on a
// miss, including a lookup past expiry. Implementations must be safe for
// concurrent use.
type Store interface {
	Get(ctx context.Context, key string) (*Item, error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Len(ctx context.Context) (int, error)
	Close() error
}

// Key derives a deterministic cache key from an operation name and its
// semantically relevant input. The input is normalized (case-folded,
// whitespace-collapsed) so trivially different spellings hit the same entry.
func Key(operation, input string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(input), " "))
	sum := sha256.Sum256([]byte(operation + "\x00" + normalized))
	return operation + ":" + hex.EncodeToString(sum[:])
}
