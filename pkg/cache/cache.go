// Package cache memoizes read-only tool results in the KV store.
//
// Cache key format: cache:{tool}:{sha256(canonical arguments JSON)}.
// Entries expire passively; writes never invalidate, so readers may observe
// up to one TTL of staleness. Errors are never cached, and a KV failure
// degrades to a miss rather than failing the request.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zoho-mcp/zoho-mcp-server/pkg/kv"
	"github.com/zoho-mcp/zoho-mcp-server/pkg/logger"
)

const keyPrefix = "cache:"

// Entry is a cached tool result.
type Entry struct {
	// Body is the JSON result exactly as produced by the handler, so a
	// cache hit is byte-identical to the original response.
	Body json.RawMessage `json:"body"`

	// ContentType records the body media type.
	ContentType string `json:"content_type"`
}

// Cache is a read-through response cache over the KV store.
// Safe for concurrent use; two tasks missing simultaneously may both invoke
// the upstream, which is acceptable for idempotent reads.
type Cache struct {
	store kv.Store
}

// New creates a response cache backed by the given KV store.
func New(store kv.Store) *Cache {
	return &Cache{store: store}
}

// Key returns the deterministic fingerprint for a tool invocation.
// encoding/json sorts map keys, so identical bindings hash identically
// regardless of argument order.
func Key(tool string, args map[string]any) (string, error) {
	canonical, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalise arguments: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return keyPrefix + tool + ":" + hex.EncodeToString(sum[:]), nil
}

// Get returns the cached entry for the invocation, or false on a miss.
// KV failures are logged and reported as misses.
func (c *Cache) Get(ctx context.Context, tool string, args map[string]any) (*Entry, bool) {
	key, err := Key(tool, args)
	if err != nil {
		logger.Warnf("Failed to build cache key for %s: %v", tool, err)
		return nil, false
	}

	raw, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			logger.Warnf("Cache read failed for %s: %v", tool, err)
		}
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		logger.Warnf("Discarding corrupt cache entry for %s: %v", tool, err)
		_ = c.store.Delete(ctx, key)
		return nil, false
	}
	return &entry, true
}

// Set stores a successful result with the tool-declared TTL.
// A non-positive TTL disables caching for the tool.
func (c *Cache) Set(ctx context.Context, tool string, args map[string]any, entry *Entry, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	key, err := Key(tool, args)
	if err != nil {
		logger.Warnf("Failed to build cache key for %s: %v", tool, err)
		return
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		logger.Warnf("Failed to encode cache entry for %s: %v", tool, err)
		return
	}
	if err := c.store.Set(ctx, key, string(raw), ttl); err != nil {
		logger.Warnf("Cache write failed for %s: %v", tool, err)
	}
}
