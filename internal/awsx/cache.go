package awsx

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"
	"time"
)

const (
	defaultEntryTTL  = time.Hour
	credExpiryMargin = 5 * time.Minute
)

// ClientCache holds constructed service clients keyed by target identity
// so warm invocations skip credential and client construction. Entries
// are replaced, never mutated; Clear drops everything (test teardown).
type ClientCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	now     func() time.Time
}

type cacheEntry struct {
	client    any
	expiresAt time.Time
}

func NewClientCache() *ClientCache {
	return &ClientCache{
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// CacheKey builds the lookup key from client kind, region, an identity
// fingerprint (role ARN or profile) and a hash of any extra options.
// Secret material never enters the key.
func CacheKey(kind, region, identity string, extra any) string {
	if region == "" {
		region = "default"
	}
	if identity == "" {
		identity = "none"
	}
	parts := []string{kind, region, identity}
	if extra != nil {
		if raw, err := json.Marshal(extra); err == nil {
			sum := sha256.Sum256(raw)
			parts = append(parts, hex.EncodeToString(sum[:8]))
		}
	}
	return strings.Join(parts, "|")
}

// GetOrCreate returns the cached client for key when its expiry has not
// passed, otherwise invokes factory and replaces the entry. The factory
// reports the credential expiration; a zero time means the entry lives
// for the default TTL.
func (c *ClientCache) GetOrCreate(key string, factory func() (any, time.Time, error)) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if entry, ok := c.entries[key]; ok && now.Before(entry.expiresAt) {
		return entry.client, nil
	}

	client, credExpiry, err := factory()
	if err != nil {
		return nil, err
	}
	expiresAt := now.Add(defaultEntryTTL)
	if !credExpiry.IsZero() {
		expiresAt = credExpiry.Add(-credExpiryMargin)
	}
	c.entries[key] = cacheEntry{client: client, expiresAt: expiresAt}
	return client, nil
}

func (c *ClientCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}
