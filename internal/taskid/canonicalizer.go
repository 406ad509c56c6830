// Package taskid normalizes remote task identifiers across the two ID
// namespaces the remote service has used over its lifetime: the legacy
// numeric scheme and the current alphanumeric scheme.
//
// Translation is delegated to the remote service and memoized with a
// time-bounded cache. The cache lives in memory only; rebuilding it per
// process lifetime is the accepted cost.
package taskid

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// DefaultTTL is how long a translated ID stays cached before it must be
// re-resolved against the remote service.
const DefaultTTL = 24 * time.Hour

// Translator resolves a legacy numeric ID to its canonical form.
//
// The remote task service implements this via its id-translation endpoint.
type Translator interface {
	TranslateID(ctx context.Context, legacyID string) (string, error)
}

// cacheEntry is one memoized translation.
type cacheEntry struct {
	canonical string
	expiresAt time.Time
}

// Canonicalizer converts remote task IDs to canonical form.
//
// All methods are safe for concurrent use.
type Canonicalizer struct {
	translator Translator
	ttl        time.Duration
	logger     *log.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry

	// now is swappable for tests.
	now func() time.Time
}

// New creates a Canonicalizer backed by the given translator.
//
// If logger is nil, a default logger writing to stderr is used.
func New(translator Translator, logger *log.Logger) *Canonicalizer {
	if logger == nil {
		logger = log.New(os.Stderr, "[taskid] ", log.LstdFlags)
	}
	return &Canonicalizer{
		translator: translator,
		ttl:        DefaultTTL,
		logger:     logger,
		cache:      make(map[string]cacheEntry),
		now:        time.Now,
	}
}

// IsLegacyFormat reports whether id uses the legacy numeric scheme.
// Legacy IDs are purely numeric.
func IsLegacyFormat(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// IsCanonicalFormat reports whether id uses the current alphanumeric scheme.
// Canonical IDs contain at least one non-numeric character.
func IsCanonicalFormat(id string) bool {
	return id != "" && !IsLegacyFormat(id)
}

// Canonicalize resolves id to its canonical form.
//
// Already-canonical IDs are returned immediately without I/O. Legacy IDs are
// resolved via the cache or, on a miss, the remote translation endpoint.
//
// Translation failure is not fatal: the original id is returned unchanged and
// a warning is logged, so one untranslatable ID never fails a whole sync
// cycle.
func (c *Canonicalizer) Canonicalize(ctx context.Context, id string) string {
	if id == "" || IsCanonicalFormat(id) {
		return id
	}

	c.mu.Lock()
	if entry, ok := c.cache[id]; ok && c.now().Before(entry.expiresAt) {
		c.mu.Unlock()
		return entry.canonical
	}
	c.mu.Unlock()

	canonical, err := c.translator.TranslateID(ctx, id)
	if err != nil {
		c.logger.Printf("Warning: failed to translate legacy id %s: %v (using as-is)", id, err)
		return id
	}
	if canonical == "" {
		c.logger.Printf("Warning: empty translation for legacy id %s (using as-is)", id)
		return id
	}

	c.mu.Lock()
	c.cache[id] = cacheEntry{canonical: canonical, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()

	return canonical
}

// CanonicalizeBatch resolves a set of IDs, deduplicating the input.
// The returned map has one entry per distinct input id.
func (c *Canonicalizer) CanonicalizeBatch(ctx context.Context, ids []string) map[string]string {
	result := make(map[string]string, len(ids))
	for _, id := range ids {
		if _, done := result[id]; done {
			continue
		}
		result[id] = c.Canonicalize(ctx, id)
	}
	return result
}

// CachedCanonical resolves id to its canonical form using only the cache,
// never the remote service.
//
// Already-canonical IDs are returned immediately. A legacy ID without a live
// cache entry is returned unchanged; callers that can afford I/O should use
// Canonicalize instead.
func (c *Canonicalizer) CachedCanonical(id string) string {
	if id == "" || IsCanonicalFormat(id) {
		return id
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.cache[id]; ok && c.now().Before(entry.expiresAt) {
		return entry.canonical
	}
	return id
}

// LegacyFor performs a cache-only reverse lookup from a canonical ID back to
// its legacy numeric form.
//
// Full reverse translation is not derivable in general, so this never calls
// the remote service. If no cache entry maps to canonicalID the canonical ID
// is returned unchanged with a warning.
func (c *Canonicalizer) LegacyFor(canonicalID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for legacy, entry := range c.cache {
		if entry.canonical == canonicalID && now.Before(entry.expiresAt) {
			return legacy
		}
	}

	c.logger.Printf("Warning: no cached legacy id for %s", canonicalID)
	return canonicalID
}

// ClearCache drops all cached translations.
func (c *Canonicalizer) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]cacheEntry)
}

// purgeExpired removes expired entries. Called opportunistically; the cache
// is small enough that a full scan is fine.
func (c *Canonicalizer) purgeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for id, entry := range c.cache {
		if !now.Before(entry.expiresAt) {
			delete(c.cache, id)
		}
	}
}

// CacheSize returns the number of cached translations, expired entries
// included until the next purge.
func (c *Canonicalizer) CacheSize() int {
	c.purgeExpired()
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}

// String implements fmt.Stringer for debug output.
func (c *Canonicalizer) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fmt.Sprintf("taskid.Canonicalizer(cached=%d, ttl=%s)", len(c.cache), c.ttl)
}
