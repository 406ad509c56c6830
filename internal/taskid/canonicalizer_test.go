package taskid

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTranslator maps legacy IDs to canonical IDs and counts calls.
type fakeTranslator struct {
	mapping map[string]string
	calls   int
	err     error
}

func (f *fakeTranslator) TranslateID(ctx context.Context, legacyID string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	canonical, ok := f.mapping[legacyID]
	if !ok {
		return "", fmt.Errorf("unknown legacy id %s", legacyID)
	}
	return canonical, nil
}

func testLogger() *log.Logger {
	return log.New(os.Stderr, "[test] ", 0)
}

func TestIsLegacyFormat(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"123456", true},
		{"0", true},
		{"6XWhhQmh2Qv29fXP", false},
		{"12a34", false},
		{"", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, IsLegacyFormat(tt.id), "IsLegacyFormat(%q)", tt.id)
		if tt.id != "" {
			assert.Equal(t, !tt.want, IsCanonicalFormat(tt.id), "IsCanonicalFormat(%q)", tt.id)
		}
	}
}

func TestCanonicalize_AlreadyCanonical(t *testing.T) {
	translator := &fakeTranslator{}
	c := New(translator, testLogger())

	got := c.Canonicalize(context.Background(), "6XWhhQmh2Qv29fXP")

	assert.Equal(t, "6XWhhQmh2Qv29fXP", got)
	assert.Zero(t, translator.calls, "canonical ids must not hit the translator")
}

func TestCanonicalize_LegacyHitsTranslatorOnce(t *testing.T) {
	translator := &fakeTranslator{mapping: map[string]string{"123456": "6XWhhQmh2Qv29fXP"}}
	c := New(translator, testLogger())

	got := c.Canonicalize(context.Background(), "123456")
	require.Equal(t, "6XWhhQmh2Qv29fXP", got)

	// Second call is served from cache.
	got = c.Canonicalize(context.Background(), "123456")
	assert.Equal(t, "6XWhhQmh2Qv29fXP", got)
	assert.Equal(t, 1, translator.calls)
}

func TestCanonicalize_TranslationFailureFallsBack(t *testing.T) {
	translator := &fakeTranslator{err: errors.New("translation endpoint unavailable")}
	c := New(translator, testLogger())

	got := c.Canonicalize(context.Background(), "123456")

	assert.Equal(t, "123456", got, "failed translation must return the id unchanged")
	assert.Zero(t, c.CacheSize(), "failed translations must not be cached")
}

func TestCanonicalize_CacheExpiry(t *testing.T) {
	translator := &fakeTranslator{mapping: map[string]string{"42": "abc42"}}
	c := New(translator, testLogger())

	current := time.Now()
	c.now = func() time.Time { return current }

	require.Equal(t, "abc42", c.Canonicalize(context.Background(), "42"))
	require.Equal(t, 1, translator.calls)

	// Just before expiry: cache hit.
	current = current.Add(DefaultTTL - time.Minute)
	require.Equal(t, "abc42", c.Canonicalize(context.Background(), "42"))
	require.Equal(t, 1, translator.calls)

	// Past expiry: translator is consulted again.
	current = current.Add(2 * time.Minute)
	require.Equal(t, "abc42", c.Canonicalize(context.Background(), "42"))
	assert.Equal(t, 2, translator.calls)
}

func TestCanonicalizeBatch_Deduplicates(t *testing.T) {
	translator := &fakeTranslator{mapping: map[string]string{
		"111": "aaa111",
		"222": "bbb222",
	}}
	c := New(translator, testLogger())

	got := c.CanonicalizeBatch(context.Background(), []string{"111", "222", "111", "ccc333"})

	assert.Equal(t, map[string]string{
		"111":    "aaa111",
		"222":    "bbb222",
		"ccc333": "ccc333",
	}, got)
	assert.Equal(t, 2, translator.calls)
}

func TestLegacyFor(t *testing.T) {
	translator := &fakeTranslator{mapping: map[string]string{"123456": "6XWhhQmh2Qv29fXP"}}
	c := New(translator, testLogger())

	// Populate the cache through a forward translation.
	c.Canonicalize(context.Background(), "123456")

	assert.Equal(t, "123456", c.LegacyFor("6XWhhQmh2Qv29fXP"))

	// Unknown canonical id falls back to itself.
	assert.Equal(t, "zzz999", c.LegacyFor("zzz999"))
}

func TestClearCache(t *testing.T) {
	translator := &fakeTranslator{mapping: map[string]string{"7": "abc7"}}
	c := New(translator, testLogger())

	c.Canonicalize(context.Background(), "7")
	require.Equal(t, 1, c.CacheSize())

	c.ClearCache()
	assert.Zero(t, c.CacheSize())
	assert.Equal(t, "abc7", c.LegacyFor("abc7"), "cleared cache has no reverse entries")
}

func TestCachedCanonical_NeverCallsTranslator(t *testing.T) {
	translator := &fakeTranslator{mapping: map[string]string{"123456": "6XWhhQmh2Qv29fXP"}}
	c := New(translator, testLogger())

	// Miss: the legacy id comes back unchanged and no translation happens.
	assert.Equal(t, "123456", c.CachedCanonical("123456"))
	assert.Equal(t, 0, translator.calls)

	// Populate the cache through a forward translation, then hit it.
	c.Canonicalize(context.Background(), "123456")
	require.Equal(t, 1, translator.calls)
	assert.Equal(t, "6XWhhQmh2Qv29fXP", c.CachedCanonical("123456"))
	assert.Equal(t, 1, translator.calls)

	// Canonical ids pass straight through.
	assert.Equal(t, "6XWhhQmh2Qv29fXP", c.CachedCanonical("6XWhhQmh2Qv29fXP"))
	assert.Equal(t, 1, translator.calls)

	// Expired entries behave like misses, still without I/O.
	c.now = func() time.Time { return time.Now().Add(DefaultTTL + time.Minute) }
	assert.Equal(t, "123456", c.CachedCanonical("123456"))
	assert.Equal(t, 1, translator.calls)
}
