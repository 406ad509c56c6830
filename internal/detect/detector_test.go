package detect

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notedock/tasklink/internal/journal"
	"github.com/notedock/tasklink/internal/remote"
	"github.com/notedock/tasklink/internal/taskid"
)

// memVault is an in-memory DocumentStore.
type memVault struct {
	files   map[string][]string
	anchors map[string]string // path -> anchor id
}

func newMemVault() *memVault {
	return &memVault{files: make(map[string][]string), anchors: make(map[string]string)}
}

func (m *memVault) ReadFile(path string) ([]string, error) {
	lines, ok := m.files[path]
	if !ok {
		return nil, fmt.Errorf("no such document %s", path)
	}
	out := make([]string, len(lines))
	copy(out, lines)
	return out, nil
}

func (m *memVault) WriteFile(path string, lines []string) error {
	out := make([]string, len(lines))
	copy(out, lines)
	m.files[path] = out
	return nil
}

func (m *memVault) ListFiles() ([]string, error) {
	var paths []string
	for path := range m.files {
		paths = append(paths, path)
	}
	return paths, nil
}

func (m *memVault) ResolveByAnchorID(id string) (string, error) {
	for path, anchor := range m.anchors {
		if anchor == id {
			return path, nil
		}
	}
	return "", nil
}

func (m *memVault) AnchorID(path string) (string, error) {
	return m.anchors[path], nil
}

// fakeRemote serves canned tasks and records which ids were fetched.
type fakeRemote struct {
	tasks   map[string]*remote.Task
	fetched []string
	err     error
}

func (f *fakeRemote) GetTask(ctx context.Context, id string) (*remote.Task, error) {
	f.fetched = append(f.fetched, id)
	if f.err != nil {
		return nil, f.err
	}
	task, ok := f.tasks[id]
	if !ok {
		return nil, fmt.Errorf("GET /tasks/%s: %w", id, remote.ErrNotFound)
	}
	clone := *task
	return &clone, nil
}

// identityTranslator canonicalizes nothing; used when all ids are canonical.
type identityTranslator struct{}

func (identityTranslator) TranslateID(ctx context.Context, legacyID string) (string, error) {
	return "", errors.New("no translation available")
}

// mappingTranslator resolves legacy ids from a fixed table.
type mappingTranslator map[string]string

func (m mappingTranslator) TranslateID(ctx context.Context, legacyID string) (string, error) {
	canonical, ok := m[legacyID]
	if !ok {
		return "", fmt.Errorf("unknown legacy id %s", legacyID)
	}
	return canonical, nil
}

func testLogger() *log.Logger {
	return log.New(os.Stderr, "[test] ", 0)
}

func newTestStore(t *testing.T) *journal.Store {
	t.Helper()
	store, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"), testLogger())
	require.NoError(t, err)
	require.NoError(t, store.Load())
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newDetector(t *testing.T, store *journal.Store, docs *memVault, rem *fakeRemote, translator taskid.Translator) *Detector {
	t.Helper()
	canon := taskid.New(translator, testLogger())
	return New(store, docs, rem, canon, testLogger())
}

func TestDetectChanges_NewLinkedTask(t *testing.T) {
	store := newTestStore(t)
	docs := newMemVault()
	docs.files["today.md"] = []string{
		"- [ ] Buy milk ^blk1",
		"    - [remote:: abc123]",
	}
	docs.anchors["today.md"] = "doc-today"
	rem := &fakeRemote{tasks: map[string]*remote.Task{
		"abc123": {ID: "abc123", Content: "Buy milk"},
	}}

	d := newDetector(t, store, docs, rem, identityTranslator{})
	result, err := d.DetectChanges(context.Background())
	require.NoError(t, err)

	require.Len(t, result.NewEntries, 1)
	entry := result.NewEntries[0]
	assert.Equal(t, "abc123", entry.RemoteID)
	assert.Equal(t, journal.Location{Path: "today.md", Line: 0}, entry.Location)
	assert.Equal(t, "doc-today", entry.AnchorID)
	assert.False(t, entry.LocalCompleted)
	assert.False(t, entry.RemoteCompleted)
	assert.Equal(t, journal.HashLine("- [ ] Buy milk ^blk1"), entry.ContentHash)

	assert.Empty(t, result.Operations, "both sides open: no operation")
	assert.Equal(t, 1, result.APICalls)
}

func TestDetectChanges_UnlinkedTasksIgnored(t *testing.T) {
	store := newTestStore(t)
	docs := newMemVault()
	docs.files["today.md"] = []string{
		"- [ ] No marker here",
		"- [x] Nor here",
	}
	rem := &fakeRemote{}

	d := newDetector(t, store, docs, rem, identityTranslator{})
	result, err := d.DetectChanges(context.Background())
	require.NoError(t, err)

	assert.Empty(t, result.NewEntries)
	assert.Empty(t, rem.fetched, "unlinked tasks must not cost API calls")
}

func TestDetectChanges_LocalCompletedRemoteOpen(t *testing.T) {
	store := newTestStore(t)
	docs := newMemVault()
	docs.files["today.md"] = []string{
		"- [x] Buy milk",
		"    - [remote:: abc123]",
	}
	rem := &fakeRemote{tasks: map[string]*remote.Task{
		"abc123": {ID: "abc123", Content: "Buy milk", Completed: false},
	}}

	d := newDetector(t, store, docs, rem, identityTranslator{})
	result, err := d.DetectChanges(context.Background())
	require.NoError(t, err)

	require.Len(t, result.Operations, 1)
	op := result.Operations[0]
	assert.Equal(t, "abc123", op.TaskID)
	assert.Equal(t, journal.LocalToRemote, op.Direction)
	assert.Equal(t, journal.OpPending, op.Status)
}

func TestDetectChanges_RemoteCompletedLocalOpen(t *testing.T) {
	store := newTestStore(t)
	docs := newMemVault()
	docs.files["today.md"] = []string{
		"- [ ] Buy milk",
		"    - [remote:: abc123]",
	}
	completedAt := time.Date(2026, 8, 24, 18, 0, 0, 0, time.UTC)
	rem := &fakeRemote{tasks: map[string]*remote.Task{
		"abc123": {ID: "abc123", Completed: true, CompletedAt: &completedAt},
	}}

	d := newDetector(t, store, docs, rem, identityTranslator{})
	result, err := d.DetectChanges(context.Background())
	require.NoError(t, err)

	require.Len(t, result.Operations, 1)
	op := result.Operations[0]
	assert.Equal(t, journal.RemoteToLocal, op.Direction)
	require.NotNil(t, op.RemoteCompletedAt)
	assert.True(t, op.RemoteCompletedAt.Equal(completedAt))
}

func TestDetectChanges_BothCompletedNoOperation(t *testing.T) {
	store := newTestStore(t)
	docs := newMemVault()
	docs.files["today.md"] = []string{
		"- [x] Buy milk",
		"    - [remote:: abc123]",
	}
	rem := &fakeRemote{tasks: map[string]*remote.Task{
		"abc123": {ID: "abc123", Completed: true},
	}}

	d := newDetector(t, store, docs, rem, identityTranslator{})
	result, err := d.DetectChanges(context.Background())
	require.NoError(t, err)

	assert.Empty(t, result.Operations)
}

func TestDetectChanges_NotFoundRemoteProducesNoOperation(t *testing.T) {
	store := newTestStore(t)
	docs := newMemVault()
	docs.files["today.md"] = []string{
		"- [x] Deleted upstream",
		"    - [remote:: gone999x]",
	}
	rem := &fakeRemote{tasks: map[string]*remote.Task{}}

	d := newDetector(t, store, docs, rem, identityTranslator{})
	result, err := d.DetectChanges(context.Background())
	require.NoError(t, err)

	assert.Empty(t, result.Operations, "404 means nothing to sync, not an error")
	assert.Empty(t, result.Errors)
}

func TestDetectChanges_TransientFetchErrorRecorded(t *testing.T) {
	store := newTestStore(t)
	docs := newMemVault()
	docs.files["today.md"] = []string{
		"- [x] Buy milk",
		"    - [remote:: abc123]",
	}
	rem := &fakeRemote{err: errors.New("HTTP 503")}

	d := newDetector(t, store, docs, rem, identityTranslator{})
	result, err := d.DetectChanges(context.Background())
	require.NoError(t, err, "per-task failures never abort the pass")

	require.Len(t, result.Errors, 1)
	assert.Empty(t, result.Operations)
}

func TestDetectChanges_LegacyIDCanonicalized(t *testing.T) {
	store := newTestStore(t)
	docs := newMemVault()
	docs.files["today.md"] = []string{
		"- [x] Buy milk",
		"    - [remote:: 123456]",
	}
	rem := &fakeRemote{tasks: map[string]*remote.Task{
		"6XWhhQmh2Qv29fXP": {ID: "6XWhhQmh2Qv29fXP", Completed: false},
	}}

	d := newDetector(t, store, docs, rem, mappingTranslator{"123456": "6XWhhQmh2Qv29fXP"})
	result, err := d.DetectChanges(context.Background())
	require.NoError(t, err)

	require.Len(t, result.NewEntries, 1)
	assert.Equal(t, "6XWhhQmh2Qv29fXP", result.NewEntries[0].RemoteID, "entries are keyed by canonical id")
	require.Len(t, result.Operations, 1)
	assert.Equal(t, "6XWhhQmh2Qv29fXP", result.Operations[0].TaskID)
	assert.Equal(t, []string{"6XWhhQmh2Qv29fXP"}, rem.fetched, "fetches use the canonical id")
}

func TestDetectChanges_DuplicateMarkersFetchOnce(t *testing.T) {
	store := newTestStore(t)
	docs := newMemVault()
	docs.files["a.md"] = []string{
		"- [ ] First reference",
		"    - [remote:: abc123]",
	}
	docs.files["b.md"] = []string{
		"- [ ] Second reference",
		"    - [remote:: abc123]",
	}
	rem := &fakeRemote{tasks: map[string]*remote.Task{
		"abc123": {ID: "abc123"},
	}}

	d := newDetector(t, store, docs, rem, identityTranslator{})
	result, err := d.DetectChanges(context.Background())
	require.NoError(t, err)

	assert.Len(t, rem.fetched, 1, "duplicate ids are deduplicated before fetching")
	assert.Len(t, result.NewEntries, 1)
}

func TestDetectChanges_OrphanedSkippedBeforeAPICall(t *testing.T) {
	store := newTestStore(t)
	store.Upsert(&journal.Entry{RemoteID: "abc123", Location: journal.Location{Path: "today.md"}})
	store.MarkOrphaned("abc123")

	docs := newMemVault()
	docs.files["today.md"] = []string{
		"- [x] Buy milk",
		"    - [remote:: abc123]",
	}
	rem := &fakeRemote{tasks: map[string]*remote.Task{
		"abc123": {ID: "abc123"},
	}}

	d := newDetector(t, store, docs, rem, identityTranslator{})
	result, err := d.DetectChanges(context.Background())
	require.NoError(t, err)

	assert.Empty(t, rem.fetched, "orphaned ids must never cost API calls")
	assert.Empty(t, result.Operations)
	assert.Empty(t, result.Modified)
}

func TestDetectChanges_ExistingEntryRefreshed(t *testing.T) {
	store := newTestStore(t)
	store.Upsert(&journal.Entry{
		RemoteID:    "abc123",
		Location:    journal.Location{Path: "old.md", Line: 9},
		ContentHash: journal.HashLine("- [ ] Old text"),
	})

	docs := newMemVault()
	docs.files["today.md"] = []string{
		"# Moved here",
		"- [ ] Buy oat milk",
		"    - [remote:: abc123]",
	}
	rem := &fakeRemote{tasks: map[string]*remote.Task{
		"abc123": {ID: "abc123"},
	}}

	d := newDetector(t, store, docs, rem, identityTranslator{})
	result, err := d.DetectChanges(context.Background())
	require.NoError(t, err)

	assert.Empty(t, result.NewEntries)
	require.Len(t, result.Modified, 1)
	entry := result.Modified[0]
	assert.Equal(t, journal.Location{Path: "today.md", Line: 1}, entry.Location)
	assert.Equal(t, journal.HashLine("- [ ] Buy oat milk"), entry.ContentHash)
	assert.False(t, entry.LastLocalCheckAt.IsZero())
	assert.False(t, entry.LastRemoteCheckAt.IsZero())
}

func TestDetectChangesIn_ScopedToGivenDocuments(t *testing.T) {
	store := newTestStore(t)
	docs := newMemVault()
	docs.files["in-scope.md"] = []string{
		"- [ ] Tracked",
		"    - [remote:: abc123]",
	}
	docs.files["out-of-scope.md"] = []string{
		"- [ ] Also tracked",
		"    - [remote:: def456]",
	}
	rem := &fakeRemote{tasks: map[string]*remote.Task{
		"abc123": {ID: "abc123"},
		"def456": {ID: "def456"},
	}}

	d := newDetector(t, store, docs, rem, identityTranslator{})
	result, err := d.DetectChangesIn(context.Background(), []string{"in-scope.md"})
	require.NoError(t, err)

	require.Len(t, result.NewEntries, 1)
	assert.Equal(t, "abc123", result.NewEntries[0].RemoteID)
	assert.Equal(t, []string{"abc123"}, rem.fetched)
}
