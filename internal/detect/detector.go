// Package detect discovers drift between linked task lines in the vault and
// their remote counterparts.
//
// Only lines carrying a remote-link marker are tracked, which bounds every
// scan to the number of linked tasks rather than the size of the vault.
package detect

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/notedock/tasklink/internal/journal"
	"github.com/notedock/tasklink/internal/remote"
	"github.com/notedock/tasklink/internal/taskid"
	"github.com/notedock/tasklink/internal/vault"
)

// RemoteReader is the slice of the remote service the detector needs.
type RemoteReader interface {
	GetTask(ctx context.Context, id string) (*remote.Task, error)
}

// Result is one detection pass's output.
//
// NewEntries must be upserted into the journal before Operations referencing
// them are enqueued.
type Result struct {
	// NewEntries are linked tasks seen for the first time.
	NewEntries []*journal.Entry

	// Modified are existing entries whose observed state was refreshed
	// (completion flags, location, content hash, check timestamps).
	Modified []*journal.Entry

	// Operations are the directional updates required to converge local and
	// remote completion. At most one per (task, direction).
	Operations []*journal.Operation

	// APICalls counts remote fetches performed during the pass.
	APICalls int

	// Errors are per-task failures; the pass continues past them.
	Errors []error
}

// Detector scans the vault for linked tasks and compares their state against
// the journal and the remote service.
type Detector struct {
	store  *journal.Store
	docs   vault.DocumentStore
	remote RemoteReader
	canon  *taskid.Canonicalizer
	logger *log.Logger

	// now is swappable for tests.
	now func() time.Time
}

// New creates a Detector. If logger is nil, a default logger writing to
// stderr is used.
func New(store *journal.Store, docs vault.DocumentStore, reader RemoteReader, canon *taskid.Canonicalizer, logger *log.Logger) *Detector {
	if logger == nil {
		logger = log.New(os.Stderr, "[detect] ", log.LstdFlags)
	}
	return &Detector{
		store:  store,
		docs:   docs,
		remote: reader,
		canon:  canon,
		logger: logger,
		now:    time.Now,
	}
}

// discovered is one linked task line found in the vault.
type discovered struct {
	path     string
	anchorID string
	task     vault.LinkedTask
}

// remoteState caches one fetched remote task under both its original and
// canonical id. found is false for ids the service reported as not found.
type remoteState struct {
	task  *remote.Task
	found bool
}

// DetectChanges scans the whole store.
func (d *Detector) DetectChanges(ctx context.Context) (*Result, error) {
	files, err := d.docs.ListFiles()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate documents: %w", err)
	}
	return d.DetectChangesIn(ctx, files)
}

// DetectChangesIn scans only the given documents. The engine's
// single-document save hook uses this to keep save-triggered syncs cheap.
func (d *Detector) DetectChangesIn(ctx context.Context, paths []string) (*Result, error) {
	result := &Result{}

	// Pass 1: collect linked task lines.
	var found []discovered
	for _, path := range paths {
		lines, err := d.docs.ReadFile(path)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("document %s: %w", path, err))
			d.logger.Printf("Warning: failed to read %s: %v", path, err)
			continue
		}

		linked := vault.ScanLinkedTasks(lines)
		if len(linked) == 0 {
			continue
		}

		anchorID, err := d.docs.AnchorID(path)
		if err != nil {
			d.logger.Printf("Warning: failed to read anchor id of %s: %v", path, err)
			anchorID = ""
		}

		for _, task := range linked {
			found = append(found, discovered{path: path, anchorID: anchorID, task: task})
		}
	}

	if len(found) == 0 {
		return result, nil
	}

	// Pass 2: canonicalize all discovered ids in one batch.
	ids := make([]string, 0, len(found))
	for _, f := range found {
		ids = append(ids, f.task.RemoteID)
	}
	canonical := d.canon.CanonicalizeBatch(ctx, ids)

	// Pass 3: fetch remote state per id. Bulk listing omits completed items,
	// so the extra round-trips are the price of correctness for tasks that
	// are already completed remotely.
	states := d.fetchRemoteStates(ctx, found, canonical, result)

	// Pass 4: compare against the journal and emit entries and operations.
	seen := make(map[string]bool)
	for _, f := range found {
		canonicalID := canonical[f.task.RemoteID]
		if seen[canonicalID] {
			continue
		}
		seen[canonicalID] = true

		d.compare(f, canonicalID, states[canonicalID], result)
	}

	return result, nil
}

// fetchRemoteStates resolves remote completion state for every distinct
// discovered id, caching results under both the original and canonical id.
// Orphaned entries are skipped before any network call.
func (d *Detector) fetchRemoteStates(ctx context.Context, found []discovered, canonical map[string]string, result *Result) map[string]remoteState {
	states := make(map[string]remoteState)

	for _, f := range found {
		canonicalID := canonical[f.task.RemoteID]
		if _, done := states[canonicalID]; done {
			continue
		}
		if d.store.IsOrphaned(canonicalID) {
			continue
		}

		task, err := d.remote.GetTask(ctx, canonicalID)
		result.APICalls++

		switch {
		case err == nil:
			states[canonicalID] = remoteState{task: task, found: true}
			states[f.task.RemoteID] = remoteState{task: task, found: true}
		case errors.Is(err, remote.ErrNotFound):
			// Deleted on remote: nothing to sync for this id this cycle.
			d.logger.Printf("Remote task %s not found (skipping)", canonicalID)
			states[canonicalID] = remoteState{found: false}
			states[f.task.RemoteID] = remoteState{found: false}
		default:
			result.Errors = append(result.Errors, fmt.Errorf("fetch %s: %w", canonicalID, err))
			d.logger.Printf("Warning: failed to fetch remote task %s: %v", canonicalID, err)
		}
	}

	return states
}

// compare reconciles one discovered task against its journal entry and
// fetched remote state, emitting a new entry, a refreshed entry, and/or an
// operation.
func (d *Detector) compare(f discovered, canonicalID string, state remoteState, result *Result) {
	if d.store.IsOrphaned(canonicalID) {
		return
	}

	now := d.now()
	localCompleted := f.task.Completed
	hash := journal.HashLine(f.task.Raw)

	entry, exists := d.store.ByRemoteID(canonicalID)
	if !exists {
		entry = &journal.Entry{
			RemoteID:    canonicalID,
			ContentHash: hash,
		}
	}

	entry.Location = journal.Location{Path: f.path, Line: f.task.Line}
	if f.anchorID != "" {
		entry.AnchorID = f.anchorID
	}
	entry.LocalCompleted = localCompleted
	entry.ContentHash = hash
	entry.LastLocalCheckAt = now

	remoteCompleted := entry.RemoteCompleted
	var remoteCompletedAt *time.Time
	if state.found {
		remoteCompleted = state.task.Completed
		remoteCompletedAt = state.task.CompletedAt
		entry.RemoteCompleted = remoteCompleted
		entry.LastRemoteCheckAt = now
	}

	if exists {
		result.Modified = append(result.Modified, entry)
	} else {
		result.NewEntries = append(result.NewEntries, entry)
	}

	// A true mismatch yields exactly one directional operation. Operations
	// are only generated when the remote state was actually observed this
	// pass; a not-found or failed fetch produces none.
	if !state.found || localCompleted == remoteCompleted {
		return
	}

	direction := journal.LocalToRemote
	if remoteCompleted && !localCompleted {
		direction = journal.RemoteToLocal
	}

	result.Operations = append(result.Operations, &journal.Operation{
		ID:                uuid.NewString(),
		TaskID:            canonicalID,
		Direction:         direction,
		RemoteCompletedAt: remoteCompletedAt,
		Status:            journal.OpPending,
		CreatedAt:         now,
	})
}
