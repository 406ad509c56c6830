// Package engine provides the sync engine that keeps completion state
// converged between the local vault and the remote task service.
//
// The engine owns the scheduling loop, drives change detection, executes
// queued operations with capped exponential backoff, and persists the journal
// after every cycle. Cycles never run concurrently with themselves: a running
// flag serializes the scheduled timer against on-demand triggers, and an
// overlapping trigger is coalesced into one follow-up cycle.
package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/notedock/tasklink/internal/detect"
	"github.com/notedock/tasklink/internal/journal"
	"github.com/notedock/tasklink/internal/remote"
	"github.com/notedock/tasklink/internal/taskid"
	"github.com/notedock/tasklink/internal/vault"
)

// backoffLadder is the fixed retry delay ladder, indexed by retry count and
// capped at the last rung.
var backoffLadder = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	1 * time.Hour,
	6 * time.Hour,
	24 * time.Hour,
}

// Category classifies a tracked task by its completion state. It decides
// whether the task is worth the cost of an API call at all.
type Category int

const (
	// BothOpen: neither side completed, nothing to do.
	BothOpen Category = iota
	// LocalCompletedRemoteOpen: push completion to the remote service.
	LocalCompletedRemoteOpen
	// LocalOpenRemoteCompleted: pull completion into the vault.
	LocalOpenRemoteCompleted
	// BothCompleted: converged; processed only when continued tracking is
	// configured, since further syncing is moot.
	BothCompleted
	// Deleted: orphaned entry; always skipped before any API call.
	Deleted
)

// String returns a human-readable category name.
func (c Category) String() string {
	switch c {
	case BothOpen:
		return "both-open"
	case LocalCompletedRemoteOpen:
		return "local-completed-remote-open"
	case LocalOpenRemoteCompleted:
		return "local-open-remote-completed"
	case BothCompleted:
		return "both-completed"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Classify derives the category of a journal entry.
func Classify(e *journal.Entry) Category {
	switch {
	case e.Orphaned:
		return Deleted
	case e.LocalCompleted && e.RemoteCompleted:
		return BothCompleted
	case e.LocalCompleted:
		return LocalCompletedRemoteOpen
	case e.RemoteCompleted:
		return LocalOpenRemoteCompleted
	default:
		return BothOpen
	}
}

// TimestampSource says which completion time is written into the vault when
// a remote completion is pulled local.
type TimestampSource int

const (
	// TimestampRemote uses the remote-reported completion time, falling back
	// to sync time when the service reported none.
	TimestampRemote TimestampSource = iota
	// TimestampSyncTime always uses the moment of sync.
	TimestampSyncTime
)

// Tiebreak says whose completion annotation wins when both sides completed
// independently before the pull could run.
type Tiebreak int

const (
	// TiebreakLocal leaves an already-completed local line untouched.
	TiebreakLocal Tiebreak = iota
	// TiebreakRemote still appends the remote completion annotation.
	TiebreakRemote
)

// Config holds engine configuration.
type Config struct {
	// SyncInterval is the scheduled cycle period.
	SyncInterval time.Duration

	// DeferredStartDelay is how long after Start the deferred initialization
	// (read-only path validation, first full sync) runs. Heavy work must
	// never sit on the host's startup critical path.
	DeferredStartDelay time.Duration

	// AppendCompletionDate appends a ✅ YYYY-MM-DD annotation when a remote
	// completion is pulled into the vault.
	AppendCompletionDate bool

	// CompletionTimestamp selects the annotation's source.
	CompletionTimestamp TimestampSource

	// TimestampTiebreak resolves simultaneous completion on both sides.
	TimestampTiebreak Tiebreak

	// TrackCompleted keeps processing tasks whose both sides are already
	// completed. Off by default: once converged permanently, syncing is moot.
	TrackCompleted bool

	// OrphanGracePeriod is how long a task's document may stay unresolvable
	// before the entry is soft-deleted.
	OrphanGracePeriod time.Duration

	// Logger for engine activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:       5 * time.Minute,
		DeferredStartDelay: 10 * time.Second,
		OrphanGracePeriod:  7 * 24 * time.Hour,
		Logger:             log.New(os.Stderr, "[engine] ", log.LstdFlags),
	}
}

// CycleSummary is the rate-limited, aggregate outcome of one sync cycle.
type CycleSummary struct {
	StartedAt        time.Time     `json:"started_at"`
	Duration         time.Duration `json:"duration"`
	NewTasks         int           `json:"new_tasks"`
	ItemsProcessed   int           `json:"items_processed"`
	OperationsRun    int           `json:"operations_run"`
	OperationsFailed int           `json:"operations_failed"`
	APICalls         int           `json:"api_calls"`
	Errors           int           `json:"errors"`
}

// Engine orchestrates sync cycles.
type Engine struct {
	config   *Config
	store    *journal.Store
	detector *detect.Detector
	docs     vault.DocumentStore
	remote   remote.Service
	canon    *taskid.Canonicalizer
	logger   *log.Logger

	// OnCycleComplete, when set, receives every cycle's summary. Used by the
	// dashboard; must not block.
	OnCycleComplete func(CycleSummary)

	running atomic.Bool // a cycle is in flight
	pending atomic.Bool // a trigger arrived during an in-flight cycle
	trigger chan struct{}

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// now is swappable for tests.
	now func() time.Time
}

// New creates an Engine. The store must be opened by the caller; Start loads
// it.
func New(config *Config, store *journal.Store, docs vault.DocumentStore, svc remote.Service, canon *taskid.Canonicalizer) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	if config.OrphanGracePeriod == 0 {
		config.OrphanGracePeriod = 7 * 24 * time.Hour
	}

	return &Engine{
		config:   config,
		store:    store,
		detector: detect.New(store, docs, svc, canon, config.Logger),
		docs:     docs,
		remote:   svc,
		canon:    canon,
		logger:   config.Logger,
		trigger:  make(chan struct{}, 1),
		now:      time.Now,
	}
}

// Start arms the scheduling loop.
//
// The fast path only loads the journal and starts the timer. Heavy work
// (read-only path validation and the first full sync) is deferred by
// DeferredStartDelay so it never blocks host startup.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return fmt.Errorf("engine already started")
	}
	e.started = true
	ctx, e.cancel = context.WithCancel(ctx)
	e.mu.Unlock()

	if err := e.store.Load(); err != nil {
		// Load self-heals internally; an error here is unexpected but still
		// not fatal to the loop.
		e.logger.Printf("Warning: journal load: %v", err)
	}

	e.wg.Add(1)
	go e.run(ctx)

	// Deferred initialization at a safe point after startup.
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		select {
		case <-ctx.Done():
			return
		case <-time.After(e.config.DeferredStartDelay):
		}

		// Log-only pass first: never mutate the journal before deferred
		// initialization has run.
		if err := e.ReconcilePaths(ctx, true); err != nil {
			e.logger.Printf("Warning: startup path validation: %v", err)
		}
		e.TriggerManualSync()
	}()

	e.logger.Printf("Engine started (interval %s)", e.config.SyncInterval)
	return nil
}

// Stop halts the scheduling loop and flushes the journal.
//
// In-flight remote calls complete or fail naturally; there is no hard
// cancellation beyond ceasing new cycle starts.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = false
	cancel := e.cancel
	e.mu.Unlock()

	cancel()
	e.wg.Wait()

	if err := e.store.Save(); err != nil {
		return fmt.Errorf("failed to flush journal on stop: %w", err)
	}

	e.logger.Println("Engine stopped")
	return nil
}

// TriggerManualSync requests a sync cycle. If a cycle is already in flight
// the request coalesces into a single follow-up cycle.
func (e *Engine) TriggerManualSync() {
	select {
	case e.trigger <- struct{}{}:
	default:
		e.pending.Store(true)
	}
}

// run is the scheduling loop. All cycles execute on this goroutine, which
// serializes them against each other.
func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.cycle(ctx)
		case <-e.trigger:
			e.cycle(ctx)
		}
	}
}

// cycle runs one PerformSync and re-arms a coalesced trigger if one arrived
// while the cycle was in flight.
func (e *Engine) cycle(ctx context.Context) {
	if err := e.PerformSync(ctx); err != nil {
		e.logger.Printf("Sync cycle failed: %v", err)
	}
	if e.pending.Swap(false) {
		e.TriggerManualSync()
	}
}

// PerformSync runs one full sync cycle:
// discovery → change detection → operations → retry of failed operations →
// complete. The cycle always reaches complete; per-task errors accumulate
// instead of aborting.
//
// Calling PerformSync while another cycle is in flight is a no-op that
// coalesces into the in-flight cycle's follow-up.
func (e *Engine) PerformSync(ctx context.Context) error {
	if !e.store.Loaded() {
		// Startup race: operating on an unloaded journal would be ambiguous.
		e.logger.Println("Journal not loaded yet, skipping cycle")
		return nil
	}

	if !e.running.CompareAndSwap(false, true) {
		e.pending.Store(true)
		return nil
	}
	defer e.running.Store(false)

	start := e.now()
	summary := CycleSummary{StartedAt: start}

	// Discovery + change detection.
	result, err := e.detector.DetectChanges(ctx)
	if err != nil {
		// Catastrophic for this cycle (cannot even enumerate documents);
		// the next scheduled cycle retries from scratch.
		return fmt.Errorf("change detection failed: %w", err)
	}

	e.absorbDetection(result, &summary)

	// Execute everything queued: fresh operations plus previously failed
	// ones that have cleared their backoff rung.
	e.executeOperations(ctx, e.store.PendingOperations(), "", &summary)

	// Path drift reconciliation, mutating now that we are past startup.
	if err := e.ReconcilePaths(ctx, false); err != nil {
		e.logger.Printf("Warning: path reconciliation: %v", err)
		summary.Errors++
	}

	e.finishCycle(start, &summary)
	return nil
}

// SyncSingleTask syncs exactly one task by remote id, scoped to its known
// document.
func (e *Engine) SyncSingleTask(ctx context.Context, id string) error {
	if !e.store.Loaded() {
		return fmt.Errorf("journal not loaded")
	}

	canonicalID := e.canon.Canonicalize(ctx, id)
	entry, ok := e.store.ByRemoteID(canonicalID)
	if !ok {
		return fmt.Errorf("no tracked task with id %s", canonicalID)
	}
	if entry.Orphaned {
		e.logger.Printf("Task %s is orphaned, skipping", canonicalID)
		return nil
	}

	return e.syncScoped(ctx, []string{entry.Location.Path}, canonicalID)
}

// SyncTaskedDocument syncs every linked task in one document. This is the
// document save hook's entry point.
func (e *Engine) SyncTaskedDocument(ctx context.Context, path string) error {
	if !e.store.Loaded() {
		return fmt.Errorf("journal not loaded")
	}
	return e.syncScoped(ctx, []string{path}, "")
}

// syncScoped runs a reduced cycle over the given documents, optionally
// restricted to one task id.
func (e *Engine) syncScoped(ctx context.Context, paths []string, onlyTask string) error {
	if !e.running.CompareAndSwap(false, true) {
		// A full cycle is in flight and will pick these changes up.
		e.pending.Store(true)
		return nil
	}
	defer e.running.Store(false)

	start := e.now()
	summary := CycleSummary{StartedAt: start}

	result, err := e.detector.DetectChangesIn(ctx, paths)
	if err != nil {
		return fmt.Errorf("change detection failed: %w", err)
	}

	e.absorbDetection(result, &summary)
	e.executeOperations(ctx, e.store.PendingOperations(), onlyTask, &summary)
	e.finishCycle(start, &summary)
	return nil
}

// absorbDetection upserts detection output into the journal and enqueues the
// produced operations.
func (e *Engine) absorbDetection(result *detect.Result, summary *CycleSummary) {
	// New entries must exist before operations reference them.
	for _, entry := range result.NewEntries {
		e.store.Upsert(entry)
	}
	for _, entry := range result.Modified {
		e.store.Upsert(entry)
	}
	for _, op := range result.Operations {
		e.store.AddOperation(op)
	}

	summary.NewTasks += len(result.NewEntries)
	summary.ItemsProcessed += len(result.NewEntries) + len(result.Modified)
	summary.APICalls += result.APICalls
	summary.Errors += len(result.Errors)
}

// executeOperations runs every due queued operation. Failures are recorded
// per-operation; one failed operation never blocks the others.
func (e *Engine) executeOperations(ctx context.Context, ops []*journal.Operation, onlyTask string, summary *CycleSummary) {
	now := e.now()

	for _, op := range ops {
		if onlyTask != "" && op.TaskID != onlyTask {
			continue
		}

		entry, ok := e.store.ByRemoteID(op.TaskID)
		if !ok {
			// Operation without an entry should not happen; drop it rather
			// than retry forever.
			e.logger.Printf("Warning: dropping operation %s for unknown task %s", op.ID, op.TaskID)
			e.store.CompleteOperation(op.ID)
			continue
		}

		switch Classify(entry) {
		case Deleted:
			// Known gone: skip before any API call and drop the operation.
			e.store.CompleteOperation(op.ID)
			continue
		case BothCompleted:
			if !e.config.TrackCompleted {
				e.store.CompleteOperation(op.ID)
				continue
			}
		}

		if op.Status == journal.OpFailed && !retryDue(op, now) {
			continue
		}

		if err := e.executeOperation(ctx, op, entry); err != nil {
			e.logger.Printf("Warning: operation %s (%s %s) failed: %v", op.ID, op.Direction, op.TaskID, err)
			e.store.FailOperation(op.ID, err)
			summary.OperationsFailed++
			summary.Errors++
		} else {
			e.store.CompleteOperation(op.ID)
			summary.OperationsRun++
		}
		if op.Direction == journal.LocalToRemote {
			summary.APICalls++
		}
	}
}

// retryDue reports whether a failed operation has cleared its backoff rung.
// The delay is indexed by retry count into the ladder, capped at the last
// rung, and measured from the operation's creation.
func retryDue(op *journal.Operation, now time.Time) bool {
	idx := op.RetryCount
	if idx >= len(backoffLadder) {
		idx = len(backoffLadder) - 1
	}
	return now.Sub(op.CreatedAt) >= backoffLadder[idx]
}

// executeOperation applies one directional update and converges the journal
// entry on success.
func (e *Engine) executeOperation(ctx context.Context, op *journal.Operation, entry *journal.Entry) error {
	switch op.Direction {
	case journal.LocalToRemote:
		if err := e.remote.CloseTask(ctx, op.TaskID); err != nil {
			return fmt.Errorf("close remote task: %w", err)
		}

	case journal.RemoteToLocal:
		if err := e.completeLocalLine(entry, op); err != nil {
			return err
		}

	default:
		return fmt.Errorf("unknown direction %d", op.Direction)
	}

	// Completion only ever converges to "completed".
	entry.LocalCompleted = true
	entry.RemoteCompleted = true
	entry.LastSyncedAt = e.now()
	e.store.Upsert(entry)
	return nil
}

// completeLocalLine rewrites the entry's task line to its completed marker,
// optionally appending a completion annotation, and refreshes the content
// hash.
func (e *Engine) completeLocalLine(entry *journal.Entry, op *journal.Operation) error {
	path := entry.Location.Path
	lines, err := e.docs.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read document %s: %w", path, err)
	}

	lineNo, err := e.locateTaskLine(lines, entry)
	if err != nil {
		return fmt.Errorf("document %s: %w", path, err)
	}

	alreadyCompleted := false
	if parsed, ok := vault.ParseTaskLine(lines[lineNo]); ok {
		alreadyCompleted = parsed.Completed
	}

	line := vault.CompleteLine(lines[lineNo])
	if e.config.AppendCompletionDate && (!alreadyCompleted || e.config.TimestampTiebreak == TiebreakRemote) {
		line = vault.AppendCompletionDate(line, e.completionTime(op))
	}
	if line == lines[lineNo] {
		// Already converged locally; nothing to write.
		return nil
	}
	lines[lineNo] = line

	if err := e.docs.WriteFile(path, lines); err != nil {
		return fmt.Errorf("write document %s: %w", path, err)
	}

	entry.Location.Line = lineNo
	entry.ContentHash = journal.HashLine(line)
	return nil
}

// locateTaskLine finds the entry's task line, preferring the recorded line
// number and falling back to a rescan of the document's link markers when
// the line has drifted.
func (e *Engine) locateTaskLine(lines []string, entry *journal.Entry) (int, error) {
	n := entry.Location.Line
	if n >= 0 && n < len(lines) {
		if _, ok := vault.ParseTaskLine(lines[n]); ok {
			// Confirm the line still belongs to this task.
			for _, linked := range vault.ScanLinkedTasks(lines) {
				if linked.Line == n && e.canonicalEquals(linked.RemoteID, entry.RemoteID) {
					return n, nil
				}
			}
		}
	}

	for _, linked := range vault.ScanLinkedTasks(lines) {
		if e.canonicalEquals(linked.RemoteID, entry.RemoteID) {
			return linked.Line, nil
		}
	}

	return 0, fmt.Errorf("task line for %s not found (line %d out of date)", entry.RemoteID, n)
}

// canonicalEquals compares a marker id (possibly legacy form) against a
// canonical id. Strictly cache-only: detection just canonicalized every
// discovered marker, so a live entry exists whenever the ids match, and line
// matching must never block on the translation endpoint.
func (e *Engine) canonicalEquals(markerID, canonicalID string) bool {
	if markerID == canonicalID {
		return true
	}
	return e.canon.CachedCanonical(markerID) == canonicalID
}

// completionTime picks the timestamp written into the vault for a pulled
// completion.
func (e *Engine) completionTime(op *journal.Operation) time.Time {
	if e.config.CompletionTimestamp == TimestampRemote && op.RemoteCompletedAt != nil {
		return *op.RemoteCompletedAt
	}
	return e.now()
}

// finishCycle persists stats and the journal, then notifies the listener.
func (e *Engine) finishCycle(start time.Time, summary *CycleSummary) {
	summary.Duration = e.now().Sub(start)

	e.store.UpdateStats(journal.Stats{
		LastRunAt:       start,
		LastRunDuration: summary.Duration,
		ItemsProcessed:  summary.ItemsProcessed,
		APICalls:        summary.APICalls,
		Errors:          summary.Errors,
	})

	if err := e.store.Save(); err != nil {
		// Never crash the loop over a save failure; the next cycle retries.
		e.logger.Printf("Warning: failed to save journal: %v", err)
	}

	e.logger.Printf("Cycle complete: %d new, %d processed, %d ops run, %d failed, %d errors (%s)",
		summary.NewTasks, summary.ItemsProcessed, summary.OperationsRun,
		summary.OperationsFailed, summary.Errors, summary.Duration.Round(time.Millisecond))

	if e.OnCycleComplete != nil {
		e.OnCycleComplete(*summary)
	}
}

// CreateLinkedTask creates a remote task and links it to a new sub-item
// marker under the given task line.
func (e *Engine) CreateLinkedTask(ctx context.Context, path string, lineNo int, fields remote.NewTaskFields) (*remote.Task, error) {
	lines, err := e.docs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read document %s: %w", path, err)
	}
	if lineNo < 0 || lineNo >= len(lines) {
		return nil, fmt.Errorf("line %d out of range in %s", lineNo, path)
	}
	task, ok := vault.ParseTaskLine(lines[lineNo])
	if !ok {
		return nil, fmt.Errorf("line %d in %s is not a task line", lineNo, path)
	}
	if fields.Content == "" {
		fields.Content = task.Text
	}

	created, err := e.remote.CreateTask(ctx, fields)
	if err != nil {
		return nil, fmt.Errorf("create remote task: %w", err)
	}

	marker := vault.RemoteMarkerLine(task.Indent, created.ID)
	updated := make([]string, 0, len(lines)+1)
	updated = append(updated, lines[:lineNo+1]...)
	updated = append(updated, marker)
	updated = append(updated, lines[lineNo+1:]...)

	if err := e.docs.WriteFile(path, updated); err != nil {
		return nil, fmt.Errorf("write document %s: %w", path, err)
	}

	anchorID, err := e.docs.AnchorID(path)
	if err != nil {
		anchorID = ""
	}

	now := e.now()
	e.store.Upsert(&journal.Entry{
		RemoteID:         created.ID,
		Location:         journal.Location{Path: path, Line: lineNo},
		AnchorID:         anchorID,
		LocalCompleted:   task.Completed,
		RemoteCompleted:  created.Completed,
		ContentHash:      journal.HashLine(lines[lineNo]),
		LastLocalCheckAt: now,
		LastRemoteCheckAt: now,
	})
	if err := e.store.Save(); err != nil {
		e.logger.Printf("Warning: failed to save journal: %v", err)
	}

	return created, nil
}

// Stats returns the most recent cycle's stats.
func (e *Engine) Stats() journal.Stats {
	return e.store.Stats()
}
