package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store holds the journal in memory and persists it to an embedded SQLite
// database at a fixed path.
//
// The journal is always read, mutated, and written back within one sync
// cycle; the engine's running flag guarantees no two cycles touch it
// concurrently. The store's own mutex only protects against the engine's
// on-demand triggers racing the scheduled loop. It is NOT safe for access
// from multiple processes.
type Store struct {
	path   string
	logger *log.Logger

	mu      sync.Mutex
	db      *sql.DB
	loaded  bool
	entries map[string]*Entry
	ops     map[string]*Operation
	stats   Stats
}

// Open creates a Store persisting to the database at path.
//
// A missing or unreadable database is not an error: the store self-heals by
// recreating the file (corrupt data is moved aside first) or, failing even
// that, by operating in memory until Save succeeds. The system re-discovers
// tasks rather than treating journal loss as fatal.
func Open(path string, logger *log.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("journal path cannot be empty")
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[journal] ", log.LstdFlags)
	}

	s := &Store{
		path:    path,
		logger:  logger,
		entries: make(map[string]*Entry),
		ops:     make(map[string]*Operation),
	}

	db, err := s.attach()
	if err != nil {
		// Corrupt database: move it aside and start fresh.
		logger.Printf("Warning: journal database unusable: %v (recreating)", err)
		if renameErr := os.Rename(path, path+".corrupt"); renameErr != nil && !os.IsNotExist(renameErr) {
			logger.Printf("Warning: could not move corrupt journal aside: %v", renameErr)
		}
		db, err = s.attach()
	}
	if err != nil {
		// Still unusable (e.g. unwritable directory). Operate in memory;
		// Save will keep reporting the failure and the engine retries it
		// each cycle.
		logger.Printf("Warning: journal persistence disabled: %v", err)
		db = nil
	}

	s.db = db
	return s, nil
}

// attach opens the database file and ensures the schema exists.
func (s *Store) attach() (*sql.DB, error) {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite3", "file:"+s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping journal database: %w", err)
	}

	// WAL for concurrent readers (status command while the daemon runs).
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS entries (
		remote_id TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		line INTEGER NOT NULL,
		anchor_id TEXT NOT NULL DEFAULT '',
		local_completed INTEGER NOT NULL DEFAULT 0,
		remote_completed INTEGER NOT NULL DEFAULT 0,
		content_hash TEXT NOT NULL DEFAULT '',
		last_synced_at TEXT,
		last_local_check_at TEXT,
		last_remote_check_at TEXT,
		orphaned INTEGER NOT NULL DEFAULT 0,
		orphaned_at TEXT
	);

	CREATE TABLE IF NOT EXISTS operations (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		direction TEXT NOT NULL,
		remote_completed_at TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		retry_count INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		last_error TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS stats (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		last_run_at TEXT,
		last_run_duration_ms INTEGER NOT NULL DEFAULT 0,
		items_processed INTEGER NOT NULL DEFAULT 0,
		api_calls INTEGER NOT NULL DEFAULT 0,
		errors INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_entries_orphaned ON entries(orphaned);
	CREATE INDEX IF NOT EXISTS idx_ops_task ON operations(task_id, direction);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize journal schema: %w", err)
	}

	return db, nil
}

// Close persists pending state and closes the database.
func (s *Store) Close() error {
	if err := s.Save(); err != nil {
		s.logger.Printf("Warning: failed to save journal on close: %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Printf("Warning: failed to checkpoint WAL: %v", err)
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return fmt.Errorf("failed to close journal database: %w", err)
	}
	return nil
}

// Load reads the full journal into memory.
//
// Load never fails on bad data: unreadable rows are skipped with a warning
// and an empty journal is a valid outcome. The store is marked loaded either
// way, which is what arms the engine's sync cycles.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]*Entry)
	s.ops = make(map[string]*Operation)
	s.stats = Stats{}
	s.loaded = true

	if s.db == nil {
		return nil
	}

	if err := s.loadEntries(); err != nil {
		s.logger.Printf("Warning: failed to load journal entries: %v (starting empty)", err)
		s.entries = make(map[string]*Entry)
	}
	if err := s.loadOperations(); err != nil {
		s.logger.Printf("Warning: failed to load journal operations: %v (starting empty)", err)
		s.ops = make(map[string]*Operation)
	}
	if err := s.loadStats(); err != nil {
		s.logger.Printf("Warning: failed to load journal stats: %v", err)
	}

	s.logger.Printf("Journal loaded: %d entries, %d pending operations", len(s.entries), len(s.ops))
	return nil
}

// Loaded reports whether Load has run. The engine skips cycles entirely
// until the journal is loaded.
func (s *Store) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

func (s *Store) loadEntries() error {
	rows, err := s.db.Query(`
		SELECT remote_id, path, line, anchor_id, local_completed, remote_completed,
		       content_hash, last_synced_at, last_local_check_at, last_remote_check_at,
		       orphaned, orphaned_at
		FROM entries`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e                          Entry
			localDone, remoteDone      int
			orphaned                   int
			synced, localChk, remoteChk sql.NullString
			orphanedAt                 sql.NullString
		)
		if err := rows.Scan(&e.RemoteID, &e.Location.Path, &e.Location.Line, &e.AnchorID,
			&localDone, &remoteDone, &e.ContentHash, &synced, &localChk, &remoteChk,
			&orphaned, &orphanedAt); err != nil {
			s.logger.Printf("Warning: skipping unreadable journal entry: %v", err)
			continue
		}
		e.LocalCompleted = localDone != 0
		e.RemoteCompleted = remoteDone != 0
		e.Orphaned = orphaned != 0
		e.LastSyncedAt = parseNullTime(synced)
		e.LastLocalCheckAt = parseNullTime(localChk)
		e.LastRemoteCheckAt = parseNullTime(remoteChk)
		if t := parseNullTime(orphanedAt); !t.IsZero() {
			e.OrphanedAt = &t
		}
		s.entries[e.RemoteID] = &e
	}
	return rows.Err()
}

func (s *Store) loadOperations() error {
	rows, err := s.db.Query(`
		SELECT id, task_id, direction, remote_completed_at, status, retry_count,
		       created_at, last_error
		FROM operations`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			op                 Operation
			direction, status  string
			remoteCompleted    sql.NullString
			createdAt          string
		)
		if err := rows.Scan(&op.ID, &op.TaskID, &direction, &remoteCompleted,
			&status, &op.RetryCount, &createdAt, &op.LastError); err != nil {
			s.logger.Printf("Warning: skipping unreadable journal operation: %v", err)
			continue
		}
		d, err := ParseDirection(direction)
		if err != nil {
			s.logger.Printf("Warning: skipping operation %s: %v", op.ID, err)
			continue
		}
		op.Direction = d
		st, err := ParseOpStatus(status)
		if err != nil {
			s.logger.Printf("Warning: skipping operation %s: %v", op.ID, err)
			continue
		}
		op.Status = st
		if t := parseNullTime(remoteCompleted); !t.IsZero() {
			op.RemoteCompletedAt = &t
		}
		op.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		s.ops[op.ID] = &op
	}
	return rows.Err()
}

func (s *Store) loadStats() error {
	row := s.db.QueryRow(`
		SELECT last_run_at, last_run_duration_ms, items_processed, api_calls, errors
		FROM stats WHERE id = 1`)

	var (
		lastRun    sql.NullString
		durationMs int64
	)
	err := row.Scan(&lastRun, &durationMs, &s.stats.ItemsProcessed, &s.stats.APICalls, &s.stats.Errors)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}
	s.stats.LastRunAt = parseNullTime(lastRun)
	s.stats.LastRunDuration = time.Duration(durationMs) * time.Millisecond
	return nil
}

// Save writes the in-memory journal back to the database in one transaction.
//
// Failures are returned, not fatal: the engine logs them and retries on the
// next cycle with the in-memory state intact.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		// Try to re-attach; the directory may have become writable.
		db, err := s.attach()
		if err != nil {
			return fmt.Errorf("journal persistence unavailable: %w", err)
		}
		s.db = db
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return fmt.Errorf("failed to begin journal transaction: %w", err)
	}
	defer tx.Rollback()

	// The journal is small (bounded by linked tasks, not vault size), so a
	// full rewrite per cycle stays cheap and keeps deletes trivial.
	if _, err := tx.Exec("DELETE FROM entries"); err != nil {
		return fmt.Errorf("failed to clear entries: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM operations"); err != nil {
		return fmt.Errorf("failed to clear operations: %w", err)
	}

	for _, e := range s.entries {
		var orphanedAt interface{}
		if e.OrphanedAt != nil {
			orphanedAt = e.OrphanedAt.Format(time.RFC3339Nano)
		}
		_, err := tx.Exec(`
			INSERT INTO entries (remote_id, path, line, anchor_id, local_completed,
				remote_completed, content_hash, last_synced_at, last_local_check_at,
				last_remote_check_at, orphaned, orphaned_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.RemoteID, e.Location.Path, e.Location.Line, e.AnchorID,
			boolToInt(e.LocalCompleted), boolToInt(e.RemoteCompleted), e.ContentHash,
			timeToNullString(e.LastSyncedAt), timeToNullString(e.LastLocalCheckAt),
			timeToNullString(e.LastRemoteCheckAt), boolToInt(e.Orphaned), orphanedAt)
		if err != nil {
			return fmt.Errorf("failed to write entry %s: %w", e.RemoteID, err)
		}
	}

	for _, op := range s.ops {
		var remoteCompleted interface{}
		if op.RemoteCompletedAt != nil {
			remoteCompleted = op.RemoteCompletedAt.Format(time.RFC3339Nano)
		}
		_, err := tx.Exec(`
			INSERT INTO operations (id, task_id, direction, remote_completed_at,
				status, retry_count, created_at, last_error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			op.ID, op.TaskID, op.Direction.String(), remoteCompleted,
			op.Status.String(), op.RetryCount, op.CreatedAt.Format(time.RFC3339Nano),
			op.LastError)
		if err != nil {
			return fmt.Errorf("failed to write operation %s: %w", op.ID, err)
		}
	}

	_, err = tx.Exec(`
		INSERT INTO stats (id, last_run_at, last_run_duration_ms, items_processed, api_calls, errors)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_run_at = excluded.last_run_at,
			last_run_duration_ms = excluded.last_run_duration_ms,
			items_processed = excluded.items_processed,
			api_calls = excluded.api_calls,
			errors = excluded.errors`,
		timeToNullString(s.stats.LastRunAt), s.stats.LastRunDuration.Milliseconds(),
		s.stats.ItemsProcessed, s.stats.APICalls, s.stats.Errors)
	if err != nil {
		return fmt.Errorf("failed to write stats: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit journal: %w", err)
	}
	return nil
}

// All returns a snapshot of every entry keyed by canonical remote ID.
func (s *Store) All() map[string]*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]*Entry, len(s.entries))
	for id, e := range s.entries {
		out[id] = e.Clone()
	}
	return out
}

// ByRemoteID looks up an entry. The id must already be canonical.
func (s *Store) ByRemoteID(id string) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	return e.Clone(), true
}

// Upsert inserts or replaces an entry.
func (s *Store) Upsert(e *Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.RemoteID] = e.Clone()
}

// MarkOrphaned soft-deletes an entry. The entry is retained but excluded
// from further sync activity. Idempotent: re-marking keeps the original
// orphan timestamp.
func (s *Store) MarkOrphaned(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || e.Orphaned {
		return
	}
	now := time.Now()
	e.Orphaned = true
	e.OrphanedAt = &now
}

// IsOrphaned reports whether the entry exists and is orphaned.
func (s *Store) IsOrphaned(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	return ok && e.Orphaned
}

// EntryCount returns the number of tracked entries (orphaned included).
func (s *Store) EntryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// PendingOperations returns all queued operations, oldest first.
func (s *Store) PendingOperations() []*Operation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Operation, 0, len(s.ops))
	for _, op := range s.ops {
		clone := *op
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// AddOperation queues an operation. At most one operation per
// (taskID, direction) pair is meaningful, so duplicates coalesce into the
// already-queued operation and the new one is dropped.
func (s *Store) AddOperation(op *Operation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.ops {
		if existing.TaskID == op.TaskID && existing.Direction == op.Direction {
			return
		}
	}
	clone := *op
	s.ops[op.ID] = &clone
}

// CompleteOperation removes a successfully executed operation.
func (s *Store) CompleteOperation(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ops, id)
}

// FailOperation records a failed attempt: the operation stays queued with an
// incremented retry count and the error message.
func (s *Store) FailOperation(id string, opErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.ops[id]
	if !ok {
		return
	}
	op.Status = OpFailed
	op.RetryCount++
	if opErr != nil {
		op.LastError = opErr.Error()
	}
}

// Stats returns the most recent run's stats.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// UpdateStats overwrites the run stats. Stats are per-run, not cumulative.
func (s *Store) UpdateStats(stats Stats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = stats
}

// Reset drops every entry and operation. This is the only path that
// physically deletes entries; normal operation only ever orphans them.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*Entry)
	s.ops = make(map[string]*Operation)
	s.stats = Stats{}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// timeToNullString converts a time to RFC3339 text, or NULL for the zero time.
func timeToNullString(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func parseNullTime(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return time.Time{}
	}
	return t
}
