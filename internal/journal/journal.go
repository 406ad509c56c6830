// Package journal defines the durable record of tracked task-links and
// pending sync operations.
//
// The journal is the single source of truth for convergence state between the
// local vault and the remote task service. Entries are keyed by canonical
// remote ID and are never physically deleted outside an explicit reset:
// task-links whose backing document disappears are soft-deleted (orphaned)
// after a grace period instead.
package journal

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Direction says which way a sync operation propagates completion.
type Direction int

const (
	// LocalToRemote pushes a local completion to the remote service.
	LocalToRemote Direction = iota
	// RemoteToLocal pulls a remote completion into the local document.
	RemoteToLocal
)

// String returns the wire/storage form of the direction.
func (d Direction) String() string {
	switch d {
	case LocalToRemote:
		return "local_to_remote"
	case RemoteToLocal:
		return "remote_to_local"
	default:
		return "unknown"
	}
}

// ParseDirection parses the storage form produced by String.
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "local_to_remote":
		return LocalToRemote, nil
	case "remote_to_local":
		return RemoteToLocal, nil
	default:
		return 0, fmt.Errorf("unknown direction %q", s)
	}
}

// OpStatus is the lifecycle state of a pending operation.
type OpStatus int

const (
	// OpPending means the operation has not been attempted, or is queued for
	// its first attempt this cycle.
	OpPending OpStatus = iota
	// OpFailed means the last attempt failed; the operation stays queued and
	// is retried on the backoff ladder.
	OpFailed
)

// String returns the storage form of the status.
func (s OpStatus) String() string {
	switch s {
	case OpPending:
		return "pending"
	case OpFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ParseOpStatus parses the storage form produced by String.
func ParseOpStatus(s string) (OpStatus, error) {
	switch s {
	case "pending":
		return OpPending, nil
	case "failed":
		return OpFailed, nil
	default:
		return 0, fmt.Errorf("unknown operation status %q", s)
	}
}

// Location is a task line's last known position in the vault.
// The path may drift if files are renamed; AnchorID on the entry is the
// stable fallback.
type Location struct {
	Path string `json:"path"`
	Line int    `json:"line"`
}

// Entry is one tracked task-link between a vault task line and a remote task.
type Entry struct {
	// RemoteID is the canonical remote task ID. It is the entry's unique key
	// and is always stored in canonical form; callers canonicalize before
	// lookups.
	RemoteID string

	// Location is the current known position of the task line.
	Location Location

	// AnchorID is the stable per-document identifier used to re-locate the
	// file when Location.Path goes stale. Empty when the document carries no
	// anchor.
	AnchorID string

	LocalCompleted  bool
	RemoteCompleted bool

	// ContentHash fingerprints the task line's text so unrelated edits can be
	// detected without re-reading full content.
	ContentHash string

	LastSyncedAt      time.Time
	LastLocalCheckAt  time.Time
	LastRemoteCheckAt time.Time

	// Orphaned marks entries whose backing document has been unresolvable for
	// longer than the grace period. Orphaned entries are retained but excluded
	// from sync activity.
	Orphaned   bool
	OrphanedAt *time.Time
}

// Clone returns a deep copy of the entry.
func (e *Entry) Clone() *Entry {
	clone := *e
	if e.OrphanedAt != nil {
		t := *e.OrphanedAt
		clone.OrphanedAt = &t
	}
	return &clone
}

// Operation is one pending directional completion update.
type Operation struct {
	ID        string
	TaskID    string // canonical remote ID
	Direction Direction

	// RemoteCompletedAt carries the remote-reported completion time for
	// remote_to_local operations, when the service supplied one.
	RemoteCompletedAt *time.Time

	Status     OpStatus
	RetryCount int
	CreatedAt  time.Time
	LastError  string
}

// Stats are process-wide counters for the most recent sync run. They are
// overwritten per run, never accumulated.
type Stats struct {
	LastRunAt       time.Time
	LastRunDuration time.Duration
	ItemsProcessed  int
	APICalls        int
	Errors          int
}

// HashLine fingerprints a task line's text. The fingerprint only needs to be
// stable and cheap to compare, not cryptographically meaningful; a truncated
// SHA-256 keeps the journal compact.
func HashLine(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:8])
}
