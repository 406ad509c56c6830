package engine

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/notedock/tasklink/internal/journal"
)

// ReconcilePaths walks every live journal entry and re-resolves its document
// against the vault. Resolution tries, in order: the document's anchor id,
// the last known path, then a filename match across the vault.
//
// In read-only mode (startup validation) drift is logged but nothing is
// written. Otherwise drifted paths are repaired in place, and entries whose
// document has been unresolvable for longer than the grace period are
// soft-deleted. Entries are never physically removed here.
func (e *Engine) ReconcilePaths(ctx context.Context, readOnly bool) error {
	now := e.now()
	entries := e.store.All()

	var drifted, missing, orphaned int
	for _, entry := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if entry.Orphaned {
			continue
		}

		path, ok := e.resolveEntryPath(entry)
		if ok {
			if path != entry.Location.Path {
				drifted++
				if readOnly {
					e.logger.Printf("Document for %s moved: %s -> %s (read-only, not updating)",
						entry.RemoteID, entry.Location.Path, path)
					continue
				}
				e.logger.Printf("Document for %s moved: %s -> %s", entry.RemoteID, entry.Location.Path, path)
				entry.Location.Path = path
			}
			if !readOnly {
				entry.LastLocalCheckAt = now
				e.store.Upsert(entry)
			}
			continue
		}

		missing++
		if readOnly {
			e.logger.Printf("Document for %s unresolvable: %s (read-only, not updating)",
				entry.RemoteID, entry.Location.Path)
			continue
		}

		// Grace period runs from the last time the document was actually
		// seen. A fresh unresolvable entry just waits.
		if entry.LastLocalCheckAt.IsZero() {
			entry.LastLocalCheckAt = now
			e.store.Upsert(entry)
			continue
		}
		if now.Sub(entry.LastLocalCheckAt) >= e.config.OrphanGracePeriod {
			e.logger.Printf("Document for %s unresolvable for %s, orphaning",
				entry.RemoteID, now.Sub(entry.LastLocalCheckAt).Round(time.Minute))
			e.store.MarkOrphaned(entry.RemoteID)
			orphaned++
		}
	}

	if drifted > 0 || missing > 0 {
		e.logger.Printf("Path reconciliation: %d drifted, %d unresolvable, %d orphaned (of %d entries)",
			drifted, missing, orphaned, len(entries))
	}
	return nil
}

// resolveEntryPath finds the current path of an entry's document.
func (e *Engine) resolveEntryPath(entry *journal.Entry) (string, bool) {
	// Anchor ids survive renames and moves, so they win.
	if entry.AnchorID != "" {
		if path, err := e.docs.ResolveByAnchorID(entry.AnchorID); err == nil && path != "" {
			return path, true
		}
	}

	// Last known path.
	if _, err := e.docs.ReadFile(entry.Location.Path); err == nil {
		return entry.Location.Path, true
	}

	// Same filename elsewhere in the vault. Only trustworthy when exactly
	// one candidate matches.
	files, err := e.docs.ListFiles()
	if err != nil {
		return "", false
	}
	base := strings.ToLower(filepath.Base(entry.Location.Path))
	var matches []string
	for _, f := range files {
		if strings.ToLower(filepath.Base(f)) == base {
			matches = append(matches, f)
		}
	}
	if len(matches) == 1 {
		return matches[0], true
	}
	return "", false
}
