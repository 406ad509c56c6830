// Package vault provides access to the local document store: a tree of
// markdown files in which tasks are plain-text checkbox lines.
//
// The sync engine only ever talks to the DocumentStore interface, so it can
// be tested with in-memory fakes and ported across hosts without touching
// engine logic.
package vault

// DocumentStore is the engine's view of the local document store.
//
// Paths are store-relative. Line slices round-trip: WriteFile(p, lines)
// followed by ReadFile(p) returns the same lines.
type DocumentStore interface {
	// ReadFile returns the document's lines.
	ReadFile(path string) ([]string, error)

	// WriteFile replaces the document's content. Read-modify-write against
	// the same path must be serialized by the caller.
	WriteFile(path string, lines []string) error

	// ListFiles enumerates every document path in the store.
	ListFiles() ([]string, error)

	// ResolveByAnchorID finds the document carrying the given stable anchor
	// identifier. Returns "" (no error) when no document matches.
	ResolveByAnchorID(id string) (string, error)

	// AnchorID returns the document's stable anchor identifier, or "" when
	// the document declares none.
	AnchorID(path string) (string, error)
}
