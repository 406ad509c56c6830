package vault

import (
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Dir is a DocumentStore over a directory tree of markdown files.
//
// The stable anchor identifier of a document is the `uid` field of its YAML
// frontmatter, which survives renames and moves within the vault.
type Dir struct {
	root   string
	logger *log.Logger
}

// frontmatter is the subset of document metadata the store cares about.
type frontmatter struct {
	UID string `yaml:"uid"`
}

// NewDir creates a document store rooted at the given directory.
//
// If logger is nil, a default logger writing to stderr is used.
func NewDir(root string, logger *log.Logger) (*Dir, error) {
	if root == "" {
		return nil, fmt.Errorf("vault root cannot be empty")
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[vault] ", log.LstdFlags)
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat vault root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("vault root %s is not a directory", root)
	}

	return &Dir{root: root, logger: logger}, nil
}

// Root returns the store's root directory.
func (d *Dir) Root() string {
	return d.root
}

// Rel converts an absolute path inside the vault to a store-relative path.
// Paths outside the vault are returned unchanged.
func (d *Dir) Rel(abs string) string {
	rel, err := filepath.Rel(d.root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return abs
	}
	return filepath.ToSlash(rel)
}

// ReadFile implements DocumentStore.ReadFile.
func (d *Dir) ReadFile(path string) ([]string, error) {
	data, err := os.ReadFile(filepath.Join(d.root, filepath.FromSlash(path)))
	if err != nil {
		return nil, fmt.Errorf("failed to read document %s: %w", path, err)
	}
	return strings.Split(string(data), "\n"), nil
}

// WriteFile implements DocumentStore.WriteFile.
func (d *Dir) WriteFile(path string, lines []string) error {
	abs := filepath.Join(d.root, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return fmt.Errorf("failed to create document directory: %w", err)
	}
	data := []byte(strings.Join(lines, "\n"))
	if err := os.WriteFile(abs, data, 0644); err != nil {
		return fmt.Errorf("failed to write document %s: %w", path, err)
	}
	return nil
}

// ListFiles implements DocumentStore.ListFiles. Only markdown documents are
// part of the store; hidden directories (.obsidian and friends) are skipped.
func (d *Dir) ListFiles() ([]string, error) {
	var files []string

	err := filepath.WalkDir(d.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			if strings.HasPrefix(entry.Name(), ".") && path != d.root {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(entry.Name(), ".md") {
			files = append(files, d.Rel(path))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list vault files: %w", err)
	}

	return files, nil
}

// AnchorID implements DocumentStore.AnchorID.
func (d *Dir) AnchorID(path string) (string, error) {
	lines, err := d.ReadFile(path)
	if err != nil {
		return "", err
	}
	return parseAnchorID(lines), nil
}

// ResolveByAnchorID implements DocumentStore.ResolveByAnchorID.
//
// This is a full-store scan; callers cache the result in the journal and only
// fall back here when a path goes stale.
func (d *Dir) ResolveByAnchorID(id string) (string, error) {
	if id == "" {
		return "", nil
	}

	files, err := d.ListFiles()
	if err != nil {
		return "", err
	}

	for _, path := range files {
		lines, err := d.ReadFile(path)
		if err != nil {
			d.logger.Printf("Warning: skipping unreadable document %s: %v", path, err)
			continue
		}
		if parseAnchorID(lines) == id {
			return path, nil
		}
	}

	return "", nil
}

// parseAnchorID extracts the uid field from a document's YAML frontmatter.
// Returns "" when there is no frontmatter or no uid.
func parseAnchorID(lines []string) string {
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return ""
	}

	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			end = i
			break
		}
	}
	if end < 0 {
		return ""
	}

	var fm frontmatter
	block := strings.Join(lines[1:end], "\n")
	if err := yaml.Unmarshal([]byte(block), &fm); err != nil {
		return ""
	}
	return fm.UID
}
