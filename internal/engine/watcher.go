package engine

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow is how long a document must stay quiet after its last write
// before a save-triggered sync fires. Editors write in bursts; syncing every
// write would hammer the remote service.
const debounceWindow = 2 * time.Second

// VaultWatcher watches the vault for markdown writes and triggers
// single-document syncs through the engine. It uses fsnotify for
// cross-platform file system event monitoring, watching every directory
// under the vault root (fsnotify watches are not recursive).
type VaultWatcher struct {
	root     string
	engine   *Engine
	watcher  *fsnotify.Watcher
	logger   *log.Logger
	debounce time.Duration

	mu      sync.Mutex
	running bool
	pending map[string]*time.Timer
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewVaultWatcher creates a watcher over the vault root. The watcher must be
// started with Start() before it will trigger syncs.
func NewVaultWatcher(root string, engine *Engine, logger *log.Logger) (*VaultWatcher, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[watcher] ", log.LstdFlags)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &VaultWatcher{
		root:     root,
		engine:   engine,
		watcher:  watcher,
		logger:   logger,
		debounce: debounceWindow,
		pending:  make(map[string]*time.Timer),
	}, nil
}

// Start registers watches for the vault tree and begins processing events.
func (vw *VaultWatcher) Start(ctx context.Context) error {
	vw.mu.Lock()
	defer vw.mu.Unlock()

	if vw.running {
		return fmt.Errorf("watcher already running")
	}

	if err := vw.addTree(vw.root); err != nil {
		return err
	}

	ctx, vw.cancel = context.WithCancel(ctx)
	vw.running = true
	vw.wg.Add(1)
	go vw.processEvents(ctx)

	vw.logger.Printf("Watching vault %s", vw.root)
	return nil
}

// Stop stops watching and waits for the event loop to exit. Pending
// debounced syncs are dropped; the next scheduled cycle covers them.
func (vw *VaultWatcher) Stop() error {
	vw.mu.Lock()
	if !vw.running {
		vw.mu.Unlock()
		return nil
	}
	vw.running = false
	for path, timer := range vw.pending {
		timer.Stop()
		delete(vw.pending, path)
	}
	cancel := vw.cancel
	vw.mu.Unlock()

	cancel()
	if err := vw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	vw.wg.Wait()
	return nil
}

// addTree registers a watch on dir and every directory below it, skipping
// hidden directories.
func (vw *VaultWatcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if name := d.Name(); path != dir && strings.HasPrefix(name, ".") {
			return filepath.SkipDir
		}
		if err := vw.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

// processEvents is the main event loop converting fsnotify events into
// debounced document syncs.
func (vw *VaultWatcher) processEvents(ctx context.Context) {
	defer vw.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-vw.watcher.Events:
			if !ok {
				return
			}
			vw.handleEvent(ctx, event)

		case err, ok := <-vw.watcher.Errors:
			if !ok {
				return
			}
			vw.logger.Printf("Warning: watch error: %v", err)
		}
	}
}

func (vw *VaultWatcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	// New directories need their own watch.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !strings.HasPrefix(filepath.Base(event.Name), ".") {
				if err := vw.addTree(event.Name); err != nil {
					vw.logger.Printf("Warning: failed to watch new directory %s: %v", event.Name, err)
				}
			}
			return
		}
	}

	if !strings.HasSuffix(event.Name, ".md") {
		return
	}

	switch {
	case event.Has(fsnotify.Write), event.Has(fsnotify.Create):
		vw.scheduleSync(ctx, event.Name)
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		// Deletes and renames are path drift, handled by the next cycle's
		// reconciliation pass rather than an immediate sync.
	}
}

// scheduleSync (re)arms the debounce timer for a document. Repeated writes
// within the window collapse into one sync.
func (vw *VaultWatcher) scheduleSync(ctx context.Context, path string) {
	rel, err := filepath.Rel(vw.root, path)
	if err != nil {
		rel = path
	}

	vw.mu.Lock()
	defer vw.mu.Unlock()
	if !vw.running {
		return
	}

	if timer, ok := vw.pending[rel]; ok {
		timer.Reset(vw.debounce)
		return
	}

	vw.pending[rel] = time.AfterFunc(vw.debounce, func() {
		vw.mu.Lock()
		delete(vw.pending, rel)
		vw.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		if err := vw.engine.SyncTaskedDocument(ctx, rel); err != nil {
			vw.logger.Printf("Warning: save-triggered sync of %s failed: %v", rel, err)
		}
	})
}

// IsRunning returns true if the watcher is currently running.
func (vw *VaultWatcher) IsRunning() bool {
	vw.mu.Lock()
	defer vw.mu.Unlock()
	return vw.running
}
