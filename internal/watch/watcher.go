// Package watch reports debounced batches of changed Go files.
package watch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Config configures a Watcher.
type Config struct {
	// Root is the directory watched recursively.
	Root string

	// Debounce is how long to collect changes before emitting a batch.
	Debounce time.Duration

	// Match filters repo-relative, slash-separated paths of .go files.
	// Nil accepts every file.
	Match func(rel string) bool

	Logger *slog.Logger
}

// Watcher watches a tree for .go file changes.
type Watcher struct {
	config  Config
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	pendingMu sync.Mutex
	pending   map[string]bool

	batches chan []string
}

// New creates a Watcher. Call Start to begin watching.
func New(config Config) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if config.Debounce <= 0 {
		config.Debounce = 100 * time.Millisecond
	}
	return &Watcher{
		config:  config,
		watcher: fsw,
		logger:  logger,
		pending: make(map[string]bool),
		batches: make(chan []string, 16),
	}, nil
}

// Batches returns the channel of changed paths, repo-relative and sorted.
// It is closed when the context passed to Start is done or the Watcher is
// closed.
func (w *Watcher) Batches() <-chan []string {
	return w.batches
}

// Start adds watches under Root and begins processing events.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addWatchesRecursive(w.config.Root); err != nil {
		return err
	}
	go w.processEvents(ctx)
	w.logger.Info("file watcher started", "root", w.config.Root, "debounce", w.config.Debounce)
	return nil
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func skipDir(base string) bool {
	return base == "vendor" || base == "testdata" || (strings.HasPrefix(base, ".") && base != ".")
}

func (w *Watcher) addWatchesRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && skipDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			w.logger.Warn("failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.batches)
	ticker := time.NewTicker(w.config.Debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "error", err)
		case <-ticker.C:
			if batch := w.takePending(); len(batch) > 0 {
				select {
				case w.batches <- batch:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (w *Watcher) handleFSEvent(event fsnotify.Event) {
	path := event.Name
	if !strings.HasSuffix(path, ".go") {
		if event.Has(fsnotify.Create) {
			if info, err := os.Stat(path); err == nil && info.IsDir() && !skipDir(filepath.Base(path)) {
				if err := w.addWatchesRecursive(path); err != nil {
					w.logger.Warn("failed to watch new directory", "path", path, "error", err)
				}
			}
		}
		return
	}

	rel, err := filepath.Rel(w.config.Root, path)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)
	if w.config.Match != nil && !w.config.Match(rel) {
		return
	}

	w.pendingMu.Lock()
	w.pending[rel] = true
	w.pendingMu.Unlock()
	w.logger.Debug("file change detected", "path", rel, "op", event.Op.String())
}

func (w *Watcher) takePending() []string {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	if len(w.pending) == 0 {
		return nil
	}
	batch := make([]string, 0, len(w.pending))
	for p := range w.pending {
		batch = append(batch, p)
	}
	w.pending = make(map[string]bool)
	sort.Strings(batch)
	return batch
}
