package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"kaioken/internal/extract"
	"kaioken/internal/logging"
)

// debounceWindow is how long a path's most recent write must have settled
// before Forget fires for it, so a flurry of rapid saves from an editor or
// a build tool collapses into one cache invalidation.
const debounceWindow = 500 * time.Millisecond

// FileWatcher invalidates the rule extractor's per-file "already known"
// cache when a workspace file changes on disk out from under it, adapted
// from the teacher's MangleWatcher: the debounce map and ticker are kept
// verbatim, the validate-and-repair leaf replaced with a single
// RuleExtractor.Forget call.
type FileWatcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	rules       *extract.RuleExtractor
	debounceMap map[string]time.Time
	stopCh      chan struct{}
	doneCh      chan struct{}
}

// NewFileWatcher builds a FileWatcher over root, ready to have its event
// loop started with Start.
func NewFileWatcher(root string, rules *extract.RuleExtractor) (*FileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(root); err != nil {
		logging.ToolsDebug("file watcher: initial watch of %s failed: %v", root, err)
	}
	return &FileWatcher{
		watcher:     w,
		rules:       rules,
		debounceMap: make(map[string]time.Time),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start runs the watcher's event loop in a goroutine until ctx is done or
// Stop is called.
func (w *FileWatcher) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop halts the event loop and closes the underlying fsnotify watcher.
func (w *FileWatcher) Stop() {
	close(w.stopCh)
	<-w.doneCh
	_ = w.watcher.Close()
}

func (w *FileWatcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.ToolsDebug("file watcher error: %v", err)
		case <-ticker.C:
			w.processDebounced()
		}
	}
}

func (w *FileWatcher) handleEvent(ev fsnotify.Event) {
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	w.mu.Lock()
	w.debounceMap[ev.Name] = time.Now()
	w.mu.Unlock()
}

func (w *FileWatcher) processDebounced() {
	w.mu.Lock()
	now := time.Now()
	settled := make([]string, 0, len(w.debounceMap))
	for path, seen := range w.debounceMap {
		if now.Sub(seen) >= debounceWindow {
			settled = append(settled, path)
			delete(w.debounceMap, path)
		}
	}
	w.mu.Unlock()

	for _, path := range settled {
		w.rules.Forget(path)
		logging.ToolsDebug("file watcher: invalidated rule-extractor cache for %s", path)
	}
}
