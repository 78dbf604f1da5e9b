// Package watch notices changes to repository metadata (HEAD, index,
// fetched refs) so health can be re-probed without polling.
package watch

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/skaphos/repofleet/internal/discovery"
	"github.com/skaphos/repofleet/internal/mailbox"
)

// watchedFiles are the metadata files whose changes mean the branch,
// working tree or upstream view may have moved.
var watchedFiles = map[string]struct{}{
	"HEAD":       {},
	"index":      {},
	"FETCH_HEAD": {},
	"ORIG_HEAD":  {},
}

// Watcher reports repository paths whose metadata changed. Notifications
// for a path may repeat; consumers should de-duplicate per tick.
type Watcher struct {
	watcher *fsnotify.Watcher
	changed *mailbox.Mailbox[string]
	logger  *zap.Logger

	mu      sync.Mutex
	byDir   map[string]string
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// New creates a Watcher.
func New(logger *zap.Logger) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	fw := &Watcher{
		watcher: w,
		changed: mailbox.New[string](),
		logger:  logger,
		byDir:   make(map[string]string),
		running: true,
		done:    make(chan struct{}),
	}
	fw.wg.Add(1)
	go fw.processEvents()
	return fw, nil
}

// Add watches the metadata directory of the repository at path.
func (w *Watcher) Add(path string) error {
	gitdir, err := discovery.GitDir(path)
	if err != nil {
		return err
	}
	gitdir = filepath.Clean(gitdir)

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return fmt.Errorf("watcher stopped")
	}
	if _, ok := w.byDir[gitdir]; ok {
		return nil
	}
	if err := w.watcher.Add(gitdir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", gitdir, err)
	}
	w.byDir[gitdir] = path
	return nil
}

// AddAll watches every path, returning the paths that could not be watched.
func (w *Watcher) AddAll(paths []string) []string {
	var failed []string
	for _, path := range paths {
		if err := w.Add(path); err != nil {
			w.logger.Debug("watch failed", zap.String("path", path), zap.Error(err))
			failed = append(failed, path)
		}
	}
	return failed
}

// Drain returns the repository paths changed since the last drain, each
// at most once, in first-seen order.
func (w *Watcher) Drain() []string {
	raw := w.changed.Drain()
	if len(raw) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, path := range raw {
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}
		out = append(out, path)
	}
	return out
}

// Ready is signalled when changes are waiting.
func (w *Watcher) Ready() <-chan struct{} {
	return w.changed.Ready()
}

// Close stops watching and blocks until the event loop has exited.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()
	w.changed.Close()
	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if path, ok := w.repoFor(event); ok {
				w.changed.Send(path)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) repoFor(event fsnotify.Event) (string, bool) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
		return "", false
	}
	if _, ok := watchedFiles[filepath.Base(event.Name)]; !ok {
		return "", false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	path, ok := w.byDir[filepath.Dir(event.Name)]
	return path, ok
}
