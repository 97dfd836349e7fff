package am

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/teranos/chainable/errors"
	"github.com/teranos/chainable/logger"
)

// DefaultDebounce collapses editor save bursts into one change notification
const DefaultDebounce = 300 * time.Millisecond

// ChangeCallback receives the set of watched files touched since the last notification
type ChangeCallback func(paths []string)

// ConfigWatcher watches config and chain files for changes and triggers callbacks.
// Parent directories are watched so atomic rename-on-save editors are seen.
type ConfigWatcher struct {
	watcher        *fsnotify.Watcher
	files          map[string]bool
	callbacks      []ChangeCallback
	mu             sync.Mutex
	pending        map[string]bool
	debounceTimer  *time.Timer
	debouncePeriod time.Duration
	done           chan struct{}
}

// NewConfigWatcher creates a watcher for the given files
func NewConfigWatcher(paths ...string) (*ConfigWatcher, error) {
	if len(paths) == 0 {
		return nil, errors.New("no files to watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fsnotify watcher")
	}

	cw := &ConfigWatcher{
		watcher:        watcher,
		files:          make(map[string]bool),
		pending:        make(map[string]bool),
		debouncePeriod: DefaultDebounce,
		done:           make(chan struct{}),
	}

	dirs := make(map[string]bool)
	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			watcher.Close()
			return nil, errors.Wrapf(err, "failed to resolve %s", path)
		}
		cw.files[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, errors.Wrapf(err, "failed to watch directory %s", dir)
		}
	}

	return cw, nil
}

// SetDebounce overrides the debounce period
func (cw *ConfigWatcher) SetDebounce(d time.Duration) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.debouncePeriod = d
}

// OnChange registers a callback to be called after watched files change
func (cw *ConfigWatcher) OnChange(callback ChangeCallback) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.callbacks = append(cw.callbacks, callback)
}

// Start begins watching until ctx is done or Stop is called
func (cw *ConfigWatcher) Start(ctx context.Context) {
	go cw.watchLoop(ctx)
}

// watchLoop monitors file system events
func (cw *ConfigWatcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			cw.Stop()
			return
		case <-cw.done:
			return

		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if isBackupFile(event.Name) {
				continue
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil || !cw.files[abs] {
				continue
			}

			logger.Debugw("Watcher detected change",
				"file", abs,
				"op", event.Op.String())
			cw.schedule(abs)

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			logger.Warnw("Watcher error", "error", err)
		}
	}
}

// schedule debounces rapid file changes and fires callbacks once
func (cw *ConfigWatcher) schedule(path string) {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.pending[path] = true
	if cw.debounceTimer != nil {
		cw.debounceTimer.Stop()
	}
	cw.debounceTimer = time.AfterFunc(cw.debouncePeriod, cw.fire)
}

func (cw *ConfigWatcher) fire() {
	cw.mu.Lock()
	paths := make([]string, 0, len(cw.pending))
	for path := range cw.pending {
		paths = append(paths, path)
	}
	cw.pending = make(map[string]bool)
	callbacks := make([]ChangeCallback, len(cw.callbacks))
	copy(callbacks, cw.callbacks)
	cw.mu.Unlock()

	for _, callback := range callbacks {
		callback(paths)
	}
}

// Stop stops watching for changes. Safe to call more than once.
func (cw *ConfigWatcher) Stop() error {
	cw.mu.Lock()
	select {
	case <-cw.done:
		cw.mu.Unlock()
		return nil
	default:
		close(cw.done)
	}
	if cw.debounceTimer != nil {
		cw.debounceTimer.Stop()
	}
	cw.mu.Unlock()
	return cw.watcher.Close()
}

// isBackupFile checks if the file is a backup written by SetValue
func isBackupFile(path string) bool {
	ext := filepath.Ext(path)
	return strings.HasPrefix(ext, ".back")
}
