package confloader

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// defaultSettle is how long the watcher waits for a burst of events on the
// file to end before notifying.
const defaultSettle = 100 * time.Millisecond

// Watcher reports changes of one configuration file.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	settle  time.Duration
	logger  *slog.Logger

	mu        sync.RWMutex
	callbacks []func(path string)
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatcherLogger sets the logger for the watcher.
func WithWatcherLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// WithSettle sets the quiet time after the last event before callbacks run.
func WithSettle(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.settle = d
	}
}

// NewWatcher watches path. The parent directory is watched so editors that
// replace the file by rename are noticed.
func NewWatcher(path string, opts ...WatcherOption) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		path:    filepath.Clean(path),
		watcher: fw,
		settle:  defaultSettle,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		return nil, err
	}
	return w, nil
}

// OnChange registers a callback run after the file changed.
func (w *Watcher) OnChange(callback func(path string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Run delivers change notifications until ctx is done, then releases the
// underlying watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	settle := time.NewTimer(w.settle)
	settle.Stop()
	defer settle.Stop()

	w.logger.Debug("watching configuration file", "path", w.path)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				settle.Reset(w.settle)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("configuration watcher error", "error", err)
		case <-settle.C:
			w.logger.Info("configuration file changed", "path", w.path)
			w.notify()
		case <-ctx.Done():
			return nil
		}
	}
}

func (w *Watcher) notify() {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, cb := range w.callbacks {
		cb(w.path)
	}
}
