package classifier

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/m-mizutani/goerr/v2"

	"github.com/good-yellow-bee/carealert/internal/logging"
)

// WatcherOptions configures a Watcher.
type WatcherOptions struct {
	// Debounce coalesces bursts of writes (editors often write twice).
	Debounce time.Duration
	// OnReload is called after every reload attempt. err is nil on success.
	OnReload func(table *Table, err error)
}

// DefaultWatcherOptions returns default watcher options.
func DefaultWatcherOptions() *WatcherOptions {
	return &WatcherOptions{Debounce: 200 * time.Millisecond}
}

// Watcher reloads a classifier whenever its rules file changes on disk.
// A file that fails to load is reported and the previous table stays active.
type Watcher struct {
	path       string
	classifier *Classifier
	opts       *WatcherOptions
	watcher    *fsnotify.Watcher

	mu     sync.Mutex
	closed bool
}

// NewWatcher creates a watcher for path. The parent directory is watched so
// that atomic rename-over-write saves are seen.
func NewWatcher(path string, c *Classifier, opts *WatcherOptions) (*Watcher, error) {
	if opts == nil {
		opts = DefaultWatcherOptions()
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to resolve rules path", goerr.V("path", path))
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create watcher")
	}
	if err := fw.Add(filepath.Dir(absPath)); err != nil {
		fw.Close()
		return nil, goerr.Wrap(err, "failed to watch rules directory", goerr.V("path", absPath))
	}

	return &Watcher{
		path:       absPath,
		classifier: c,
		opts:       opts,
		watcher:    fw,
	}, nil
}

// Run processes file events until ctx is cancelled or Close is called.
func (w *Watcher) Run(ctx context.Context) error {
	logger := logging.From(ctx).With("rules_file", w.path)

	var (
		debounce *time.Timer
		fire     <-chan time.Time
	)
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(w.opts.Debounce)
			} else {
				debounce.Reset(w.opts.Debounce)
			}
			fire = debounce.C

		case <-fire:
			fire = nil
			w.reload(logger)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("rules watcher error", logging.ErrAttr(err))
		}
	}
}

func (w *Watcher) reload(logger *slog.Logger) {
	table, err := LoadTableFromFile(w.path)
	if err != nil {
		logger.Error("rules reload failed, keeping previous table", logging.ErrAttr(err))
	} else {
		w.classifier.Reload(table)
		logger.Info("rules reloaded", "rules", len(table.Rules), "modifiers", len(table.Modifiers))
	}
	if w.opts.OnReload != nil {
		w.opts.OnReload(table, err)
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.watcher.Close()
}
