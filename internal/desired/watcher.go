package desired

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// debounceDefault is the default debounce interval for file events.
const debounceDefault = 200 * time.Millisecond

// pollDefault is the default polling interval when fsnotify is unavailable.
const pollDefault = 5 * time.Second

// ErrWatchSetup means fsnotify could not watch the document's directory.
// Callers fall back to polling.
var ErrWatchSetup = errors.New("desired: watch setup failed")

// Handler receives each delivered document.
type Handler func(origin string, props Properties)

// Origins passed to Handler.
const (
	OriginSnapshot = "snapshot"
	OriginUpdate   = "update"
)

// tracker remembers the last delivered content so touches and duplicate
// events do not produce notifications.
type tracker struct {
	path     string
	handler  Handler
	logger   *zap.Logger
	lastHash string
}

// deliver loads the document and hands it to the handler when its bytes
// changed. Unparseable documents are logged and skipped.
func (t *tracker) deliver(origin string) {
	props, hash, err := Load(t.path)
	if hash != "" && hash == t.lastHash {
		return
	}
	if hash != "" {
		t.lastHash = hash
	}
	if err != nil {
		t.logger.Error("skipping desired properties", zap.String("path", t.path), zap.Error(err))
		return
	}
	t.logger.Info("desired properties loaded", zap.String("path", t.path), zap.String("origin", origin), zap.String("hash", hash))
	t.handler(origin, props)
}

// FileWatcher delivers the desired-properties document at startup and on
// every change, using fsnotify on the parent directory so atomic renames
// by editors are seen.
type FileWatcher struct {
	tracker
	debounce time.Duration
}

// NewFileWatcher creates a watcher for the document at path.
func NewFileWatcher(path string, handler Handler, debounce time.Duration, logger *zap.Logger) *FileWatcher {
	if debounce <= 0 {
		debounce = debounceDefault
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileWatcher{
		tracker: tracker{
			path:    filepath.Clean(path),
			handler: handler,
			logger:  logger.Named("desired"),
		},
		debounce: debounce,
	}
}

// Run delivers the snapshot, then watches for changes. Blocks until ctx is
// cancelled. Setup failures are wrapped in ErrWatchSetup.
func (w *FileWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWatchSetup, err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrWatchSetup, filepath.Dir(w.path), err)
	}

	// Watch first, then read, so a write between the two is not missed.
	w.deliver(OriginSnapshot)

	// Single debounce timer, reset on each event. Initialized as stopped.
	debounceTimer := time.NewTimer(w.debounce)
	debounceTimer.Stop()
	defer debounceTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-debounceTimer.C:
			w.deliver(OriginUpdate)

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			if !debounceTimer.Stop() {
				select {
				case <-debounceTimer.C:
				default:
				}
			}
			debounceTimer.Reset(w.debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("file watcher error", zap.Error(err))
		}
	}
}

// PollWatcher delivers the document by polling. Used when fsnotify is
// unavailable (e.g., NFS) or the directory does not exist yet.
type PollWatcher struct {
	tracker
	interval time.Duration
}

// NewPollWatcher creates a polling watcher.
func NewPollWatcher(path string, handler Handler, interval time.Duration, logger *zap.Logger) *PollWatcher {
	if interval <= 0 {
		interval = pollDefault
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PollWatcher{
		tracker: tracker{
			path:    filepath.Clean(path),
			handler: handler,
			logger:  logger.Named("desired"),
		},
		interval: interval,
	}
}

// Run delivers the snapshot, then polls. Blocks until ctx is cancelled.
func (w *PollWatcher) Run(ctx context.Context) error {
	w.deliver(OriginSnapshot)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.deliver(OriginUpdate)
		}
	}
}
