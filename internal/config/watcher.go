package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/fsnotify/fsnotify"

	"github.com/vyrodovalexey/rosterguard/internal/observability"
)

// DefaultDebounceDelay coalesces bursts of writes from editors.
const DefaultDebounceDelay = 100 * time.Millisecond

// ReloadFunc is called with each newly loaded configuration.
type ReloadFunc func(*Config)

// ErrorFunc is called when a reload fails. The previous configuration
// stays in effect.
type ErrorFunc func(error)

// Watcher reloads the configuration file when it changes.
type Watcher struct {
	path          string
	watcher       *fsnotify.Watcher
	onReload      ReloadFunc
	onError       ErrorFunc
	logger        observability.Logger
	debounceDelay time.Duration

	mu        sync.RWMutex
	current   *Config
	digest    uint64
	running   bool
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// WatcherOption is a functional option for Watcher.
type WatcherOption func(*Watcher)

// WithDebounceDelay sets the debounce delay for file changes.
func WithDebounceDelay(delay time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounceDelay = delay
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// WithErrorFunc sets the reload error callback.
func WithErrorFunc(fn ErrorFunc) WatcherOption {
	return func(w *Watcher) {
		w.onError = fn
	}
}

// NewWatcher creates a watcher for the file at path.
func NewWatcher(path string, onReload ReloadFunc, opts ...WatcherOption) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:          absPath,
		watcher:       fsWatcher,
		onReload:      onReload,
		debounceDelay: DefaultDebounceDelay,
		logger:        observability.NopLogger(),
		stopCh:        make(chan struct{}),
		stoppedCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start loads the file once and begins watching its directory. The
// initial load does not invoke the reload callback.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	cfg, digest, err := w.load()
	if err != nil {
		return err
	}

	// Editors replace files by rename, so the directory is watched.
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}

	w.mu.Lock()
	w.current = cfg
	w.digest = digest
	w.running = true
	w.mu.Unlock()

	w.logger.Info("started watching configuration file",
		observability.String("path", w.path),
	)

	go w.watch(ctx)
	return nil
}

// Stop stops watching. It is safe to call more than once.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.stoppedCh
	return w.watcher.Close()
}

// Current returns the last successfully loaded configuration.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// ForceReload reloads immediately and invokes the callback even when the
// file content is unchanged.
func (w *Watcher) ForceReload() error {
	cfg, digest, err := w.load()
	if err != nil {
		return err
	}
	w.apply(cfg, digest)
	return nil
}

func (w *Watcher) watch(ctx context.Context) {
	defer close(w.stoppedCh)

	var timer *time.Timer
	var debounceCh <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("config watcher stopped due to context cancellation")
			return

		case <-w.stopCh:
			w.logger.Info("config watcher stopped")
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("config file changed",
				observability.String("path", event.Name),
				observability.String("op", event.Op.String()),
			)
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounceDelay)
			debounceCh = timer.C

		case <-debounceCh:
			debounceCh = nil
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.fail("config watcher error", err)
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}

func (w *Watcher) reload() {
	cfg, digest, err := w.load()
	if err != nil {
		w.fail("failed to reload configuration", err)
		return
	}

	w.mu.RLock()
	unchanged := digest == w.digest
	w.mu.RUnlock()
	if unchanged {
		w.logger.Debug("configuration content unchanged, skipping reload")
		return
	}

	w.apply(cfg, digest)
	w.logger.Info("configuration reloaded successfully",
		observability.String("path", w.path),
	)
}

func (w *Watcher) apply(cfg *Config, digest uint64) {
	w.mu.Lock()
	w.current = cfg
	w.digest = digest
	w.mu.Unlock()

	if w.onReload != nil {
		w.onReload(cfg)
	}
}

func (w *Watcher) load() (*Config, uint64, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read config file %s: %w", w.path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, 0, err
	}
	return cfg, xxhash.Sum64(data), nil
}

func (w *Watcher) fail(msg string, err error) {
	w.logger.Error(msg, observability.Error(err))
	if w.onError != nil {
		w.onError(err)
	}
}
