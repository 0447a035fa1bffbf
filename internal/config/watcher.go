package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultWatchDebounce = 500 * time.Millisecond

// Watcher monitors the config file on disk and reloads it on change,
// publishing the newly parsed Config on Updates().
type Watcher struct {
	path     string
	debounce time.Duration

	mu      sync.Mutex
	current *Config
	timer   *time.Timer
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	updates chan *Config
	onError func(error)

	stopOnce sync.Once
}

// WatcherOption customizes Watcher behavior.
type WatcherOption func(*Watcher)

// WithWatchDebounce overrides the reload debounce window.
func WithWatchDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithWatchErrorHandler registers a callback invoked when a reload fails.
// The previously loaded config remains active.
func WithWatchErrorHandler(fn func(error)) WatcherOption {
	return func(w *Watcher) {
		w.onError = fn
	}
}

// NewWatcher loads the config at path and prepares a Watcher for it.
// Start must be called to begin watching for changes.
func NewWatcher(path string, opts ...WatcherOption) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	w := &Watcher{
		path:     filepath.Clean(abs),
		debounce: defaultWatchDebounce,
		current:  cfg,
		stopCh:   make(chan struct{}),
		updates:  make(chan *Config, 1),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Current returns the most recently loaded configuration.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Updates returns a channel that receives a new Config after each
// successful reload triggered by a filesystem change.
func (w *Watcher) Updates() <-chan *Config {
	return w.updates
}

// Start begins watching the config file's directory for changes.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.watcher != nil {
		w.mu.Unlock()
		return nil
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return fmt.Errorf("create config watcher: %w", err)
	}
	w.watcher = fsWatcher
	w.mu.Unlock()

	dir := filepath.Dir(w.path)
	if err := fsWatcher.Add(dir); err != nil {
		_ = fsWatcher.Close()
		w.mu.Lock()
		w.watcher = nil
		w.mu.Unlock()
		return fmt.Errorf("watch config directory %s: %w", dir, err)
	}

	go w.watchLoop()
	return nil
}

// Stop terminates the watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		if w.watcher != nil {
			_ = w.watcher.Close()
		}
		w.mu.Unlock()
	})
}

func (w *Watcher) watchLoop() {
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.onError != nil {
				w.onError(fmt.Errorf("config watcher: %w", err))
			}
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return
	}
	if filepath.Clean(event.Name) != w.path {
		return
	}
	w.scheduleReload()
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	select {
	case <-w.stopCh:
		return
	default:
	}
	cfg, err := Load(w.path)
	if err != nil {
		if w.onError != nil {
			w.onError(fmt.Errorf("reload config: %w", err))
		}
		return
	}
	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()

	select {
	case w.updates <- cfg:
	default:
		// Drop if the previous update hasn't been consumed yet; Current()
		// always reflects the latest value regardless.
		select {
		case <-w.updates:
		default:
		}
		w.updates <- cfg
	}
}
