package registry

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the registry when definition files change. Events are
// debounced so editors that write in several bursts trigger one reload.
type Watcher struct {
	registry *Registry
	watcher  *fsnotify.Watcher
	debounce time.Duration
	done     chan struct{}
	stopOnce sync.Once
	timerMu  sync.Mutex
	timer    *time.Timer
	onReload func(error)
}

// WatcherConfig holds watcher configuration.
type WatcherConfig struct {
	// Debounce is how long the directory must stay quiet before a reload.
	// Zero means 200ms.
	Debounce time.Duration

	// OnReload, when set, observes the outcome of every triggered reload.
	OnReload func(error)
}

// NewWatcher creates a watcher over the registry's directory.
func NewWatcher(registry *Registry, cfg WatcherConfig) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	debounce := cfg.Debounce
	if debounce == 0 {
		debounce = 200 * time.Millisecond
	}

	return &Watcher{
		registry: registry,
		watcher:  fw,
		debounce: debounce,
		done:     make(chan struct{}),
		onReload: cfg.OnReload,
	}, nil
}

// Start begins watching the definitions directory.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(w.registry.dir); err != nil {
		return fmt.Errorf("failed to watch definitions directory: %w", err)
	}

	go w.eventLoop()

	w.registry.logger.Info().
		Str("dir", w.registry.dir).
		Msg("Definition watcher started")

	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.done)
	})

	w.timerMu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timerMu.Unlock()

	return w.watcher.Close()
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isDefinitionFile(filepath.Base(event.Name)) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.registry.logger.Warn().Err(err).Msg("Definition watcher error")
		}
	}
}

// scheduleReload resets the debounce timer; the reload fires once the
// directory has been quiet for the debounce window.
func (w *Watcher) scheduleReload() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		err := w.registry.Load()
		if err != nil {
			w.registry.logger.Error().Err(err).Msg("Definition reload failed, keeping previous set")
		}
		if w.onReload != nil {
			w.onReload(err)
		}
	})
}
