// Package fsconfig watches a workspace's config.yaml (and its .env sibling)
// for edits and reloads config.Config without restarting the long-lived
// `ctx serve` process. The reload is debounced the same way the teacher
// debounces rapid saves to a watched directory.
package fsconfig

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"contextfs/internal/config"
	"contextfs/internal/logging"
)

// Stats tracks watcher activity, surfaced by Engine.Stats for `ctx stats`.
type Stats struct {
	Reloads      int
	Errors       int
	LastReloadAt time.Time
	LastError    string
}

// Watcher watches the directory containing a config file and its .env
// sibling, reloading config.Config on settled writes/renames.
type Watcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	cfgPath     string
	envName     string
	dir         string
	debounceMap map[string]time.Time
	debounceDur time.Duration
	onReload    func(*config.Config)
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
	stats       Stats
}

// New creates a Watcher for cfgPath (e.g. <workspaceDir>/.contextfs/config.yaml).
// onReload is invoked with the freshly loaded config after a settled change;
// it is called from the watcher's own goroutine, so callers that mutate
// shared state from it must do so safely (see Engine.Config's hot-reload
// note in DESIGN.md).
func New(cfgPath string, onReload func(*config.Config)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:     w,
		cfgPath:     cfgPath,
		envName:     ".env",
		dir:         filepath.Dir(cfgPath),
		debounceMap: make(map[string]time.Time),
		debounceDur: 400 * time.Millisecond,
		onReload:    onReload,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching in a background goroutine. Non-blocking.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0755); err != nil {
		logging.Get(logging.CategoryConfig).Warn("fsconfig: failed to ensure %s exists: %v (watching anyway)", w.dir, err)
	}
	if err := w.watcher.Add(w.dir); err != nil {
		logging.Get(logging.CategoryConfig).Warn("fsconfig: initial watch of %s failed: %v", w.dir, err)
	} else {
		logging.Get(logging.CategoryConfig).Info("fsconfig: watching %s for config/.env changes", w.dir)
	}

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	if err := w.watcher.Close(); err != nil {
		logging.Get(logging.CategoryConfig).Warn("fsconfig: error closing watcher: %v", err)
	}
}

// Stats returns a snapshot of reload activity.
func (w *Watcher) Stats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
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
			logging.Get(logging.CategoryConfig).Warn("fsconfig: watch error: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()
		case <-ticker.C:
			w.processDebounced()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	base := filepath.Base(event.Name)
	if base != filepath.Base(w.cfgPath) && base != w.envName {
		return
	}
	switch {
	case event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0:
	default:
		return
	}
	w.mu.Lock()
	w.debounceMap[event.Name] = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) processDebounced() {
	w.mu.Lock()
	now := time.Now()
	var settled []string
	for path, t := range w.debounceMap {
		if now.Sub(t) >= w.debounceDur {
			settled = append(settled, path)
			delete(w.debounceMap, path)
		}
	}
	w.mu.Unlock()

	if len(settled) == 0 {
		return
	}
	w.reload()
}

func (w *Watcher) reload() {
	cfg, err := config.Load(w.cfgPath)
	if err != nil {
		logging.Get(logging.CategoryConfig).Warn("fsconfig: reload of %s failed, keeping previous config: %v", w.cfgPath, err)
		w.mu.Lock()
		w.stats.Errors++
		w.stats.LastError = err.Error()
		w.mu.Unlock()
		return
	}
	w.mu.Lock()
	w.stats.Reloads++
	w.stats.LastReloadAt = time.Now()
	w.stats.LastError = ""
	w.mu.Unlock()

	logging.Get(logging.CategoryConfig).Info("fsconfig: reloaded config from %s", w.cfgPath)
	if w.onReload != nil {
		w.onReload(cfg)
	}
}
