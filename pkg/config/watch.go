package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the manager when any loaded config file changes.
type Watcher struct {
	manager  *Manager
	watcher  *fsnotify.Watcher
	debounce time.Duration

	// OnReload fires after a successful reload. OnError fires when a
	// change was seen but the reload failed; the old config stays live.
	OnReload func(cfg *Config)
	OnError  func(err error)
}

// NewWatcher creates a watcher over the manager's loaded config paths.
// Directories are watched rather than files so editor rename-and-replace
// saves are still observed.
func NewWatcher(m *Manager) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	w := &Watcher{
		manager:  m,
		watcher:  fsWatcher,
		debounce: 500 * time.Millisecond,
	}

	seen := make(map[string]bool)
	for _, path := range m.GetPaths() {
		dir := filepath.Dir(path)
		if seen[dir] {
			continue
		}
		seen[dir] = true
		if err := fsWatcher.Add(dir); err != nil {
			fsWatcher.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}
	return w, nil
}

// Run blocks until the context is cancelled, reloading on changes.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	watched := make(map[string]bool)
	for _, path := range w.manager.GetPaths() {
		watched[filepath.Clean(path)] = true
	}

	var timerMu sync.Mutex
	var timer *time.Timer

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !watched[filepath.Clean(event.Name)] {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			// Editors fire several events per save; coalesce them.
			timerMu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				if err := w.manager.Load(); err != nil {
					if w.OnError != nil {
						w.OnError(err)
					}
					return
				}
				if w.OnReload != nil {
					w.OnReload(w.manager.Get())
				}
			})
			timerMu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			if w.OnError != nil {
				w.OnError(err)
			}
		}
	}
}
