package config

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Logger is the minimal logging surface the watcher needs.
type Logger interface {
	Printf(format string, args ...any)
}

// Watcher keeps a validated Config current as the file changes on disk. A
// reload that fails to parse or validate is logged and discarded; the last
// good value stays in effect.
type Watcher struct {
	path     string
	logger   Logger
	onChange func(Config)

	fw *fsnotify.Watcher

	mu      sync.RWMutex
	current Config

	done chan struct{}
}

// Watch loads path once, then follows writes and renames to it. Editors and
// config management tools replace files by rename, so the parent directory
// is watched rather than the file itself.
func Watch(path string, logger Logger, onChange func(Config)) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("start config watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch config directory: %w", err)
	}
	w := &Watcher{
		path:     path,
		logger:   logger,
		onChange: onChange,
		fw:       fw,
		current:  cfg,
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Current returns the most recent valid configuration.
func (w *Watcher) Current() Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Close stops the watcher. The last loaded Config remains readable.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fw.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			w.reload()
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logf("config watcher error: %v", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logf("config reload rejected, keeping previous value: %v", err)
		return
	}
	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()
	w.logf("config reloaded from %s", w.path)
	if w.onChange != nil {
		w.onChange(cfg)
	}
}

func (w *Watcher) logf(format string, args ...any) {
	if w.logger == nil {
		return
	}
	w.logger.Printf(format, args...)
}
