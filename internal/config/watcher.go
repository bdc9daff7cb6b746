package config

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadDebounceDelay batches rapid successive writes to the config file
// (editors often write-then-rename) into a single reload.
const ReloadDebounceDelay = 100 * time.Millisecond

// ReloadSubscriber receives a freshly parsed Config whenever the watched
// file changes. Implementations must be safe for concurrent use.
type ReloadSubscriber interface {
	OnConfigReloaded(cfg *Config)
}

// Watcher watches a single config file for changes and notifies subscribers
// with a newly parsed Config on every write. Per spec.md §4.5's design
// note, only new conversations pick up a reloaded Config — existing
// conversations keep the Config snapshot they were built with, so Watcher
// itself has no opinion on who reads its notifications.
type Watcher struct {
	mu   sync.RWMutex
	path string

	watcher *fsnotify.Watcher
	logger  *slog.Logger

	subscribers map[ReloadSubscriber]struct{}

	debounceMu    sync.Mutex
	debounceTimer *time.Timer

	done    chan struct{}
	stopped chan struct{}
}

// NewWatcher creates a watcher for the config file at path. Call Start to
// begin watching and Close when done.
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		_ = fw.Close()
		return nil, err
	}

	return &Watcher{
		path:        path,
		watcher:     fw,
		logger:      logger,
		subscribers: make(map[ReloadSubscriber]struct{}),
		done:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}, nil
}

// Start begins the event-processing loop in a background goroutine.
func (w *Watcher) Start() {
	go w.eventLoop()
}

// Close stops the watcher. After it returns, no more reloads fire.
func (w *Watcher) Close() error {
	close(w.done)
	err := w.watcher.Close()
	<-w.stopped
	return err
}

// Subscribe registers sub to receive reload notifications.
func (w *Watcher) Subscribe(sub ReloadSubscriber) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.subscribers[sub] = struct{}{}
}

// Unsubscribe removes sub.
func (w *Watcher) Unsubscribe(sub ReloadSubscriber) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.subscribers, sub)
}

func (w *Watcher) eventLoop() {
	defer close(w.stopped)
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.debounceMu.Lock()
			if w.debounceTimer != nil {
				w.debounceTimer.Stop()
			}
			w.debounceTimer = time.AfterFunc(ReloadDebounceDelay, w.reload)
			w.debounceMu.Unlock()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Warn("config watcher error", "error", err)
			}
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		if w.logger != nil {
			w.logger.Warn("config reload failed, keeping previous config", "path", w.path, "error", err)
		}
		return
	}

	w.mu.RLock()
	subs := make([]ReloadSubscriber, 0, len(w.subscribers))
	for s := range w.subscribers {
		subs = append(subs, s)
	}
	w.mu.RUnlock()

	if w.logger != nil {
		w.logger.Debug("config reloaded", "path", w.path, "subscribers", len(subs))
	}
	for _, s := range subs {
		s.OnConfigReloaded(cfg)
	}
}
