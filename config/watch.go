package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/c360studio/votecontext/vote"
)

// WatcherConfig configures the config file watcher
type WatcherConfig struct {
	// Path is the config file to watch
	Path string
	// DebounceDelay is how long to wait for more changes before reloading
	DebounceDelay time.Duration
	// OnReconcile receives the reconcile section after each valid change
	OnReconcile func(vote.Options)
	// Logger for logging events
	Logger *slog.Logger
}

// Watcher reloads the reconcile section when the config file changes.
// The parent directory is watched so editors that replace the file on save
// are still observed.
type Watcher struct {
	config  WatcherConfig
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	mu      sync.Mutex
	dirty   bool
	started bool
	current vote.Options

	done chan struct{}
}

// NewWatcher creates a watcher for cfg.Path. current is the reconcile section
// already in effect; reloads that leave it unchanged are not reported.
func NewWatcher(cfg WatcherConfig, current vote.Options) (*Watcher, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("watch path is required")
	}
	if cfg.OnReconcile == nil {
		return nil, fmt.Errorf("OnReconcile callback is required")
	}

	abs, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", cfg.Path, err)
	}
	cfg.Path = abs

	if cfg.DebounceDelay == 0 {
		cfg.DebounceDelay = 200 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		config:  cfg,
		watcher: fsw,
		logger:  logger,
		current: current,
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.config.Path)); err != nil {
		return fmt.Errorf("watch %s: %w", w.config.Path, err)
	}

	w.mu.Lock()
	w.started = true
	w.mu.Unlock()

	go w.processEvents(ctx)

	w.logger.Info("Config watcher started",
		"path", w.config.Path,
		"debounce", w.config.DebounceDelay)
	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() error {
	err := w.watcher.Close()

	w.mu.Lock()
	started := w.started
	w.mu.Unlock()
	if started {
		<-w.done
	}
	return err
}

// processEvents handles fsnotify events with debouncing
func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.config.DebounceDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.config.Path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.mu.Lock()
				w.dirty = true
				w.mu.Unlock()
				w.logger.Debug("Config change detected", "op", event.Op.String())
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Watcher error", "error", err)
		case <-ticker.C:
			w.flush()
		}
	}
}

// flush reloads the layered config if a change is pending.
func (w *Watcher) flush() {
	w.mu.Lock()
	if !w.dirty {
		w.mu.Unlock()
		return
	}
	w.dirty = false
	w.mu.Unlock()

	// Reload every layer so user-level and env settings survive the change.
	cfg, err := NewLoader(w.logger, w.config.Path).Load()
	if err != nil {
		w.logger.Warn("Config reload rejected", "path", w.config.Path, "error", err)
		return
	}

	w.mu.Lock()
	changed := cfg.Reconcile != w.current
	w.current = cfg.Reconcile
	w.mu.Unlock()

	if !changed {
		return
	}

	w.logger.Info("Reconcile options reloaded",
		"context_dir", cfg.Reconcile.ContextDir,
		"history_path", cfg.Reconcile.HistoryPath,
		"min_year", cfg.Reconcile.MinYear,
		"concurrency", cfg.Reconcile.Concurrency)
	w.config.OnReconcile(cfg.Reconcile)
}
