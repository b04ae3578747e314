package automation

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// seedDebounce collapses the burst of events an editor produces on save.
const seedDebounce = 250 * time.Millisecond

// SeedWatcher re-imports a seed file whenever it changes on disk.
//
// The parent directory is watched rather than the file itself, because
// editors commonly save by renaming a temporary file over the original.
type SeedWatcher struct {
	registry *Registry
	path     string
	logger   Logger
	onImport func(ImportResult, error)
}

// NewSeedWatcher creates a watcher for path. Call Run to start it.
func NewSeedWatcher(registry *Registry, path string, logger Logger) *SeedWatcher {
	if logger == nil {
		logger = noopLogger{}
	}
	return &SeedWatcher{
		registry: registry,
		path:     filepath.Clean(path),
		logger:   logger,
	}
}

// OnImport registers a callback invoked after every re-import attempt.
func (w *SeedWatcher) OnImport(fn func(ImportResult, error)) {
	w.onImport = fn
}

// Run watches until ctx is cancelled.
func (w *SeedWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating seed watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(w.path), err)
	}
	w.logger.Info("watching seed file", "path", w.path)

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

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(seedDebounce)
			} else {
				debounce.Reset(seedDebounce)
			}
			fire = debounce.C

		case <-fire:
			fire = nil
			w.reimport(ctx)

		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("seed watcher error", "error", watchErr)
		}
	}
}

func (w *SeedWatcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
}

func (w *SeedWatcher) reimport(ctx context.Context) {
	result, err := w.registry.ImportYAML(ctx, w.path)
	if err != nil {
		w.logger.Error("seed file reload failed", "path", w.path, "error", err)
	}
	if w.onImport != nil {
		w.onImport(result, err)
	}
}
