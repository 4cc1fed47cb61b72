package daemon

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// reloadDebounce coalesces bursts of file events into one reload.
const reloadDebounce = 200 * time.Millisecond

// Reloader watches rule files and applies a reload after edits settle.
// Directories are watched rather than the files themselves so
// atomic-replace editors (write tmp, rename over) keep triggering.
type Reloader struct {
	paths    []string
	debounce time.Duration
	apply    func()
	log      *zap.Logger
}

// NewReloader creates a reloader for the given file paths.
func NewReloader(paths []string, apply func(), log *zap.Logger) *Reloader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reloader{
		paths:    paths,
		debounce: reloadDebounce,
		apply:    apply,
		log:      log,
	}
}

// Run blocks until ctx is cancelled.
func (r *Reloader) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	targets := make(map[string]bool)
	dirs := make(map[string]bool)
	for _, p := range r.paths {
		clean := filepath.Clean(p)
		targets[clean] = true
		dirs[filepath.Dir(clean)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			r.log.Warn("cannot watch rule directory",
				zap.String("dir", dir), zap.Error(err))
		}
	}

	// Single debounce timer, reset on each relevant event.
	timer := time.NewTimer(r.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-timer.C:
			r.apply()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !targets[filepath.Clean(event.Name)] {
				continue
			}
			if !event.Has(fsnotify.Create | fsnotify.Write | fsnotify.Rename | fsnotify.Remove) {
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(r.debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.log.Warn("rule watcher error", zap.Error(err))
		}
	}
}
