package settings

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/teslashibe/go-posemusic/internal/log"
)

// DefaultWatchDelay is how long Watch waits after the last change before
// reloading, so an editor's burst of writes loads once.
const DefaultWatchDelay = 100 * time.Millisecond

// Watch calls fn with the freshly loaded settings whenever path is written
// or replaced. The parent directory is watched because editors usually save
// by renaming a temporary file over the original. A file that fails to load
// is logged and skipped; the previous settings stay in force. Watch returns
// when ctx is done.
func Watch(ctx context.Context, path string, delay time.Duration, fn func(*Settings), logger *slog.Logger) error {
	if delay <= 0 {
		delay = DefaultWatchDelay
	}
	logger = log.Or(logger).With("component", "settings", "path", path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	target := filepath.Clean(path)
	if err := w.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	reload := time.NewTimer(delay)
	reload.Stop()
	defer reload.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			reload.Reset(delay)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("settings watcher error", "error", err)

		case <-reload.C:
			s, err := Load(path)
			if err != nil {
				logger.Warn("settings reload failed", "error", err)
				continue
			}
			logger.Info("settings reloaded")
			fn(s)
		}
	}
}
