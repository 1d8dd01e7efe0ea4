package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce collapses editor write bursts into one reload.
const reloadDebounce = 300 * time.Millisecond

// Watch reloads the config file whenever it changes and passes the new
// config to onChange. Invalid files are logged and ignored. Watch blocks
// until ctx is done.
func Watch(ctx context.Context, path string, current *Config, onChange func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	// Watch the directory: editors replace files via rename.
	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	target := filepath.Clean(path)
	lastHash := current.Hash()
	var timer *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case <-fire:
			next, err := Load(path)
			if err != nil {
				slog.Warn("config reload failed", "path", path, "error", err)
				continue
			}
			h := next.Hash()
			if h == lastHash {
				continue
			}
			lastHash = h
			slog.Info("config reloaded", "path", path)
			onChange(next)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watcher error", "error", err)
		}
	}
}
