package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	appLog "schedadmin/internal/log"
)

const reloadDebounce = 100 * time.Millisecond

// Watch reloads the config at path whenever it changes and passes the new
// value to onChange. Editors often replace the file instead of writing it,
// so the parent directory is watched. A file that fails to load is logged
// and ignored. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watch: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("config watch %s: %w", filepath.Dir(abs), err)
	}

	reload := func() {
		// Load would recreate a missing file with defaults.
		if _, err := os.Stat(abs); err != nil {
			appLog.Debug("config file gone, reload skipped", "path", abs)
			return
		}
		cfg, err := Load(abs)
		if err != nil {
			appLog.Error("config reload failed", err, "path", abs)
			return
		}
		appLog.Info("config reloaded", "path", abs)
		onChange(cfg)
	}

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			// Debounce rapid events
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			appLog.Error("config watch error", err)
		}
	}
}
