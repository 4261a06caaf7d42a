package config

import (
	"context"
	"log/slog"

	"github.com/fsnotify/fsnotify"
	"github.com/titanous/json5"
	"os"
)

// Watch reloads tunable sections (rate limits, retrieval knobs, logging
// level) when the config file changes on disk. Secrets and connection
// settings are deliberately not hot-reloaded. Blocks until ctx is done.
func (c *Config) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			c.reloadTunables(path)
			// Editors replace the file on save; re-arm the watch.
			if event.Op&fsnotify.Create != 0 {
				watcher.Add(path)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watch error", "error", err)
		}
	}
}

func (c *Config) reloadTunables(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("config reload: read failed", "error", err)
		return
	}

	fresh := Default()
	if err := json5.Unmarshal(data, fresh); err != nil {
		slog.Warn("config reload: parse failed", "error", err)
		return
	}

	c.mu.Lock()
	c.RateLimits = fresh.RateLimits
	c.Retrieval = fresh.Retrieval
	c.Audit = fresh.Audit
	c.mu.Unlock()

	slog.Info("config reloaded", "path", path)
}
