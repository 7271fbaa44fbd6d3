// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDelay coalesces the burst of events an editor save produces.
const reloadDelay = 200 * time.Millisecond

// Watch reloads the config at path whenever it changes and passes each
// valid result to fn. Invalid edits are logged and skipped.
//
// The parent directory is watched rather than the file, so saves that
// replace the file by rename are seen. Watch blocks until ctx is done and
// should be run in a goroutine.
//
// Example:
//
//	go func() {
//	    if err := config.Watch(ctx, path, apply, logger); err != nil {
//	        logger.Warn("Config watcher stopped", "error", err)
//	    }
//	}()
func Watch(ctx context.Context, path string, fn func(DocGenConfig), logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	target, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch config dir: %w", err)
	}
	logger.Debug("Watching config", "path", target)

	var reload <-chan time.Time
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			reload = time.After(reloadDelay)

		case <-reload:
			reload = nil
			cfg, err := read(target)
			if err != nil {
				logger.Warn("Ignoring config change", "path", target, "error", err)
				continue
			}
			logger.Info("Config reloaded", "path", target)
			fn(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Config watcher error", "error", err)

		case <-ctx.Done():
			return nil
		}
	}
}
