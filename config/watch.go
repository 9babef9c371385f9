package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// debounceInterval coalesces the burst of events editors produce for a single save.
const debounceInterval = 100 * time.Millisecond

// Watch reloads the configuration at path whenever the file is written or created and
// hands the result to onChange. Files that fail to load are logged and skipped, so the
// last good configuration stays in effect. Watching stops when ctx is done.
func Watch(ctx context.Context, path string, logger zerolog.Logger, onChange func(*Config)) error {
	logger = logger.With().Str("component", "configWatcher").Logger()
	expandedPath := expandPath(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}

	// Watch the directory so that atomic renames and re-creation are seen.
	if err := watcher.Add(filepath.Dir(expandedPath)); err != nil {
		if closeErr := watcher.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("Failed to close config watcher")
		}
		return fmt.Errorf("failed to watch %q: %w", filepath.Dir(expandedPath), err)
	}

	go func() {
		var debounce *time.Timer
		defer func() {
			if debounce != nil {
				debounce.Stop()
			}
			_ = watcher.Close()
		}()

		reload := func() {
			if ctx.Err() != nil {
				return
			}
			cfg, err := Load(expandedPath)
			if err != nil {
				logger.Warn().Err(err).Str("path", expandedPath).Msg("Ignoring invalid config change")
				return
			}
			logger.Info().Str("path", expandedPath).Msg("Config reloaded")
			onChange(cfg)
		}

		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != filepath.Base(expandedPath) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(debounceInterval, reload)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn().Err(err).Msg("Config watcher error")

			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}
