package daemon

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/loopworks/hookgate/internal/logger"
)

// watchConfig reloads the daemon pipeline when a config file changes. The
// parent directories are watched rather than the files themselves so editor
// rename-and-replace saves keep being seen.
func watchConfig(ctx context.Context, d *Daemon) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	targets := map[string]bool{}
	for _, path := range []string{d.loader.ProjectConfigPath(), d.loader.GlobalConfigPath()} {
		if path == "" {
			continue
		}
		targets[filepath.Clean(path)] = true
	}

	dirs := map[string]bool{}
	for path := range targets {
		dirs[filepath.Dir(path)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			logger.Warn().Err(err).Str("dir", dir).Msg("Failed to watch config directory")
		}
	}

	logger.Debug().Int("dirs", len(dirs)).Msg("Watching config for changes")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !targets[filepath.Clean(event.Name)] {
				continue
			}
			if err := d.Reload(); err != nil {
				logger.Warn().Err(err).Str("path", event.Name).Msg("Config reload failed, keeping previous config")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("Config watcher error")
		}
	}
}
