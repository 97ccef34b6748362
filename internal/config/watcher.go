package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/panemark/panemark/internal/logging"
	"github.com/panemark/panemark/internal/platform"
)

var configLog = logging.ForComponent(logging.CompConfig)

// Watcher reloads config.toml when it changes on disk. The monitor
// runs one so interval and staleness edits apply without a restart.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onChange func(*UserConfig)
}

// NewWatcher creates a watcher for the config file. onChange receives
// the freshly loaded config after each edit settles.
func NewWatcher(onChange func(*UserConfig)) (*Watcher, error) {
	configPath, err := Path()
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory, not the file: editors save by writing a temp
	// file and renaming over the original, which kills a file watch.
	if err := fw.Add(filepath.Dir(configPath)); err != nil {
		fw.Close()
		return nil, err
	}
	return &Watcher{path: configPath, watcher: fw, onChange: onChange}, nil
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	if warning := platform.CheckFsnotifySupport(filepath.Dir(w.path)); warning != "" {
		configLog.Warn("fsnotify_unsupported", slog.String("detail", warning))
	}

	// Coalesce the create/write/rename burst an editor save produces.
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != ConfigFileName {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(100*time.Millisecond, w.fire)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			configLog.Warn("config_watch_error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) fire() {
	cfg, err := Reload()
	if err != nil {
		configLog.Warn("config_reload_failed", slog.String("error", err.Error()))
		return
	}
	configLog.Info("config_reloaded", slog.String("path", w.path))
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
