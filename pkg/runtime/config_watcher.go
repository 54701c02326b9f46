package runtime

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/marmos91/dittoblk/internal/logger"
	"github.com/marmos91/dittoblk/pkg/config"
)

// reloadDebounce coalesces the burst of events editors produce on save.
const reloadDebounce = 250 * time.Millisecond

// ConfigWatcher reloads the configuration file when it changes and applies
// the settings that are safe to change at runtime: the log level and
// format. Everything else takes effect on restart.
//
// The parent directory is watched rather than the file, so atomic
// rename-over saves are seen.
type ConfigWatcher struct {
	path    string
	watcher *fsnotify.Watcher
	apply   func(*config.Config)
}

// NewConfigWatcher watches path. apply is called with every successfully
// loaded and validated configuration; a nil apply updates the logger.
func NewConfigWatcher(path string, apply func(*config.Config)) (*ConfigWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return nil, err
	}
	if apply == nil {
		apply = ApplyLogging
	}
	return &ConfigWatcher{path: filepath.Clean(path), watcher: w, apply: apply}, nil
}

// Run processes events until ctx is cancelled.
func (c *ConfigWatcher) Run(ctx context.Context) error {
	defer func() { _ = c.watcher.Close() }()

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-c.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != c.path || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			pending = time.After(reloadDebounce)
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", logger.Err(err))
		case <-pending:
			pending = nil
			c.reload()
		}
	}
}

func (c *ConfigWatcher) reload() {
	cfg, err := config.Load(c.path)
	if err != nil {
		logger.Warn("config reload rejected", "path", c.path, logger.Err(err))
		return
	}
	c.apply(cfg)
	logger.Info("config reloaded", "path", c.path, "level", cfg.Logging.Level)
}

// ApplyLogging applies cfg's log level and format to the running logger.
func ApplyLogging(cfg *config.Config) {
	logger.SetLevel(cfg.Logging.Level)
	logger.SetFormat(cfg.Logging.Format)
}
