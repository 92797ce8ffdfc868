package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/okian/caretd/pkg/logger"
	"github.com/okian/caretd/pkg/metrics"
)

const reloadDebounce = 100 * time.Millisecond

// Watch reloads path whenever it is written and passes each valid result to
// onChange. Invalid reloads are logged and skipped. Watching stops when ctx
// is done.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	if path == "" {
		return fmt.Errorf("%w: watch needs a file path", ErrLoadConfig)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	// editors replace files, so watch the directory
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch directory: %w", err)
	}

	log := logger.Named("config")
	go func() {
		defer w.Close()
		var debounce *time.Timer
		defer func() {
			if debounce != nil {
				debounce.Stop()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != filepath.Base(path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(reloadDebounce, func() {
					cfg, err := LoadFile(ctx, path)
					if err != nil {
						metrics.RecordConfigReload("error")
						log.Warn(ctx, "config reload rejected", logger.String("path", path), logger.Error(err))
						return
					}
					metrics.RecordConfigReload("ok")
					log.Info(ctx, "config reloaded", logger.String("path", path))
					onChange(cfg)
				})
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn(ctx, "config watcher error", logger.Error(err))
			}
		}
	}()
	return nil
}
