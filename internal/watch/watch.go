// Package watch calls back when a catalog directory changes.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultDebounce batches bursts of file events into one callback.
const DefaultDebounce = 500 * time.Millisecond

// Watcher runs OnChange once per burst of changes under Root.
type Watcher struct {
	Root     string
	Debounce time.Duration
	OnChange func(ctx context.Context) error
	Logger   *zerolog.Logger
}

// Run blocks until ctx ends or the underlying watcher fails to start.
// Errors from OnChange are logged, not returned.
func (w *Watcher) Run(ctx context.Context) error {
	logger := log.Logger
	if w.Logger != nil {
		logger = *w.Logger
	}
	logger = logger.With().Str("component", "watch").Logger()
	debounce := w.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	if _, err := os.Stat(w.Root); err != nil {
		return fmt.Errorf("cannot watch %s: %w", w.Root, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := addWatchDirs(watcher, w.Root); err != nil {
		return fmt.Errorf("add watch dirs: %w", err)
	}
	logger.Info().Str("root", w.Root).Dur("debounce", debounce).Msg("watching catalog")

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if shouldIgnoreEvent(event) {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := addWatchDirs(watcher, event.Name); err != nil {
						logger.Warn().Err(err).Str("dir", event.Name).Msg("cannot watch new directory")
					}
				}
			}
			logger.Debug().Str("path", event.Name).Str("op", event.Op.String()).Msg("catalog changed")
			if !pending {
				timer.Reset(debounce)
				pending = true
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("watch error")
		case <-timer.C:
			pending = false
			if w.OnChange == nil {
				continue
			}
			if err := w.OnChange(ctx); err != nil {
				logger.Error().Err(err).Msg("rebuild after change failed")
			}
		}
	}
}

func addWatchDirs(watcher *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			base := filepath.Base(path)
			if strings.HasPrefix(base, ".") && path != root {
				return filepath.SkipDir
			}
			return watcher.Add(path)
		}
		return nil
	})
}

// shouldIgnoreEvent drops permission changes, hidden files and editor
// scratch files.
func shouldIgnoreEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return true
	}
	base := filepath.Base(event.Name)
	return strings.HasPrefix(base, ".") ||
		strings.HasSuffix(base, "~") ||
		strings.HasSuffix(base, ".swp") ||
		strings.HasSuffix(base, ".tmp")
}
