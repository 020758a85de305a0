package catalog

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/filedesk/internal/storage"
)

// reconcileDelay debounces bursts of filesystem events into one pass.
const reconcileDelay = 200 * time.Millisecond

// Watch starts an fsnotify watcher on the directory behind a local storage
// and keeps the catalog in step with it until ctx is cancelled. cb (if
// non-nil) is called after each change the watcher applies.
//
// File events are not applied one by one: fsnotify reports renames on the
// old path only, and the API moves files while it updates the catalog
// itself. Every file event schedules a debounced reconcile pass instead,
// which only touches rows whose file actually changed.
func Watch(ctx context.Context, db *DB, storageUID int, driver storage.Driver, root string, logger *slog.Logger, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, root); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.Int("storage", storageUID), slog.String("root", root))

	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time

	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(reconcileDelay)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(reconcileDelay)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			logger.Info("watcher: stopped", slog.Int("storage", storageUID))
			return nil

		case <-reconcileCh:
			if err := reconcile(ctx, db, storageUID, driver, logger, cb); err != nil {
				logger.Warn("watcher: reconcile failed", slog.Int("storage", storageUID), slog.String("error", err.Error()))
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ignored(ev.Name) {
				continue
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					} else {
						logger.Debug("watcher: watching new dir", slog.String("path", ev.Name))
					}
				}
			}

			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				scheduleReconcile()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// ignored reports whether path is an in-flight temp file of the FS driver.
func ignored(path string) bool {
	return strings.HasPrefix(filepath.Base(path), storage.TempPrefix)
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
