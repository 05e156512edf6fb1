// Package watcher translates file-system notifications under the workspace
// root into template and reference events.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/mderb/internal/reference"
	"github.com/starford/mderb/internal/template"
)

// ReconcileDelay debounces rescans after renames and directory removals.
const ReconcileDelay = 200 * time.Millisecond

// Handler receives workspace-relative paths of templates and reference files.
type Handler interface {
	FileCreated(ctx context.Context, path string) error
	FileChanged(ctx context.Context, path string) error
	FileDeleted(ctx context.Context, path string) error
	Rescan(ctx context.Context) error
}

// Relevant reports whether rel names a template or a reference file outside
// any hidden directory.
func Relevant(rel string) bool {
	if hidden(rel) {
		return false
	}
	return template.IsTemplate(rel) || filepath.Base(rel) == reference.FileName
}

// Watch starts an fsnotify watcher on root and dispatches change events to h
// until ctx is cancelled.
//
// New directories created at runtime are automatically added to the watch
// list and rescanned. Rename events and removals of anything that is not a
// tracked file trigger a debounced rescan, since fsnotify reports a moved or
// removed directory without per-file events.
func Watch(ctx context.Context, root string, h Handler, logger *slog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, root); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", root))

	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time

	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(ReconcileDelay)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(ReconcileDelay)
		}
	}

	dispatch := func(op, rel string, fn func(context.Context, string) error) {
		if err := fn(ctx, rel); err != nil {
			logger.Warn("watcher: "+op+" failed", slog.String("path", rel), slog.String("error", err.Error()))
			return
		}
		logger.Debug("watcher: "+op, slog.String("path", rel))
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-reconcileCh:
			reconcileTimer, reconcileCh = nil, nil
			if err := h.Rescan(ctx); err != nil {
				logger.Warn("watcher: rescan failed", slog.String("error", err.Error()))
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			rel, relErr := filepath.Rel(root, ev.Name)
			if relErr != nil || hidden(rel) {
				continue
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", rel),
							slog.String("error", addErr.Error()))
					} else {
						logger.Debug("watcher: watching new dir", slog.String("path", rel))
					}
					// Files may land in the directory before it is watched.
					scheduleReconcile()
					continue
				}
			}

			if !Relevant(rel) {
				if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
					scheduleReconcile()
				}
				continue
			}

			switch {
			case ev.Op&fsnotify.Create != 0:
				dispatch("created", rel, h.FileCreated)
			case ev.Op&fsnotify.Write != 0:
				dispatch("changed", rel, h.FileChanged)
			case ev.Op&fsnotify.Remove != 0:
				dispatch("deleted", rel, h.FileDeleted)
			case ev.Op&fsnotify.Rename != 0:
				// fsnotify fires Rename on the OLD path only. The new path
				// arrives as a separate Create event if it stays within a
				// watched dir; the rescan catches the rest.
				dispatch("renamed", rel, h.FileDeleted)
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

// addDirsRecursive adds root and all its non-hidden subdirectories to the
// watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}

func hidden(rel string) bool {
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if part != "." && part != ".." && strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}
