package workspace

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/starford/mderb/internal/models"
	"github.com/starford/mderb/internal/reference"
	"github.com/starford/mderb/internal/sse"
	"github.com/starford/mderb/internal/storage"
	"github.com/starford/mderb/internal/template"
)

func isReference(path string) bool {
	return filepath.Base(path) == reference.FileName
}

// FileCreated dispatches a create notification for a workspace-relative path.
// Other files are ignored.
func (w *Workspace) FileCreated(ctx context.Context, path string) error {
	path = filepath.Clean(path)
	return w.do(ctx, func(loopCtx context.Context) error {
		switch {
		case template.IsTemplate(path):
			if err := w.templates.Add(template.NewFile(path)); err != nil {
				return err
			}
			// Atomic saves replace a tracked file and arrive as a create.
			return w.templateChanged(loopCtx, path)
		case isReference(path):
			if err := w.refs.OnCreated(path); err != nil {
				return err
			}
			// A new file is empty until its first write. One moved into
			// place arrives complete with no write event.
			data, err := w.store.Read(path)
			if err != nil || len(data) == 0 {
				return nil
			}
			return w.referenceChanged(loopCtx, path)
		}
		return nil
	})
}

// FileChanged dispatches a content change of a workspace-relative path.
func (w *Workspace) FileChanged(ctx context.Context, path string) error {
	path = filepath.Clean(path)
	return w.do(ctx, func(loopCtx context.Context) error {
		switch {
		case template.IsTemplate(path):
			return w.templateChanged(loopCtx, path)
		case isReference(path):
			return w.referenceChanged(loopCtx, path)
		}
		return nil
	})
}

// FileDeleted dispatches a delete notification of a workspace-relative path.
func (w *Workspace) FileDeleted(ctx context.Context, path string) error {
	path = filepath.Clean(path)
	return w.do(ctx, func(loopCtx context.Context) error {
		switch {
		case template.IsTemplate(path):
			return w.templateDeleted(path)
		case isReference(path):
			return w.referenceDeleted(loopCtx, path)
		}
		return nil
	})
}

// Rescan reconciles both registries with the files on disk. It covers
// directory moves and removals, which arrive without per-file events.
func (w *Workspace) Rescan(ctx context.Context) error {
	return w.do(ctx, func(loopCtx context.Context) error {
		if err := w.rescanReferences(loopCtx); err != nil {
			return err
		}
		return w.rescanTemplates()
	})
}

func (w *Workspace) rescanReferences(ctx context.Context) error {
	metas, err := w.store.List(storage.ReferencePattern)
	if err != nil {
		return err
	}
	onDisk := pathSet(metas)
	for _, ds := range w.refs.Datasets() {
		if _, ok := onDisk[ds.Path()]; !ok {
			if err := w.referenceDeleted(ctx, ds.Path()); err != nil {
				return err
			}
		}
	}
	for p := range onDisk {
		if ds, err := w.refs.DatasetFor(p); err == nil && ds.Path() == p {
			continue
		}
		if err := w.refs.OnCreated(p); err != nil {
			return err
		}
		if err := w.referenceChanged(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (w *Workspace) rescanTemplates() error {
	metas, err := w.store.List(storage.TemplatePattern)
	if err != nil {
		return err
	}
	onDisk := pathSet(metas)
	files, err := w.templates.Files()
	if err != nil {
		return err
	}
	for _, f := range files {
		if _, ok := onDisk[f.Path()]; ok {
			delete(onDisk, f.Path())
			continue
		}
		if err := w.templateDeleted(f.Path()); err != nil {
			return err
		}
	}
	added := make([]*template.File, 0, len(onDisk))
	for p := range onDisk {
		added = append(added, template.NewFile(p))
	}
	if len(added) == 0 {
		return nil
	}
	w.logger.Info("workspace: rescan found templates", slog.Int("count", len(added)))
	return w.templates.Add(added...)
}

// templateChanged recompiles a watched template from its text on disk.
func (w *Workspace) templateChanged(ctx context.Context, path string) error {
	if !w.templates.Initialized() {
		return nil
	}
	f, err := w.templates.Get(path)
	if err != nil || !f.Watched() {
		return nil
	}
	data, err := w.store.Read(path)
	if err != nil {
		return err
	}
	_, err = w.templates.OnChange(ctx, path, string(data), w.pre)
	return err
}

func (w *Workspace) templateDeleted(path string) error {
	if err := w.templates.Remove(path); err != nil {
		return err
	}
	if err := w.idx.DeleteCompile(path); err != nil {
		w.logger.Warn("workspace: delete compile record failed", slog.String("path", path), slog.String("error", err.Error()))
	}
	return nil
}

// referenceChanged re-parses the dataset at path, re-indexes it and
// recompiles the watched templates that cite it.
func (w *Workspace) referenceChanged(ctx context.Context, path string) error {
	ds, err := w.refs.OnChanged(path)
	if err != nil || ds == nil {
		return err
	}
	if err := w.idx.ReplaceReferences(ds.Path(), ds.Entries()); err != nil {
		w.logger.Warn("workspace: index references failed", slog.String("path", ds.Path()), slog.String("error", err.Error()))
	}
	if ds.Valid() {
		w.notifier.Publish(sse.Event{Type: sse.EventReferencesChanged, Data: map[string]any{"path": ds.Path(), "entries": ds.Len()}})
	}
	return w.recompileDir(ctx, ds.Dir())
}

func (w *Workspace) referenceDeleted(ctx context.Context, path string) error {
	if ds, err := w.refs.DatasetFor(path); err != nil || ds.Path() != path {
		return nil
	}
	if err := w.refs.OnDeleted(path); err != nil {
		return err
	}
	if err := w.idx.DeleteReferences(path); err != nil {
		w.logger.Warn("workspace: unindex references failed", slog.String("path", path), slog.String("error", err.Error()))
	}
	w.notifier.Publish(sse.Event{Type: sse.EventReferencesChanged, Data: map[string]any{"path": path, "entries": 0}})
	return w.recompileDir(ctx, filepath.Dir(path))
}

func (w *Workspace) recompileDir(ctx context.Context, dir string) error {
	if !w.templates.Initialized() {
		return nil
	}
	n, err := w.templates.OnReferencesChanged(ctx, dir, w.store, w.pre)
	if err != nil {
		return err
	}
	if n > 0 {
		w.logger.Debug("workspace: recompiling after reference change", slog.String("dir", dir), slog.Int("templates", n))
	}
	return nil
}

func pathSet(metas []models.FileMeta) map[string]struct{} {
	out := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		out[filepath.Clean(m.Path)] = struct{}{}
	}
	return out
}
