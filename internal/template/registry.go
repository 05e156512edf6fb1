package template

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"

	"github.com/starford/mderb/internal/apperr"
	"github.com/starford/mderb/internal/models"
)

// Lister discovers workspace files.
type Lister interface {
	List(pattern string) ([]models.FileMeta, error)
}

// Refresher is told when the watched/unwatched grouping changed.
type Refresher interface {
	Refresh()
}

// Reader reads template sources.
type Reader interface {
	Read(path string) ([]byte, error)
}

// Preprocessor expands reference markers before compilation.
type Preprocessor interface {
	Preprocess(source, templatePath string) string
}

// Registry owns every tracked File keyed by source path. It is not safe for
// concurrent use; callers serialize access.
type Registry struct {
	src       Lister
	pattern   string
	compiler  *Compiler
	refresher Refresher
	logger    *slog.Logger

	files  map[string]*File
	inited bool
}

// NewRegistry creates an uninitialized registry. refresher may be nil.
func NewRegistry(src Lister, pattern string, compiler *Compiler, refresher Refresher, logger *slog.Logger) *Registry {
	return &Registry{
		src:       src,
		pattern:   pattern,
		compiler:  compiler,
		refresher: refresher,
		logger:    logger,
		files:     map[string]*File{},
	}
}

// Init discovers every template source. All files start unwatched.
func (r *Registry) Init(ctx context.Context) error {
	metas, err := r.src.List(r.pattern)
	if err != nil {
		return err
	}
	files := make(map[string]*File, len(metas))
	for _, m := range metas {
		if err := ctx.Err(); err != nil {
			return err
		}
		f := NewFile(m.Path)
		files[f.Path()] = f
	}
	r.files = files
	r.inited = true
	r.logger.Info("templates: initialized", slog.Int("files", len(files)))
	r.refresh()
	return nil
}

// Initialized reports whether Init completed.
func (r *Registry) Initialized() bool { return r.inited }

// Add tracks new files. A file without a path is rejected before anything
// is added. Already tracked paths are skipped.
func (r *Registry) Add(files ...*File) error {
	for _, f := range files {
		if f == nil || f.Path() == "" {
			return fmt.Errorf("templates: add: %w", apperr.ErrInvalidFile)
		}
	}
	if !r.inited {
		return apperr.ErrUninitialized
	}
	added := 0
	for _, f := range files {
		if _, ok := r.files[f.Path()]; ok {
			continue
		}
		r.files[f.Path()] = f
		added++
	}
	r.logger.Debug("templates: added", slog.Int("count", added))
	if added > 0 {
		r.refresh()
	}
	return nil
}

// Remove stops tracking the file at path. Unknown paths are ignored.
func (r *Registry) Remove(path string) error {
	if !r.inited {
		return apperr.ErrUninitialized
	}
	clean := filepath.Clean(path)
	if _, ok := r.files[clean]; !ok {
		return nil
	}
	delete(r.files, clean)
	r.logger.Debug("templates: removed", slog.String("path", clean))
	r.refresh()
	return nil
}

// Get returns the file tracked at path.
func (r *Registry) Get(path string) (*File, error) {
	if !r.inited {
		return nil, apperr.ErrUninitialized
	}
	f, ok := r.files[filepath.Clean(path)]
	if !ok {
		return nil, fmt.Errorf("templates: %s: %w", path, apperr.ErrNotFound)
	}
	return f, nil
}

// Watch enables recompilation of the file at path.
func (r *Registry) Watch(path string) error {
	f, err := r.Get(path)
	if err != nil {
		return err
	}
	f.Watch()
	r.logger.Info("templates: watching", slog.String("path", f.Path()))
	r.refresh()
	return nil
}

// Unwatch disables recompilation of the file at path.
func (r *Registry) Unwatch(path string) error {
	f, err := r.Get(path)
	if err != nil {
		return err
	}
	f.Unwatch()
	r.logger.Info("templates: unwatched", slog.String("path", f.Path()))
	r.refresh()
	return nil
}

// OnChange recompiles the file at path from its current full text. Unknown
// and unwatched files are ignored. The compile runs in the background; the
// result reports whether one was started.
func (r *Registry) OnChange(ctx context.Context, path, text string, pre Preprocessor) (bool, error) {
	if !r.inited {
		return false, apperr.ErrUninitialized
	}
	f, ok := r.files[filepath.Clean(path)]
	if !ok || !f.Watched() {
		return false, nil
	}
	r.compiler.Go(ctx, f, pre.Preprocess(text, f.Path()))
	return true, nil
}

// OnReferencesChanged recompiles every watched template in dir from its text
// on disk. It returns the number of compiles started. Unreadable sources are
// logged and skipped.
func (r *Registry) OnReferencesChanged(ctx context.Context, dir string, src Reader, pre Preprocessor) (int, error) {
	files, err := r.WatchedIn(dir)
	if err != nil {
		return 0, err
	}
	started := 0
	for _, f := range files {
		data, err := src.Read(f.Path())
		if err != nil {
			r.logger.Warn("templates: read failed", slog.String("path", f.Path()), slog.String("error", err.Error()))
			continue
		}
		r.compiler.Go(ctx, f, pre.Preprocess(string(data), f.Path()))
		started++
	}
	return started, nil
}

// Files returns every tracked file ordered by path.
func (r *Registry) Files() ([]*File, error) {
	return r.filter(func(*File) bool { return true })
}

// Watched returns the watched files ordered by path.
func (r *Registry) Watched() ([]*File, error) {
	return r.filter(func(f *File) bool { return f.Watched() })
}

// Unwatched returns the unwatched files ordered by path.
func (r *Registry) Unwatched() ([]*File, error) {
	return r.filter(func(f *File) bool { return !f.Watched() })
}

// WatchedIn returns the watched files whose source lives in dir.
func (r *Registry) WatchedIn(dir string) ([]*File, error) {
	dir = filepath.Clean(dir)
	return r.filter(func(f *File) bool { return f.Watched() && f.Dir() == dir })
}

func (r *Registry) filter(keep func(*File) bool) ([]*File, error) {
	if !r.inited {
		return nil, apperr.ErrUninitialized
	}
	out := []*File{}
	for _, f := range r.files {
		if keep(f) {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path() < out[j].Path() })
	return out, nil
}

func (r *Registry) refresh() {
	if r.refresher != nil {
		r.refresher.Refresh()
	}
}
