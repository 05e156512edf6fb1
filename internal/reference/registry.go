package reference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/starford/mderb/internal/apperr"
	"github.com/starford/mderb/internal/models"
)

// Source lists and reads workspace files.
type Source interface {
	Reader
	List(pattern string) ([]models.FileMeta, error)
}

// Reporter receives dataset parse failures for display to the user.
type Reporter interface {
	ReportParseError(path string, err error)
}

// Registry owns every known Dataset, keyed by directory. It is not safe for
// concurrent use; callers serialize access.
type Registry struct {
	src      Source
	pattern  string
	logger   *slog.Logger
	reporter Reporter

	byDir  map[string]*Dataset
	inited bool
}

// NewRegistry creates an uninitialized registry discovering datasets that
// match pattern. reporter may be nil.
func NewRegistry(src Source, pattern string, logger *slog.Logger, reporter Reporter) *Registry {
	return &Registry{
		src:      src,
		pattern:  pattern,
		logger:   logger,
		reporter: reporter,
		byDir:    map[string]*Dataset{},
	}
}

// Init discovers and parses every dataset. A dataset that fails to parse is
// kept (invalid) and reported; it does not abort initialization.
func (r *Registry) Init(ctx context.Context) error {
	metas, err := r.src.List(r.pattern)
	if err != nil {
		return err
	}
	byDir := make(map[string]*Dataset, len(metas))
	for _, m := range metas {
		if err := ctx.Err(); err != nil {
			return err
		}
		ds := NewDataset(m.Path, r.src)
		if err := ds.Parse(); err != nil {
			r.report(ds.Path(), err)
		}
		byDir[ds.Dir()] = ds
	}
	r.byDir = byDir
	r.inited = true
	r.logger.Info("references: initialized", slog.Int("datasets", len(byDir)))
	return nil
}

// Initialized reports whether Init completed.
func (r *Registry) Initialized() bool { return r.inited }

// OnCreated registers an unparsed dataset at path. The file is assumed empty
// at creation time; the following change notification parses it.
func (r *Registry) OnCreated(path string) error {
	if !r.inited {
		return apperr.ErrUninitialized
	}
	ds := NewDataset(path, r.src)
	if existing, ok := r.byDir[ds.Dir()]; ok && existing.Path() == ds.Path() {
		return nil
	}
	r.byDir[ds.Dir()] = ds
	r.logger.Debug("references: registered", slog.String("path", ds.Path()))
	return nil
}

// OnChanged re-parses the dataset at path. Unknown paths are ignored.
// The returned dataset is nil when nothing was re-parsed.
func (r *Registry) OnChanged(path string) (*Dataset, error) {
	if !r.inited {
		return nil, apperr.ErrUninitialized
	}
	ds := r.byPath(path)
	if ds == nil {
		return nil, nil
	}
	if err := ds.Parse(); err != nil {
		r.report(ds.Path(), err)
	} else {
		r.logger.Debug("references: parsed", slog.String("path", ds.Path()), slog.Int("entries", ds.Len()))
	}
	return ds, nil
}

// OnDeleted forgets the dataset at path. Unknown paths are ignored.
func (r *Registry) OnDeleted(path string) error {
	if !r.inited {
		return apperr.ErrUninitialized
	}
	ds := r.byPath(path)
	if ds == nil {
		return nil
	}
	delete(r.byDir, ds.Dir())
	r.logger.Debug("references: removed", slog.String("path", ds.Path()))
	return nil
}

// DatasetFor returns the dataset co-located with templatePath. The error wraps
// apperr.ErrNotFound when that directory has none.
func (r *Registry) DatasetFor(templatePath string) (*Dataset, error) {
	if !r.inited {
		return nil, apperr.ErrUninitialized
	}
	dir := filepath.Dir(filepath.Clean(templatePath))
	ds, ok := r.byDir[dir]
	if !ok {
		return nil, fmt.Errorf("references: no dataset in %s: %w", dir, apperr.ErrNotFound)
	}
	return ds, nil
}

// AliasesStartingWith returns, in dataset order, the aliases of the dataset
// co-located with templatePath that start with prefix.
func (r *Registry) AliasesStartingWith(prefix, templatePath string) ([]string, error) {
	ds, err := r.DatasetFor(templatePath)
	if errors.Is(err, apperr.ErrNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := []string{}
	for _, e := range ds.entries {
		if strings.HasPrefix(e.Alias, prefix) {
			out = append(out, e.Alias)
		}
	}
	return out, nil
}

// Datasets returns every dataset ordered by path.
func (r *Registry) Datasets() []*Dataset {
	out := make([]*Dataset, 0, len(r.byDir))
	for _, ds := range r.byDir {
		out = append(out, ds)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path() < out[j].Path() })
	return out
}

func (r *Registry) byPath(path string) *Dataset {
	clean := filepath.Clean(path)
	ds, ok := r.byDir[filepath.Dir(clean)]
	if !ok || ds.Path() != clean {
		return nil
	}
	return ds
}

func (r *Registry) report(path string, err error) {
	r.logger.Warn("references: parse failed", slog.String("path", path), slog.String("error", err.Error()))
	if r.reporter != nil {
		r.reporter.ReportParseError(path, err)
	}
}
