// Package template tracks *.md.erb sources and compiles watched ones into
// Markdown.
package template

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/starford/mderb/internal/apperr"
	"github.com/starford/mderb/internal/render"
)

const (
	// Suffix identifies template sources.
	Suffix = ".md.erb"
	// OutputSuffix replaces Suffix in the compiled file name.
	OutputSuffix = ".md"
)

// Context labels exposed to the user surface.
const (
	ContextWatched   = "erb-watched"
	ContextUnwatched = "erb-unwatched"
)

// ErrStale is returned when a newer compile of the same file already wrote
// its output.
var ErrStale = errors.New("template: superseded by a newer compile")

// Writer persists compiled output.
type Writer interface {
	Write(path string, content []byte) error
}

// OutputPath derives the compiled Markdown path of a template source.
func OutputPath(source string) string {
	return strings.TrimSuffix(source, Suffix) + OutputSuffix
}

// IsTemplate reports whether path names a template source.
func IsTemplate(path string) bool {
	return strings.HasSuffix(path, Suffix) && len(filepath.Base(path)) > len(Suffix)
}

// File is one tracked template. Its watched flag only changes through Watch
// and Unwatch.
type File struct {
	path    string
	output  string
	watched bool

	gen     atomic.Uint64
	mu      sync.Mutex // serializes output writes
	written uint64     // generation of the last write, guarded by mu
}

// NewFile returns an unwatched File for path.
func NewFile(path string) *File {
	if path == "" {
		return &File{}
	}
	clean := filepath.Clean(path)
	return &File{path: clean, output: OutputPath(clean)}
}

// Path returns the source path relative to the workspace root.
func (f *File) Path() string { return f.path }

// OutputPath returns the compiled Markdown path.
func (f *File) OutputPath() string { return f.output }

// Dir returns the directory containing the source.
func (f *File) Dir() string { return filepath.Dir(f.path) }

// Label is the display name of the file.
func (f *File) Label() string { return filepath.Base(f.path) }

// Watched reports whether changes trigger recompilation.
func (f *File) Watched() bool { return f.watched }

// ContextValue is the user-surface label of the current state.
func (f *File) ContextValue() string {
	if f.watched {
		return ContextWatched
	}
	return ContextUnwatched
}

// Watch enables recompilation on change.
func (f *File) Watch() { f.watched = true }

// Unwatch disables recompilation on change.
func (f *File) Unwatch() { f.watched = false }

// CompileWrite renders text and writes the result to the output path. On
// render failure nothing is written and the error wraps apperr.ErrRenderFailed.
// A compile that finishes, rendered or failed, after a newer one has written
// returns ErrStale.
func (f *File) CompileWrite(ctx context.Context, r render.Renderer, w Writer, text string, timeout time.Duration) (string, error) {
	gen := f.gen.Add(1)

	out, err := r.Render(ctx, text, timeout)

	f.mu.Lock()
	defer f.mu.Unlock()
	if gen < f.written {
		return "", ErrStale
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", apperr.ErrRenderFailed, err)
	}
	if err := w.Write(f.output, []byte(out)); err != nil {
		return "", fmt.Errorf("template: write %s: %w", f.output, err)
	}
	f.written = gen
	return out, nil
}
