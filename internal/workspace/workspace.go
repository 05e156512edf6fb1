// Package workspace owns the reference and template registries and serializes
// every operation on them through a single event loop.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/starford/mderb/internal/apperr"
	"github.com/starford/mderb/internal/assist"
	"github.com/starford/mderb/internal/checksum"
	"github.com/starford/mderb/internal/index"
	"github.com/starford/mderb/internal/models"
	"github.com/starford/mderb/internal/preprocess"
	"github.com/starford/mderb/internal/reference"
	"github.com/starford/mderb/internal/render"
	"github.com/starford/mderb/internal/sse"
	"github.com/starford/mderb/internal/storage"
	"github.com/starford/mderb/internal/template"
)

// ErrClosed is returned by operations submitted after Run returned.
var ErrClosed = errors.New("workspace: closed")

// Notifier receives view refreshes, dataset parse failures and compile events.
// *sse.Broker implements it.
type Notifier interface {
	template.Refresher
	reference.Reporter
	Publish(event sse.Event)
}

// Options configures a Workspace.
type Options struct {
	Store          storage.Provider
	Renderer       render.Renderer
	Timeout        time.Duration
	Representation string
	Index          index.Index
	Notifier       Notifier // optional
	Logger         *slog.Logger
}

// Workspace is the single owner of the registries. Registries are not safe for
// concurrent use, so every operation runs as a closure on the Run loop.
// Renders run outside the loop.
type Workspace struct {
	store     storage.Provider
	idx       index.Index
	notifier  Notifier
	logger    *slog.Logger
	refs      *reference.Registry
	templates *template.Registry
	pre       *preprocess.Preprocessor
	compiler  *template.Compiler

	ops  chan func(context.Context)
	done chan struct{}
}

// New wires a Workspace. Nothing is discovered until Init.
func New(opts Options) (*Workspace, error) {
	if opts.Store == nil || opts.Renderer == nil || opts.Index == nil {
		return nil, fmt.Errorf("workspace: store, renderer and index are required: %w", apperr.ErrInvalidInput)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Notifier == nil {
		opts.Notifier = nopNotifier{}
	}

	w := &Workspace{
		store:    opts.Store,
		idx:      opts.Index,
		notifier: opts.Notifier,
		logger:   opts.Logger,
		ops:      make(chan func(context.Context)),
		done:     make(chan struct{}),
	}
	w.refs = reference.NewRegistry(opts.Store, storage.ReferencePattern, opts.Logger, opts.Notifier)
	w.pre = preprocess.New(w.refs)
	if opts.Representation != "" {
		if err := w.pre.SetRepresentation(opts.Representation); err != nil {
			return nil, err
		}
	}
	w.compiler = template.NewCompiler(opts.Renderer, opts.Store, opts.Timeout, opts.Logger, w.recordCompile)
	w.templates = template.NewRegistry(opts.Store, storage.TemplatePattern, w.compiler, opts.Notifier, opts.Logger)
	return w, nil
}

// Run executes submitted operations until ctx is cancelled, then waits for
// in-flight compiles.
func (w *Workspace) Run(ctx context.Context) error {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			w.compiler.Wait()
			w.logger.Info("workspace: stopped")
			return nil
		case op := <-w.ops:
			op(ctx)
		}
	}
}

// do runs op on the loop and waits for its result. op receives the loop
// context, which outlives the caller's request. ctx only bounds the wait for
// the loop to accept op; an accepted op always runs to completion before do
// returns.
func (w *Workspace) do(ctx context.Context, op func(loopCtx context.Context) error) error {
	errCh := make(chan error, 1)
	select {
	case w.ops <- func(loopCtx context.Context) { errCh <- op(loopCtx) }:
	case <-ctx.Done():
		return ctx.Err()
	case <-w.done:
		return ErrClosed
	}
	return <-errCh
}

// Init discovers datasets and templates and syncs the reference index.
func (w *Workspace) Init(ctx context.Context) error {
	return w.do(ctx, func(loopCtx context.Context) error {
		if err := w.refs.Init(loopCtx); err != nil {
			return fmt.Errorf("workspace: init references: %w", err)
		}
		if err := w.templates.Init(loopCtx); err != nil {
			return fmt.Errorf("workspace: init templates: %w", err)
		}
		datasets := map[string][]models.ReferenceEntry{}
		for _, ds := range w.refs.Datasets() {
			datasets[ds.Path()] = ds.Entries()
		}
		return index.Sync(w.idx, datasets, w.logger)
	})
}

// Wait blocks until every started compile has finished.
func (w *Workspace) Wait() {
	w.compiler.Wait()
}

// Representation returns the active citation format.
func (w *Workspace) Representation(ctx context.Context) (preprocess.Representation, error) {
	var repr preprocess.Representation
	err := w.do(ctx, func(context.Context) error {
		repr = w.pre.Representation()
		return nil
	})
	return repr, err
}

// SetRepresentation switches the citation format used by later compiles.
func (w *Workspace) SetRepresentation(ctx context.Context, name string) error {
	return w.do(ctx, func(context.Context) error {
		if err := w.pre.SetRepresentation(name); err != nil {
			return err
		}
		w.logger.Info("workspace: representation changed", slog.String("representation", name))
		return nil
	})
}

func (w *Workspace) recordCompile(res template.Result) {
	if errors.Is(res.Err, template.ErrStale) {
		return
	}
	row := index.CompileRow{
		Path:       res.Path,
		Output:     res.Output,
		Status:     index.StatusOK,
		Duration:   res.Duration,
		CompiledAt: res.At,
	}
	eventType := sse.EventTemplateCompiled
	data := map[string]string{"path": res.Path, "output": res.Output}
	if res.Err != nil {
		row.Status = index.StatusFailed
		row.Error = res.Err.Error()
		eventType = sse.EventTemplateFailed
		data["error"] = row.Error
	} else {
		row.Checksum = checksum.SumString(res.Rendered)
	}
	if err := w.idx.RecordCompile(row); err != nil {
		w.logger.Warn("workspace: record compile failed", slog.String("path", res.Path), slog.String("error", err.Error()))
	}
	w.notifier.Publish(sse.Event{Type: eventType, Data: data})
}

// Tree is the watched/unwatched grouping of every template.
type Tree struct {
	Watched   []TemplateView `json:"watched"`
	Unwatched []TemplateView `json:"unwatched"`
}

// TemplateView describes one template for display.
type TemplateView struct {
	Path    string `json:"path"`
	Output  string `json:"output"`
	Label   string `json:"label"`
	Context string `json:"context"`
	Watched bool   `json:"watched"`
}

func viewOf(f *template.File) TemplateView {
	return TemplateView{
		Path:    filepath.ToSlash(f.Path()),
		Output:  filepath.ToSlash(f.OutputPath()),
		Label:   f.Label(),
		Context: f.ContextValue(),
		Watched: f.Watched(),
	}
}

// Tree returns the current grouping.
func (w *Workspace) Tree(ctx context.Context) (Tree, error) {
	var tree Tree
	err := w.do(ctx, func(context.Context) error {
		watched, err := w.templates.Watched()
		if err != nil {
			return err
		}
		unwatched, err := w.templates.Unwatched()
		if err != nil {
			return err
		}
		tree.Watched = make([]TemplateView, 0, len(watched))
		for _, f := range watched {
			tree.Watched = append(tree.Watched, viewOf(f))
		}
		tree.Unwatched = make([]TemplateView, 0, len(unwatched))
		for _, f := range unwatched {
			tree.Unwatched = append(tree.Unwatched, viewOf(f))
		}
		return nil
	})
	return tree, err
}

// Watch enables recompilation of the template at path.
func (w *Workspace) Watch(ctx context.Context, path string) error {
	return w.do(ctx, func(context.Context) error {
		return w.templates.Watch(filepath.FromSlash(path))
	})
}

// Unwatch disables recompilation of the template at path.
func (w *Workspace) Unwatch(ctx context.Context, path string) error {
	return w.do(ctx, func(context.Context) error {
		return w.templates.Unwatch(filepath.FromSlash(path))
	})
}

// DocumentChanged handles an editor change notification carrying the full
// current text of a template. It reports whether a compile was started.
func (w *Workspace) DocumentChanged(ctx context.Context, path, text string) (bool, error) {
	var started bool
	err := w.do(ctx, func(loopCtx context.Context) error {
		var err error
		started, err = w.templates.OnChange(loopCtx, filepath.FromSlash(path), text, w.pre)
		return err
	})
	return started, err
}

// Complete returns completions for a cursor at the end of linePrefix.
func (w *Workspace) Complete(ctx context.Context, path, linePrefix string) ([]models.CompletionItem, error) {
	var items []models.CompletionItem
	err := w.do(ctx, func(context.Context) error {
		var err error
		items, err = assist.Complete(w.refs, filepath.FromSlash(path), linePrefix)
		return err
	})
	return items, err
}

// Hover describes the reference under the cursor.
func (w *Workspace) Hover(ctx context.Context, path, line string, character int) (string, bool, error) {
	var (
		text string
		ok   bool
	)
	err := w.do(ctx, func(context.Context) error {
		var err error
		text, ok, err = assist.Hover(w.refs, filepath.FromSlash(path), line, character)
		return err
	})
	return text, ok, err
}

// Lookup returns the entry and 1-based position of alias in the dataset
// co-located with path.
func (w *Workspace) Lookup(ctx context.Context, path, alias string) (models.ReferenceEntry, int, error) {
	var (
		entry models.ReferenceEntry
		pos   int
	)
	err := w.do(ctx, func(context.Context) error {
		ds, err := w.refs.DatasetFor(filepath.FromSlash(path))
		if err != nil {
			return fmt.Errorf("workspace: reference data for %s: %w", path, err)
		}
		e, p, found := ds.Lookup(alias)
		if !found {
			return fmt.Errorf("workspace: alias %q: %w", alias, apperr.ErrNotFound)
		}
		entry, pos = e, p
		return nil
	})
	return entry, pos, err
}

// Diagnose checks text as the content of the template at path. An empty text
// means the source on disk. Citation warnings are computed on the loop; the
// render check runs outside it.
func (w *Workspace) Diagnose(ctx context.Context, path, text string) ([]models.Diagnostic, error) {
	var diags []models.Diagnostic
	err := w.do(ctx, func(context.Context) error {
		clean := filepath.FromSlash(path)
		if text == "" {
			src, err := w.source(clean)
			if err != nil {
				return err
			}
			text = src
		}
		var err error
		diags, err = assist.CitationDiagnostics(w.refs, clean, text)
		return err
	})
	if err != nil {
		return nil, err
	}
	return append(diags, assist.RenderDiagnostics(ctx, w.compiler.Renderer(), w.compiler.Timeout(), text)...), nil
}

// source reads a tracked template from disk.
func (w *Workspace) source(path string) (string, error) {
	f, err := w.templates.Get(path)
	if err != nil {
		return "", err
	}
	data, err := w.store.Read(f.Path())
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Preview renders the template at path without writing its output. An empty
// text means the source on disk.
func (w *Workspace) Preview(ctx context.Context, path, text string) (string, error) {
	var expanded string
	err := w.do(ctx, func(context.Context) error {
		clean := filepath.Clean(filepath.FromSlash(path))
		if text == "" {
			src, err := w.source(clean)
			if err != nil {
				return err
			}
			text = src
		} else if _, err := w.templates.Get(clean); err != nil {
			return err
		}
		expanded = w.pre.Preprocess(text, clean)
		return nil
	})
	if err != nil {
		return "", err
	}
	out, err := w.compiler.Renderer().Render(ctx, expanded, w.compiler.Timeout())
	if err != nil {
		return "", fmt.Errorf("%w: %w", apperr.ErrRenderFailed, err)
	}
	return out, nil
}

// CompileAll compiles every template, watched or not, from its source on
// disk and waits for the results.
func (w *Workspace) CompileAll(ctx context.Context) ([]template.Result, error) {
	type job struct {
		file *template.File
		text string
	}
	var jobs []job
	err := w.do(ctx, func(context.Context) error {
		files, err := w.templates.Files()
		if err != nil {
			return err
		}
		for _, f := range files {
			data, err := w.store.Read(f.Path())
			if err != nil {
				w.logger.Warn("workspace: read failed", slog.String("path", f.Path()), slog.String("error", err.Error()))
				continue
			}
			jobs = append(jobs, job{file: f, text: w.pre.Preprocess(string(data), f.Path())})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	results := make([]template.Result, 0, len(jobs))
	for _, j := range jobs {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, w.compiler.Compile(ctx, j.file, j.text))
	}
	return results, nil
}

type nopNotifier struct{}

func (nopNotifier) Refresh() {}

func (nopNotifier) ReportParseError(string, error) {}

func (nopNotifier) Publish(sse.Event) {}
