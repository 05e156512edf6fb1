package template

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/mderb/internal/render"
)

// DefaultTimeout bounds a single render.
const DefaultTimeout = 500 * time.Millisecond

// Result describes one finished compile.
type Result struct {
	Path     string
	Output   string
	Rendered string
	Err      error
	Duration time.Duration
	At       time.Time
}

// ResultFunc receives every compile result.
type ResultFunc func(Result)

// Compiler runs CompileWrite in the background so that compiles of different
// files never wait on each other.
type Compiler struct {
	renderer render.Renderer
	writer   Writer
	timeout  time.Duration
	logger   *slog.Logger
	onResult ResultFunc

	wg sync.WaitGroup
}

// NewCompiler creates a Compiler. A non-positive timeout means DefaultTimeout.
// onResult may be nil.
func NewCompiler(r render.Renderer, w Writer, timeout time.Duration, logger *slog.Logger, onResult ResultFunc) *Compiler {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Compiler{renderer: r, writer: w, timeout: timeout, logger: logger, onResult: onResult}
}

// Timeout returns the per-render bound.
func (c *Compiler) Timeout() time.Duration { return c.timeout }

// Renderer returns the underlying engine.
func (c *Compiler) Renderer() render.Renderer { return c.renderer }

// Go compiles f with the already preprocessed text in a new goroutine.
func (c *Compiler) Go(ctx context.Context, f *File, text string) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.Compile(ctx, f, text)
	}()
}

// Compile compiles synchronously. Render failures are expected while a user
// is typing and are only logged at debug level.
func (c *Compiler) Compile(ctx context.Context, f *File, text string) Result {
	start := time.Now()
	rendered, err := f.CompileWrite(ctx, c.renderer, c.writer, text, c.timeout)
	res := Result{
		Path:     f.Path(),
		Output:   f.OutputPath(),
		Rendered: rendered,
		Err:      err,
		Duration: time.Since(start),
		At:       start,
	}
	switch {
	case err == nil:
		c.logger.Debug("compile: written", slog.String("path", f.Path()), slog.String("output", f.OutputPath()),
			slog.Duration("took", res.Duration))
	case errors.Is(err, ErrStale):
		c.logger.Debug("compile: stale result dropped", slog.String("path", f.Path()))
	default:
		c.logger.Debug("compile: skipped", slog.String("path", f.Path()), slog.String("error", err.Error()))
	}
	if c.onResult != nil {
		c.onResult(res)
	}
	return res
}

// Wait blocks until every compile started with Go has finished.
func (c *Compiler) Wait() {
	c.wg.Wait()
}
