package internal

import (
	"io"

	"github.com/starford/mderb/internal/render"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config    *Config
	renderer  render.Renderer
	logOutput io.Writer
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithRenderer replaces the external engine configured under render.
func WithRenderer(r render.Renderer) Option {
	return func(a *application) {
		a.renderer = r
	}
}

// WithLogOutput sets where JSON logs are written. Defaults to stdout.
func WithLogOutput(w io.Writer) Option {
	return func(a *application) {
		a.logOutput = w
	}
}
