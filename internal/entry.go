// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/mderb/internal/api"
	"github.com/starford/mderb/internal/index"
	"github.com/starford/mderb/internal/mcpserver"
	"github.com/starford/mderb/internal/render"
	"github.com/starford/mderb/internal/sse"
	"github.com/starford/mderb/internal/storage"
	"github.com/starford/mderb/internal/template"
	"github.com/starford/mderb/internal/watcher"
	"github.com/starford/mderb/internal/workspace"
)

// treeThrottle bounds how often tree.updated is pushed to SSE clients.
const treeThrottle = 2 * time.Second

// runtime is the set of components shared by every entry point.
type runtime struct {
	cfg    *Config
	logger *slog.Logger
	store  *storage.FS
	db     *index.DB
	ws     *workspace.Workspace
}

func (rt *runtime) close() {
	if err := rt.db.Close(); err != nil {
		rt.logger.Warn("index: close failed", slog.String("error", err.Error()))
	}
}

// bootstrap applies opts and wires storage, index and workspace. notifier may
// be nil.
func bootstrap(opts []Option, notifier workspace.Notifier) (*runtime, error) {
	app := &application{logOutput: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(app.logOutput, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("workspace_path", cfg.Workspace.Path),
		slog.String("render_command", cfg.Render.Command),
		slog.Duration("render_timeout", cfg.Render.Timeout),
		slog.String("representation", cfg.References.Representation),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	store, err := storage.NewFS(cfg.Workspace.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	renderer := app.renderer
	if renderer == nil {
		ex := render.NewExec(cfg.Render.Command, cfg.Render.Args...)
		if !ex.Available() {
			logger.Warn("render: engine not found on PATH, compiles will fail",
				slog.String("command", cfg.Render.Command))
		}
		renderer = ex
	}

	if err := os.MkdirAll(filepath.Dir(cfg.SQLite.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}
	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}

	ws, err := workspace.New(workspace.Options{
		Store:          store,
		Renderer:       renderer,
		Timeout:        cfg.Render.Timeout,
		Representation: cfg.References.Representation,
		Index:          db,
		Notifier:       notifier,
		Logger:         logger,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init workspace: %w", err)
	}

	return &runtime{cfg: cfg, logger: logger, store: store, db: db, ws: ws}, nil
}

// start runs the workspace loop on g, initializes the registries and then
// starts the file watcher.
func (rt *runtime) start(ctx context.Context, g *errgroup.Group) error {
	g.Go(func() error {
		return rt.ws.Run(ctx)
	})
	if err := rt.ws.Init(ctx); err != nil {
		return fmt.Errorf("init workspace: %w", err)
	}
	g.Go(func() error {
		if err := watcher.Watch(ctx, rt.store.Root(), rt.ws, rt.logger); err != nil {
			return fmt.Errorf("watcher: %w", err)
		}
		return nil
	})
	return nil
}

// Run starts the HTTP server with the given options and blocks until SIGINT,
// SIGTERM or ctx cancellation.
func Run(ctx context.Context, opts ...Option) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// SSE broker.
	broker := sse.NewBroker(treeThrottle)
	defer broker.Close()

	rt, err := bootstrap(opts, broker)
	if err != nil {
		return err
	}
	defer rt.close()
	cfg, logger := rt.cfg, rt.logger

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api. The SSE stream lives at /api/events.
	r.Mount("/api", api.NewRouter(rt.ws, rt.db, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker))

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)

	if err := rt.start(gCtx, g); err != nil {
		cancel()
		return errors.Join(err, g.Wait())
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Shut down once a signal arrives or any component fails.
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// ServeMCP serves the MCP tools over stdin/stdout until the client disconnects
// or ctx is cancelled. Logs must not go to stdout in this mode; pass
// WithLogOutput(os.Stderr).
func ServeMCP(ctx context.Context, opts ...Option) error {
	rt, err := bootstrap(opts, nil)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)

	if err := rt.start(gCtx, g); err != nil {
		cancel()
		return errors.Join(err, g.Wait())
	}

	g.Go(func() error {
		defer cancel()
		rt.logger.Info("mcp: serving on stdio")
		return mcpserver.New(rt.ws, rt.db).ServeStdio()
	})

	return g.Wait()
}

// Compile compiles every template in the workspace once, watched or not, and
// returns the results. Outputs are written next to their templates.
func Compile(ctx context.Context, opts ...Option) ([]template.Result, error) {
	rt, err := bootstrap(opts, nil)
	if err != nil {
		return nil, err
	}
	defer rt.close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rt.ws.Run(gCtx)
	})

	results, err := func() ([]template.Result, error) {
		if err := rt.ws.Init(gCtx); err != nil {
			return nil, fmt.Errorf("init workspace: %w", err)
		}
		return rt.ws.CompileAll(gCtx)
	}()
	cancel()
	if waitErr := g.Wait(); waitErr != nil {
		err = errors.Join(err, waitErr)
	}
	return results, err
}
