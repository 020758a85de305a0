// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/filedesk/internal/api"
	"github.com/starford/filedesk/internal/catalog"
	"github.com/starford/filedesk/internal/fileservice"
	"github.com/starford/filedesk/internal/mcpserver"
	"github.com/starford/filedesk/internal/resource"
	"github.com/starford/filedesk/internal/sse"
)

// runtime bundles what both the HTTP server and the MCP server need.
type runtime struct {
	logger  *slog.Logger
	db      *catalog.DB
	factory *resource.Factory
}

func (rt *runtime) Close() {
	if err := rt.factory.Close(); err != nil {
		rt.logger.Warn("close storages", slog.String("error", err.Error()))
	}
	if err := rt.db.Close(); err != nil {
		rt.logger.Warn("close catalog", slog.String("error", err.Error()))
	}
}

// bootstrap opens the catalog and every configured storage, then brings the
// catalog up to date with each of them. Logs go to out.
func bootstrap(ctx context.Context, cfg *Config, out io.Writer) (*runtime, error) {
	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.Int("storages", len(cfg.Storages)),
		slog.String("log_level", cfg.App.LogLevel.String()))

	db, err := catalog.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init catalog: %w", err)
	}

	factory, err := resource.NewFactory(ctx, cfg.ResourceConfigs(), db, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init storages: %w", err)
	}

	for _, s := range factory.Storages() {
		if err := catalog.Sync(ctx, db, s.UID(), s.Driver(), logger); err != nil {
			logger.Warn("initial sync failed",
				slog.Int("storage", s.UID()),
				slog.String("error", err.Error()))
		}
	}

	return &runtime{logger: logger, db: db, factory: factory}, nil
}

func newApplication(opts []Option, defaultLogOut io.Writer) (*application, error) {
	app := &application{logOut: defaultLogOut}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts, os.Stdout)
	if err != nil {
		return err
	}
	cfg := app.config

	rt, err := bootstrap(ctx, cfg, app.logOut)
	if err != nil {
		return err
	}
	defer rt.Close()
	logger := rt.logger

	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	svc := fileservice.NewService(rt.factory, broker, logger)
	apiRouter := api.NewRouter(svc, api.RouterConfig{
		AuthEnabled:    cfg.Auth.AuthEnabled(),
		Token:          cfg.Auth.Token,
		MaxUploadBytes: cfg.App.Upload.MaxBytes,
		Events:         broker,
	})

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
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := rt.db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Closing the broker ends open event streams so Shutdown does not wait on them.
	httpServer.RegisterOnShutdown(broker.Close)

	g, gCtx := errgroup.WithContext(ctx)

	// One watcher per storage that lives on the local filesystem.
	for _, s := range rt.factory.Storages() {
		root, ok := s.LocalRoot()
		if !ok {
			continue
		}
		uid := s.UID()
		driver := s.Driver()
		g.Go(func() error {
			err := catalog.Watch(gCtx, rt.db, uid, driver, root, logger, func(kind string, fileUID int64, identifier string) {
				broker.PublishFileEvent(kind, uid, fileUID, identifier)
			})
			if err != nil {
				logger.Warn("watcher stopped",
					slog.Int("storage", uid),
					slog.String("error", err.Error()))
			}
			return nil
		})
	}

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group so watchers stop once the server is down.
var errShutdown = errors.New("shutdown")

// RunMCP serves the file tools over MCP on stdin/stdout.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts, os.Stderr)
	if err != nil {
		return err
	}

	rt, err := bootstrap(ctx, app.config, app.logOut)
	if err != nil {
		return err
	}
	defer rt.Close()

	svc := fileservice.NewService(rt.factory, nil, rt.logger)
	rt.logger.Info("Starting MCP server on stdio")
	return mcpserver.New(svc).ServeStdio()
}
