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

	"github.com/starford/meetupwiki/internal/announcement"
	"github.com/starford/meetupwiki/internal/api"
	"github.com/starford/meetupwiki/internal/inbox"
	"github.com/starford/meetupwiki/internal/ledger"
	"github.com/starford/meetupwiki/internal/mcpserver"
	"github.com/starford/meetupwiki/internal/metrics"
	"github.com/starford/meetupwiki/internal/publishing"
	"github.com/starford/meetupwiki/internal/scheduler"
	"github.com/starford/meetupwiki/internal/sse"
	"github.com/starford/meetupwiki/internal/vcs"
	"github.com/starford/meetupwiki/internal/wiki"
)

// App holds the wired components.
type App struct {
	Config  *Config
	Logger  *slog.Logger
	Service *publishing.Service
	Metrics *metrics.Metrics
	Broker  *sse.Broker

	ledger *ledger.DB
}

// NewApp wires the application from options. Close releases it.
func NewApp(opts ...Option) (*App, error) {
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

	checkoutPath, err := cfg.Wiki.CheckoutPath()
	if err != nil {
		return nil, fmt.Errorf("resolve checkout path: %w", err)
	}

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("wiki_remote", cfg.Wiki.RemoteURL),
		slog.String("wiki_path", checkoutPath),
		slog.Bool("index_enabled", cfg.Wiki.IndexEnabled),
		slog.String("ledger_path", cfg.Ledger.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	tmpl, err := wiki.LoadTemplate(cfg.Wiki.TemplatePath)
	if err != nil {
		return nil, fmt.Errorf("load template: %w", err)
	}

	runner := app.runner
	if runner == nil {
		// Git output goes to stderr so stdout stays clean for results.
		runner = &vcs.ExecRunner{Binary: cfg.Wiki.GitBinary, Stdout: os.Stderr, Stderr: os.Stderr}
	}

	wikiOpts := []wiki.Option{wiki.WithTemplate(tmpl), wiki.WithLogger(logger)}
	if cfg.Wiki.IndexEnabled {
		wikiOpts = append(wikiOpts, wiki.WithHistoryIndex(cfg.Wiki.IndexFile))
	}
	pub, err := wiki.New(wiki.Checkout{Path: checkoutPath, RemoteURL: cfg.Wiki.RemoteURL}, runner, wikiOpts...)
	if err != nil {
		return nil, fmt.Errorf("init publisher: %w", err)
	}

	parser := announcement.NewParser(
		announcement.WithHTTPClient(&http.Client{Timeout: cfg.Announcement.Timeout}),
		announcement.WithLogger(logger),
	)

	if dir := filepath.Dir(cfg.Ledger.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}
	db, err := ledger.Open(cfg.Ledger.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("init ledger: %w", err)
	}

	m := metrics.New()
	if last, err := db.LastPublished(context.Background()); err == nil {
		m.SetLastPublished(last.Number)
	}

	broker := sse.NewBroker(15 * time.Second)

	svc := publishing.NewService(parser, pub,
		publishing.WithLedger(db),
		publishing.WithMetrics(m),
		publishing.WithEvents(broker),
		publishing.WithLogger(logger),
	)

	return &App{
		Config:  cfg,
		Logger:  logger,
		Service: svc,
		Metrics: m,
		Broker:  broker,
		ledger:  db,
	}, nil
}

// Close releases the ledger and the event broker.
func (a *App) Close() error {
	a.Broker.Close()
	return a.ledger.Close()
}

// MCP returns an MCP server over the app's service.
func (a *App) MCP() *mcpserver.Server {
	return mcpserver.New(a.Service)
}

// Handler builds the HTTP handler for serve mode.
func (a *App) Handler() http.Handler {
	cfg := a.Config

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
		if err := a.ledger.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Handle("/metrics", a.Metrics.Handler())
	r.Mount("/api", api.NewRouter(a.Service, cfg.Auth.AuthEnabled(), cfg.Auth.Token, a.Broker))

	return r
}

// Serve runs the HTTP server, and the scheduler and inbox watcher when
// enabled, until ctx is cancelled or a shutdown signal arrives.
func (a *App) Serve(ctx context.Context) error {
	cfg := a.Config
	logger := a.Logger

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: a.Handler(),
	}

	var sched *scheduler.Scheduler
	if cfg.Schedule.Enabled {
		s, err := scheduler.New(a.Service, logger)
		if err != nil {
			return err
		}
		if _, err := s.SchedulePublish(cfg.Schedule.Cron, cfg.Schedule.SourceURI); err != nil {
			return err
		}
		sched = s
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	if sched != nil {
		sched.Start(gCtx)
	}

	if cfg.Inbox.Enabled {
		g.Go(func() error {
			return inbox.Watch(gCtx, cfg.Inbox.Path, logger, func(ctx context.Context, path string) error {
				_, err := a.Service.Publish(ctx, path)
				return err
			})
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
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

		if sched != nil {
			if err := sched.Stop(); err != nil {
				logger.Error("scheduler shutdown error", slog.String("error", err.Error()))
			}
		}

		// Ends open event streams so Shutdown does not wait on them.
		a.Broker.Close()

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

// errShutdown cancels the group so the inbox watcher stops with the server.
var errShutdown = errors.New("shutdown")

// Run starts the application in server mode with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := NewApp(opts...)
	if err != nil {
		return err
	}
	defer app.Close()
	return app.Serve(ctx)
}
