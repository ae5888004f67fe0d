// Package runtime provides the App struct and lifecycle management for the
// clip analysis service: configuration, task storage, the queue worker, the
// HTTP API and hot reload of the model configuration.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/tjfontaine/offside-zero/internal/agents"
	"github.com/tjfontaine/offside-zero/internal/analysis"
	"github.com/tjfontaine/offside-zero/internal/core/ports"
	"github.com/tjfontaine/offside-zero/internal/overlay"
	"github.com/tjfontaine/offside-zero/internal/pkg/config"
	"github.com/tjfontaine/offside-zero/internal/queue"
	"github.com/tjfontaine/offside-zero/internal/server"
	"github.com/tjfontaine/offside-zero/internal/storage/memory"
	"github.com/tjfontaine/offside-zero/internal/storage/sqlite"
	"github.com/tjfontaine/offside-zero/internal/video"
)

// App is the service composition root. It owns the orchestrator instance and
// passes it explicitly to the queue worker and the synchronous API.
type App struct {
	// Dependencies (injected via options or built from config)
	config   ports.ConfigProvider
	store    ports.TaskStore
	analyzer ports.Analyzer
	opener   ports.VideoOpener
	overlay  ports.Overlay
	counter  agents.TokenCounter
	logger   *slog.Logger

	// fixedAnalyzer is set when the analyzer was injected and must survive reloads.
	fixedAnalyzer bool

	service  *analysis.Service
	queue    *queue.Queue
	server   *http.Server
	listener net.Listener

	ctx     context.Context
	cancel  context.CancelFunc
	workers sync.WaitGroup
	mu      sync.Mutex
}

// New creates an App with the given options. A config provider is required.
func New(opts ...Option) (*App, error) {
	app := &App{
		logger: slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if app.config == nil {
		return nil, fmt.Errorf("config provider required (use WithFileConfig or WithConfigProvider)")
	}
	if app.overlay == nil {
		app.overlay = overlay.New()
	}
	if app.counter == nil {
		app.counter = NewTokenCounter()
	}
	app.fixedAnalyzer = app.analyzer != nil

	return app, nil
}

// Start loads configuration, recovers queued tasks, starts the worker and the
// HTTP server, then watches the config for changes.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.ctx, a.cancel = context.WithCancel(ctx)

	cfg, err := a.config.Load(a.ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := a.initStore(cfg); err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	a.initAnalysis(cfg)

	a.queue = queue.New(a.store, a.service.Processor(), queue.WithLogger(a.logger))
	if err := a.queue.Recover(a.ctx); err != nil {
		return fmt.Errorf("recover tasks: %w", err)
	}
	a.workers.Add(1)
	go func() {
		defer a.workers.Done()
		if err := a.queue.Run(a.ctx); err != nil {
			a.logger.Error("queue worker stopped", slog.String("error", err.Error()))
		}
	}()

	if err := a.startServer(cfg); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	go a.watchConfig()

	a.logger.Info("service started",
		slog.String("addr", a.listener.Addr().String()),
		slog.String("storage", cfg.Storage.Type),
		slog.Int("max_concurrency", cfg.Swarm.MaxConcurrency),
	)
	return nil
}

// Shutdown stops accepting requests, lets the task in progress finish and
// releases resources.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.logger.Info("shutting down service")

	var errs []error
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.cancel != nil {
		a.cancel()
	}

	done := make(chan struct{})
	go func() {
		a.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warn("worker did not stop before shutdown deadline")
		errs = append(errs, ctx.Err())
	}

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error("failed to close storage", slog.String("error", err.Error()))
		}
	}

	if a.config != nil {
		if err := a.config.Close(); err != nil {
			a.logger.Error("failed to close config", slog.String("error", err.Error()))
		}
	}

	a.logger.Info("service shutdown complete")
	return errors.Join(errs...)
}

// Addr returns the address the HTTP server listens on.
func (a *App) Addr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Service returns the synchronous analysis path.
func (a *App) Service() *analysis.Service { return a.service }

// Queue returns the task queue.
func (a *App) Queue() *queue.Queue { return a.queue }

func (a *App) initStore(cfg *config.Config) error {
	if a.store != nil {
		return nil
	}
	switch cfg.Storage.Type {
	case "sqlite":
		store, err := sqlite.New(cfg.Storage.SQLite.Path)
		if err != nil {
			return err
		}
		a.store = store
	default:
		a.store = memory.New()
	}
	return nil
}

func (a *App) initAnalysis(cfg *config.Config) {
	if !a.fixedAnalyzer {
		a.analyzer = NewAnalyzer(cfg.Gemini)
	}
	if a.opener == nil {
		a.opener = video.NewOpener(
			video.WithBinaries(cfg.Frames.FFmpegPath, cfg.Frames.FFprobePath),
			video.WithLogger(a.logger),
		)
	}

	a.service = analysis.NewService(a.opener, a.overlay,
		BuildCoordinator(cfg, a.analyzer, a.counter, a.logger),
		analysis.WithClipsDir(cfg.Paths.ClipsDir),
		analysis.WithOutputDir(cfg.Paths.OutputDir),
		analysis.WithFrameWindow(cfg.Frames.WindowSeconds, cfg.Frames.Count),
		analysis.WithLogger(a.logger),
	)
	a.service.SetAdvisor(BuildAdvisor(cfg, a.analyzer, a.logger))
}

// watchConfig watches for config changes and reloads.
func (a *App) watchConfig() {
	onChange := func(newCfg *config.Config) {
		a.logger.Info("config changed, reloading")
		a.reload(newCfg)
	}

	if err := a.config.Watch(a.ctx, onChange); err != nil {
		if !errors.Is(err, context.Canceled) {
			a.logger.Error("config watch failed", slog.String("error", err.Error()))
		}
	}
}

// reload swaps in an orchestrator built from cfg. Tasks already running keep
// the orchestrator they started with. Storage, paths and the listen port are
// fixed for the life of the process.
func (a *App) reload(cfg *config.Config) {
	a.mu.Lock()
	defer a.mu.Unlock()

	analyzer := a.analyzer
	if !a.fixedAnalyzer {
		analyzer = NewAnalyzer(cfg.Gemini)
		a.analyzer = analyzer
	}
	a.service.SetOrchestrator(BuildCoordinator(cfg, analyzer, a.counter, a.logger))
	a.service.SetAdvisor(BuildAdvisor(cfg, analyzer, a.logger))

	a.logger.Info("reload complete",
		slog.Any("agent_models", cfg.Models.Agents),
		slog.Int("max_concurrency", cfg.Swarm.MaxConcurrency),
	)
}

// startServer starts the HTTP server.
func (a *App) startServer(cfg *config.Config) error {
	srv := server.New(a.logger, a.queue, a.service,
		server.WithRequestTimeout(cfg.Server.RequestTimeout),
		server.WithOutputDir(cfg.Paths.OutputDir),
		server.WithFollowUp(a.service),
	)

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.Port))
	if err != nil {
		return err
	}
	a.listener = ln

	// synchronous analyses can outlast the usual write timeout
	a.server = &http.Server{
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.RequestTimeout + 30*time.Second,
	}

	go func() {
		a.logger.Info("HTTP server listening", slog.String("addr", ln.Addr().String()))
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}
