package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	promclient "github.com/prometheus/client_golang/prometheus"

	"egc/internal/config"
	apierrors "egc/internal/errors"
	"egc/internal/files"
	"egc/internal/infrastructure"
	"egc/internal/ingest"
	"egc/internal/mapping"
	"egc/internal/middleware"
	"egc/internal/operations"
	"egc/internal/services"
	"egc/internal/storage"
	handlers "egc/internal/transport/http"
	ws "egc/internal/websocket"
	"egc/pkg/contracts"
	"egc/pkg/contracts/events"
)

// Store is what the application keeps presets and rollup reports in.
type Store interface {
	mapping.KV
	services.ReportStore
	Close() error
}

// Options override process-wide defaults, mostly for tests.
type Options struct {
	// Console receives console log output. Defaults to os.Stdout.
	Console io.Writer
	// Registerer receives the Prometheus collector. Nil means the default
	// registry.
	Registerer promclient.Registerer
}

// Application represents the main application container
type Application struct {
	Config *config.Config
	Paths  *config.Paths
	Logger *slog.Logger

	OTelProviders *infrastructure.OTelProviders
	Metrics       *infrastructure.BusinessMetrics
	System        *infrastructure.SystemMetrics

	Store        Store
	Uploads      *files.UploadStore
	WebSocketHub *ws.Hub
	Jobs         *operations.JobManager
	Services     *ServiceContainer

	Router chi.Router
	Server *http.Server

	jobsCancel context.CancelFunc
}

// ServiceContainer holds all application services
type ServiceContainer struct {
	Ingest  *services.IngestService
	Calc    *services.CalcService
	Reports *services.ReportService
	Mapping *services.MappingService
	Health  *services.HealthService
}

// NewApplication loads configuration from the environment and builds the
// application.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return New(cfg, Options{})
}

// New wires every component from cfg. Nothing runs until Start.
func New(cfg *config.Config, opts Options) (*Application, error) {
	if opts.Console == nil {
		opts.Console = os.Stdout
	}

	logger, err := infrastructure.NewLogger(cfg.Logging, opts.Console)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	slog.SetDefault(logger)
	logger.Info("Application starting",
		slog.String("name", config.AppName),
		slog.String("version", contracts.Version))

	paths, err := cfg.ResolvePaths()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}
	if err := paths.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to ensure directories: %w", err)
	}
	paths.LogPathResolution(logger)

	a := &Application{Config: cfg, Paths: paths, Logger: logger}
	if err := a.initializeObservability(opts); err != nil {
		return nil, err
	}
	if err := a.initializeStorage(); err != nil {
		return nil, err
	}
	if err := a.initializeServices(); err != nil {
		a.Store.Close()
		return nil, err
	}
	if err := a.setupRouter(); err != nil {
		a.Store.Close()
		return nil, err
	}
	a.createServer()
	return a, nil
}

func (a *Application) initializeObservability(opts Options) error {
	otelCfg := infrastructure.DefaultOTelConfig()
	otelCfg.Registerer = opts.Registerer
	providers, err := infrastructure.InitializeOTel(otelCfg, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	a.OTelProviders = providers

	a.Metrics, err = infrastructure.CreateBusinessMetrics(providers.Meter)
	if err != nil {
		return fmt.Errorf("failed to create business metrics: %w", err)
	}
	a.System, err = infrastructure.NewSystemMetrics(providers.Meter, time.Now())
	if err != nil {
		return fmt.Errorf("failed to create system metrics: %w", err)
	}
	return nil
}

func (a *Application) initializeStorage() error {
	switch a.Config.Storage.Driver {
	case config.StorageSQLite:
		db, err := storage.Open(a.Paths.DatabaseFile)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		a.Store = db
	default:
		a.Store = storage.NewMemory()
	}
	a.Logger.Info("Storage initialized",
		slog.String("driver", a.Config.Storage.Driver),
		slog.String("path", a.Paths.DatabaseFile))
	return nil
}

func (a *Application) initializeServices() error {
	in := a.Config.Ingest

	uploads, err := files.NewUploadStore(a.Paths.UploadsDir, in.MaxUploadBytes, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to open upload store: %w", err)
	}
	a.Uploads = uploads

	a.WebSocketHub = ws.NewHub(a.Logger, a.Metrics)
	a.Jobs = operations.NewJobManager(operations.JobManagerConfig{
		Workers:      in.JobWorkers,
		ChunkBytes:   in.ChunkBytes,
		PreviewLimit: in.PreviewLimit,
		Opener:       uploads,
		Broadcaster:  a.WebSocketHub,
		Metrics:      a.Metrics,
		Logger:       a.Logger,
	})

	presets := mapping.NewPresetStore(a.Store, storage.ErrNotFound)
	a.Services = &ServiceContainer{
		Ingest: services.NewIngestService(uploads, a.Jobs, presets, services.IngestConfig{
			ChunkBytes:   in.ChunkBytes,
			PreviewLimit: in.PreviewLimit,
		}, a.Metrics, a.Logger),
		Calc:    services.NewCalcService(a.Metrics, a.Logger),
		Reports: services.NewReportService(a.Store, a.Metrics, a.Logger),
		Mapping: services.NewMappingService(presets, a.Logger),
	}
	// Readiness checks the resolved directory, not the configured one.
	a.Services.Health = services.NewHealthService(services.HealthDeps{
		Paths:  config.PathsConfig{DataDir: a.Paths.DataDir, WebDir: a.Paths.WebDir, LogsDir: a.Paths.LogsDir},
		Jobs:   a.Jobs,
		Hub:    a.WebSocketHub,
		Store:  a.Store,
		System: a.System,
	}, a.Logger)
	return nil
}

func (a *Application) setupRouter() error {
	cfg := a.Config
	errorHandler := apierrors.NewErrorHandler(a.Logger, cfg.Logging.Development)
	validation := middleware.NewValidationMiddleware(a.Logger, errorHandler, 0)

	wsHandler := ws.NewHandler(a.WebSocketHub, ws.HandlerConfig{
		WebSocket: cfg.WebSocket,
		Session: ws.SessionConfig{
			Opener:       a.Uploads,
			ChunkBytes:   cfg.Ingest.ChunkBytes,
			PreviewLimit: cfg.Ingest.PreviewLimit,
			OnResult:     a.logSessionResult,
		},
		AllowedOrigins: cfg.Security.AllowedOrigins,
		Logger:         a.Logger,
	})

	var static http.Handler
	if config.FileExists(a.Paths.WebDir) {
		static = http.FileServer(http.Dir(a.Paths.WebDir))
	}

	router, err := handlers.NewRouter(handlers.RouterConfig{
		Server:       cfg.Server,
		Security:     cfg.Security,
		Logger:       a.Logger,
		ErrorHandler: errorHandler,
		Validation:   validation,
		OTel:         a.OTelProviders,
		Metrics:      a.Metrics,
		Health:       handlers.NewHealthHandler(a.Services.Health, a.Logger),
		Calc:         handlers.NewCalcHandler(a.Services.Calc, validation),
		Ingest:       handlers.NewIngestHandler(a.Services.Ingest, validation, errorHandler, a.Logger),
		Rollups:      handlers.NewRollupsHandler(a.Services.Reports, validation, errorHandler, a.Logger),
		Mapping:      handlers.NewMappingHandler(a.Services.Mapping, validation, errorHandler, a.Logger),
		Stats:        handlers.NewMetricsHandler(a.OTelProviders.PrometheusHTTP, a.Jobs, a.WebSocketHub, a.System, errorHandler),
		WebSocket:    wsHandler,
		Static:       static,
	})
	if err != nil {
		return fmt.Errorf("failed to build router: %w", err)
	}
	a.Router = router
	return nil
}

func (a *Application) logSessionResult(cmd events.Command, res ingest.Result) {
	a.Logger.Info("websocket ingest finished",
		slog.String("source", cmd.Source),
		slog.String("phase", string(res.Phase)),
		slog.Int64("rows", res.State.TotalRows),
		slog.Int("chunks", res.Chunks),
		slog.Duration("duration", res.Duration))
}

// createServer creates the HTTP server
func (a *Application) createServer() {
	s := a.Config.Server
	a.Server = &http.Server{
		Addr:              s.Addr(),
		Handler:           a.Router,
		ReadHeaderTimeout: s.ReadTimeout,
		ReadTimeout:       s.ReadTimeout,
		WriteTimeout:      s.WriteTimeout,
		IdleTimeout:       s.IdleTimeout,
		MaxHeaderBytes:    s.MaxHeaderBytes,
		ErrorLog:          slog.NewLogLogger(a.Logger.Handler(), slog.LevelWarn),
	}
}

// Start starts background workers and begins serving on ln. A nil listener
// listens on the configured address. Serve failures call cancel.
func (a *Application) Start(ctx context.Context, ln net.Listener, cancel context.CancelFunc) error {
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.Server.Addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", a.Server.Addr, err)
		}
	}

	a.WebSocketHub.Start()
	jobsCtx, jobsCancel := context.WithCancel(context.WithoutCancel(ctx))
	a.jobsCancel = jobsCancel
	a.Jobs.Start(jobsCtx)
	a.Jobs.StartCleanup(jobsCtx, a.Config.Ingest.JobRetention)

	go func() {
		if err := a.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.ErrorContext(ctx, "Server error", slog.String("error", err.Error()))
			cancel()
		}
	}()

	a.Logger.InfoContext(ctx, "Application started",
		slog.String("address", ln.Addr().String()),
		slog.String("storage", a.Config.Storage.Driver),
		slog.Int("job_workers", a.Config.Ingest.JobWorkers))
	return nil
}

// Stop gracefully stops the application: the server drains first, then
// jobs, WebSocket clients, storage and telemetry.
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
	}

	if err := a.Jobs.Stop(a.Config.Server.ShutdownTimeout); err != nil {
		a.Logger.ErrorContext(ctx, "Failed to stop job manager gracefully", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	if a.jobsCancel != nil {
		a.jobsCancel()
	}
	a.WebSocketHub.Stop()

	if err := a.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("storage close error: %w", err))
	}
	if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
		a.Logger.ErrorContext(ctx, "Error shutting down OpenTelemetry", slog.String("error", err.Error()))
	}
	if err := infrastructure.CloseLogFile(); err != nil {
		errs = append(errs, err)
	}

	a.Logger.InfoContext(ctx, "Application shutdown complete")
	return errors.Join(errs...)
}

// Run runs the application until interrupted
func (a *Application) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx, nil, stop); err != nil {
		return err
	}
	<-ctx.Done()
	a.Logger.Info("Received shutdown signal")

	return a.Stop(context.Background())
}
