package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"invoiceflow/internal/config"
	"invoiceflow/internal/infrastructure"
	customMiddleware "invoiceflow/internal/middleware"
	"invoiceflow/internal/operations"
	"invoiceflow/internal/services"
	handlers "invoiceflow/internal/transport/http"
	ws "invoiceflow/internal/websocket"
)

const (
	Version = "1.0.0"
	AppName = "InvoiceFlow"
)

// Application represents the main application container
type Application struct {
	Config         *config.Config
	Router         *chi.Mux
	Server         *http.Server
	Logger         *slog.Logger
	OTelProviders  *infrastructure.OTelProviders
	Registry       *ws.Registry
	Hub            *ws.Hub
	Store          *operations.Store
	Executor       *operations.Executor
	Orchestrator   *operations.Orchestrator
	InvoiceService *services.InvoiceService
	HealthService  *services.HealthService

	// bgCancel stops the cleanup and sweeper goroutines
	bgCancel context.CancelFunc
}

// NewApplication creates a new application instance with dependency injection
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("application starting",
		slog.String("name", AppName),
		slog.String("version", Version))

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to ensure directories: %w", err)
	}

	otelProviders, err := infrastructure.InitializeOTel(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	app := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: otelProviders,
	}

	if err := app.initializeServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.setupRouter()
	app.createServer()

	return app, nil
}

// initializeServices wires the registry, hub, stores and services
func (a *Application) initializeServices() error {
	wsMetrics, err := ws.NewMetrics(a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to create websocket metrics: %w", err)
	}

	a.Registry = ws.NewRegistry(ws.RegistryOptions{
		SendBuffer:    a.Config.WebSocket.SendBufferSize,
		IdleThreshold: a.Config.WebSocket.IdleThreshold,
		SweepInterval: a.Config.WebSocket.SweepInterval,
		PongWait:      a.Config.WebSocket.PongWait,
		WriteWait:     a.Config.WebSocket.WriteWait,
	}, a.Logger, wsMetrics)

	a.Hub = ws.NewHub(a.Registry, a.Logger)

	invoiceService, err := services.NewInvoiceService(a.Config.Storage.UploadDir, a.Hub, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize invoice service: %w", err)
	}
	a.InvoiceService = invoiceService

	opConfig := &operations.Config{
		ItemTimeout:      a.Config.Operations.ItemTimeout,
		InterItemRate:    a.Config.Operations.InterItemRate,
		MaxConcurrent:    a.Config.Operations.MaxConcurrent,
		Retention:        a.Config.Operations.Retention,
		CleanupInterval:  a.Config.Operations.CleanupInterval,
		MaxErrorLength:   a.Config.Operations.MaxErrorLength,
		ListDefaultLimit: a.Config.Operations.ListDefaultLimit,
	}

	a.Store = operations.NewStore()
	a.Executor = operations.NewExecutor(
		a.Store,
		ws.NewOperationSink(a.Hub),
		invoiceService,
		invoiceService,
		opConfig,
		a.Logger,
	)

	orchestrator, err := operations.NewOrchestrator(a.Store, a.Executor, opConfig, a.Logger, a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to initialize orchestrator: %w", err)
	}
	a.Orchestrator = orchestrator

	a.HealthService = services.NewHealthService(Version, a.Logger)
	a.HealthService.RegisterComponent("operations", a.Orchestrator)
	a.HealthService.RegisterComponent("websocket", a.Registry)
	a.HealthService.RegisterComponent("invoices", a.InvoiceService)

	return nil
}

// setupRouter configures the HTTP router with all routes
func (a *Application) setupRouter() {
	r := chi.NewRouter()

	// Minimal middleware that won't interfere with the websocket upgrade
	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)

	// WebSocket route must stay outside the wrapping middleware group
	wsHandler := handlers.NewWebSocketHandler(
		a.Registry,
		a.Config.WebSocket.ReadBufferSize,
		a.Config.WebSocket.WriteBufferSize,
		a.Logger,
	)
	r.Handle("/ws", wsHandler)

	r.Group(func(r chi.Router) {
		r.Use(customMiddleware.StructuredLogger(a.Logger))
		r.Use(customMiddleware.Recoverer(a.Logger))
		r.Use(customMiddleware.SecurityHeaders)
		r.Use(customMiddleware.Compress(5))
		r.Use(customMiddleware.NewRateLimiter(
			a.Config.Server.RateLimitRPS,
			a.Config.Server.RateLimitBurst,
			a.Logger,
		).Handler)

		r.Route("/api", func(r chi.Router) {
			r.Use(render.SetContentType(render.ContentTypeJSON))
			r.Use(customMiddleware.Timeout(a.Config.Server.ReadTimeout, a.Logger))

			r.Get("/health", handlers.NewHealthHandler(a.HealthService, a.Logger).ServeHTTP)

			operationsHandler := handlers.NewOperationsHandler(a.Orchestrator, a.Logger)
			r.Mount("/operations", operationsHandler.Routes())
		})
	})

	// Prometheus metrics endpoint stays outside the middleware group
	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	a.Router = r
}

// createServer builds the HTTP server from configuration
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
	}
}

// Start launches the HTTP server and background loops
func (a *Application) Start(ctx context.Context, cancel context.CancelFunc) error {
	a.Logger.InfoContext(ctx, "starting application",
		slog.String("name", AppName),
		slog.String("version", Version),
		slog.Int("port", a.Config.Server.Port),
		slog.String("level", a.Config.Logging.Level))

	bgCtx, bgCancel := context.WithCancel(context.Background())
	a.bgCancel = bgCancel
	go a.Orchestrator.RunCleanupLoop(bgCtx)
	go a.Registry.RunSweeper(bgCtx)

	go func() {
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.ErrorContext(ctx, "server error", slog.String("error", err.Error()))
			cancel()
		}
	}()

	a.Logger.InfoContext(ctx, "application started",
		slog.String("address", fmt.Sprintf("http://localhost:%d", a.Config.Server.Port)))

	return nil
}

// Stop gracefully shuts down the server and background services
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	if a.bgCancel != nil {
		a.bgCancel()
	}

	// Let in-flight operations finish their current item and finalize
	a.Executor.Wait()

	a.Registry.CloseAll()

	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			a.Logger.ErrorContext(ctx, "error shutting down OpenTelemetry",
				slog.String("error", err.Error()))
		}
	}

	infrastructure.CloseLogFile()

	a.Logger.InfoContext(ctx, "application shutdown complete")
	return nil
}

// Run runs the application until interrupted
func (a *Application) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	if err := a.Start(ctx, cancel); err != nil {
		return err
	}

	select {
	case <-sigChan:
		a.Logger.InfoContext(ctx, "received interrupt signal")
	case <-ctx.Done():
	}

	return a.Stop(context.Background())
}
