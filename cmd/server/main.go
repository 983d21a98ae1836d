package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/irfndi/covid-pulse-go/internal/api"
	"github.com/irfndi/covid-pulse-go/internal/cache"
	"github.com/irfndi/covid-pulse-go/internal/config"
	"github.com/irfndi/covid-pulse-go/internal/database"
	"github.com/irfndi/covid-pulse-go/internal/logging"
	"github.com/irfndi/covid-pulse-go/internal/middleware"
	"github.com/irfndi/covid-pulse-go/internal/services"
	"github.com/irfndi/covid-pulse-go/internal/telemetry"
	"github.com/irfndi/covid-pulse-go/pkg/jhu"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Application failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logging.NewStandardLogger(cfg.LogLevel, cfg.Environment)
	logrusLogger := logging.NewLogrusLogger(cfg.LogLevel)
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := telemetry.InitTelemetry(ctx, telemetryConfig(cfg)); err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Failed to shutdown telemetry")
		}
	}()

	db, err := database.NewPostgresConnection(ctx, cfg.Database, logrusLogger)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, db.Pool); err != nil {
			return err
		}
	}

	redis, err := database.NewRedisConnection(ctx, cfg.Redis, logrusLogger)
	if err != nil {
		return err
	}
	defer redis.Close()

	repository := database.NewSeriesRepository(database.NewTracedPool(db.Pool).WithLogger(logger))
	dashboardCache := cache.NewDashboardCache(redis.Client, cfg.Dashboard.GetCacheTTL(), logger)
	tracer := telemetry.NewBusinessTracer()

	breaker := services.NewUpstreamBreaker(cfg.Source, logrusLogger)
	source := jhu.NewClient(&cfg.Source, logrusLogger)
	ingest := services.NewIngestService(cfg.Ingest, source, breaker, repository, dashboardCache, tracer, logrusLogger)
	dashboard, err := services.NewDashboardService(cfg.Dashboard, repository, dashboardCache, tracer, logger)
	if err != nil {
		return err
	}

	ingest.Start()
	defer ingest.Stop()

	version := cfg.Telemetry.ServiceVersion
	if version == "" {
		version = telemetry.ServiceVersion
	}

	router := api.NewRouter(api.Dependencies{
		Dashboard:      dashboard,
		Ingest:         ingest,
		Runs:           repository,
		DB:             db,
		Redis:          redis,
		Cache:          dashboardCache,
		Upstream:       breaker,
		Admin:          middleware.NewAdminMiddleware(cfg.Security.AdminAPIKeyHash),
		Logger:         logger,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		ServiceName:    telemetry.ServiceName,
		Version:        version,
	})

	srv, err := newHTTPServer(cfg.Server, router)
	if err != nil {
		return err
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.LogStartup(telemetry.ServiceName, version, cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
		logger.LogShutdown(telemetry.ServiceName, "signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Logger().Info("Server exited gracefully")
	return nil
}

func telemetryConfig(cfg *config.Config) telemetry.TelemetryConfig {
	tc := *telemetry.DefaultConfig()
	tc.Enabled = cfg.Telemetry.Enabled
	tc.Environment = cfg.Environment
	if cfg.Telemetry.Exporter != "" {
		tc.Exporter = cfg.Telemetry.Exporter
	}
	if cfg.Telemetry.OTLPEndpoint != "" {
		tc.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	}
	if cfg.Telemetry.ServiceName != "" {
		tc.ServiceName = cfg.Telemetry.ServiceName
	}
	if cfg.Telemetry.ServiceVersion != "" {
		tc.ServiceVersion = cfg.Telemetry.ServiceVersion
	}
	if cfg.Telemetry.SampleRate > 0 {
		tc.SampleRate = cfg.Telemetry.SampleRate
	}
	return tc
}

func newHTTPServer(cfg config.ServerConfig, handler http.Handler) (*http.Server, error) {
	readTimeout, err := durationOr(cfg.ReadTimeout, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid server.read_timeout: %w", err)
	}
	writeTimeout, err := durationOr(cfg.WriteTimeout, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid server.write_timeout: %w", err)
	}

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}, nil
}

func durationOr(value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	return time.ParseDuration(value)
}
