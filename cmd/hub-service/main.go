// hub-service is the live coordination server for batch image-processing
// jobs: it drives the worker pool and streams progress, results and system
// telemetry to every connected websocket observer.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"imagehub/internal/api"
	"imagehub/internal/config"
	"imagehub/internal/filter"
	"imagehub/internal/health"
	"imagehub/internal/hub"
	"imagehub/internal/imagestore"
	"imagehub/internal/job"
	"imagehub/internal/notify"
	"imagehub/internal/observability"
	"imagehub/internal/pool"
	"imagehub/internal/telemetry"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(); err != nil {
		slog.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.LoadServiceConfig()

	// Setup metrics
	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	// Image locations
	store := imagestore.New(cfg.InputDir, cfg.OutputDir)

	// Filter engine + worker pool
	engine := filter.New()
	dispatcher := pool.New(engine)

	// Observer hub; the controller is bound below, before serving.
	observers := hub.New(metrics)

	// Telemetry sampler
	sampler := telemetry.New(observers, telemetry.Config{
		Interval: cfg.SampleInterval,
		Metrics:  metrics,
	})

	// Optional webhook notifier
	var notifier *notify.Notifier
	if cfg.WebhookURL != "" {
		notifier = notify.New(notify.Config{
			URL:        cfg.WebhookURL,
			SigningKey: cfg.WebhookSigningKey,
		}, metrics)
	}

	controllerCfg := job.Config{
		Store:              store,
		Dispatcher:         dispatcher,
		Hub:                observers,
		Metrics:            metrics,
		EngineAvailable:    true,
		TelemetryAvailable: sampler.Available,
	}
	if notifier != nil {
		controllerCfg.Notifier = notifier
	}
	controller := job.NewController(ctx, controllerCfg)
	observers.SetController(controller)

	go observers.Run(ctx)
	go sampler.Run(ctx)

	// Health checker
	healthChecker := health.NewChecker(store, sampler)

	// API router
	router := api.NewRouter(api.RouterConfig{
		Hub:           observers,
		HealthChecker: healthChecker,
		Metrics:       metrics,
	})

	apiServer := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + cfg.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		slog.Info("Starting API server", "port", cfg.Port, "inputDir", cfg.InputDir)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	go func() {
		slog.Info("Starting metrics server", "port", cfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// shutdown closes both servers gracefully
	shutdown := func(timeout time.Duration) {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), timeout)
		defer cancelShutdown()

		if err := apiServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server shutdown error", "error", err)
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErr:
		slog.Error("Server failed to start", "error", err)
		shutdown(5 * time.Second)
		return err
	}

	// Phase 1: mark unready so load balancers stop sending observers
	healthChecker.SetShuttingDown()
	if cfg.ShutdownDrainWait > 0 {
		slog.Info("Waiting for traffic to drain", "duration", cfg.ShutdownDrainWait)
		time.Sleep(cfg.ShutdownDrainWait)
	}

	// Phase 2: graceful shutdown; cancelling ctx closes observer
	// connections and abandons admission of new pool tasks
	slog.Info("Starting graceful shutdown")
	cancel()
	shutdown(25 * time.Second)

	// Phase 3: drain the webhook notifier
	if notifier != nil {
		slog.Info("Draining webhook notifier")
		notifierCtx, cancelNotifier := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelNotifier()
		if err := notifier.Close(notifierCtx); err != nil {
			slog.Warn("Notifier shutdown error", "error", err)
		}

		stats := notifier.Stats()
		slog.Info("Notifier stats",
			"delivered", stats.Delivered,
			"failed", stats.Failed,
			"dropped", stats.Dropped,
		)
	}

	slog.Info("Shutdown complete")
	return nil
}
