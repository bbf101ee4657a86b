package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/autohealai/autoheal-core/internal/api"
	"github.com/autohealai/autoheal-core/internal/audit"
	"github.com/autohealai/autoheal-core/internal/config"
	"github.com/autohealai/autoheal-core/internal/decision"
	"github.com/autohealai/autoheal-core/internal/engine"
	"github.com/autohealai/autoheal-core/internal/executor"
	"github.com/autohealai/autoheal-core/internal/incident"
	"github.com/autohealai/autoheal-core/internal/metrics"
	"github.com/autohealai/autoheal-core/internal/utils"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	slog.SetDefault(logger)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	trail := audit.NewTrail(cfg.Audit.MaxRecords, logger)
	store := incident.NewStore()
	updater := incident.NewStatusUpdater(store, logger)
	maker := decision.NewMaker()
	dispatcher := executor.NewDispatcher(cfg.Executor.BaseURL, cfg.Executor.ExecutePath, cfg.Executor.Timeout, logger)

	eng := engine.New(cfg.Healing, maker, dispatcher, engine.Options{
		Incidents: updater,
		Sink:      trail,
	}, logger)

	autoTrigger := cfg.Healing.Enabled && !cfg.Healing.ApprovalRequired
	notifier := engine.NewAsyncNotifier(eng, logger)
	correlator := incident.NewCorrelator(store, cfg.Incident.CorrelationWindow, trail, notifier, autoTrigger, logger)

	handler := api.NewHandler(correlator, store, eng, trail, cfg, logger)
	server := api.NewServer(cfg.Server, handler, logger)

	metricsServer := &http.Server{
		Addr:              cfg.Server.MetricsAddress,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() { errCh <- server.Start() }()
	go func() {
		logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	logger.Info("autoheal core started",
		slog.String("mode", string(cfg.Healing.Mode)),
		slog.Bool("healing_enabled", cfg.Healing.Enabled),
		slog.Duration("correlation_window", cfg.Incident.CorrelationWindow))

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", slog.Any("error", err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown failed", slog.Any("error", err))
	}
	logger.Info("autoheal core stopped")
}
