// Package main is the entry point for the chipdesk server.
// It wires the remote wallet API, the confirmation poller, the outcome
// publisher and the HTTP API through the service registry.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/cmatc13/chipdesk/internal/api"
	"github.com/cmatc13/chipdesk/internal/chip"
	"github.com/cmatc13/chipdesk/internal/events"
	"github.com/cmatc13/chipdesk/internal/lumx"
	"github.com/cmatc13/chipdesk/internal/txflow"
	"github.com/cmatc13/chipdesk/pkg/config"
	"github.com/cmatc13/chipdesk/pkg/health"
	"github.com/cmatc13/chipdesk/pkg/logging"
	"github.com/cmatc13/chipdesk/pkg/metrics"
	"github.com/cmatc13/chipdesk/pkg/service"
)

func main() {
	fs := pflag.NewFlagSet("chipdesk", pflag.ExitOnError)
	config.RegisterFlags(fs)
	_ = fs.Parse(os.Args[1:])

	opts := config.DefaultLoadOptions()
	opts.Flags = fs
	if v, _ := fs.GetString("config"); v != "" {
		opts.ConfigFile = v
	}
	if v, _ := fs.GetString("env-file"); v != "" {
		opts.EnvFile = v
	}

	cfg, err := config.LoadWithOptions(opts)
	if err != nil {
		logging.New(logging.DefaultConfig()).Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Config{
		Level:       logging.LogLevel(cfg.Log.Level),
		Output:      os.Stdout,
		ServiceName: "chipdesk",
		Environment: cfg.Log.Environment,
	})
	m := metrics.New(metrics.Config{Namespace: cfg.Metrics.Namespace, ServiceName: "chipdesk"})

	if err := cfg.RequireCredentials(); err != nil {
		// The server still starts; chip operations fail until credentials arrive.
		logger.Warn("Remote API credentials are not configured", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	healthRegistry := health.NewRegistry(logger)
	healthRegistry.Register("lumx", health.DependencyChecker("lumx", cfg.Lumx.BaseURL, func(context.Context) error {
		return cfg.RequireCredentials()
	}))

	client := lumx.NewClientFromConfig(cfg.Lumx).WithMetrics(m)
	poller := txflow.NewPoller(client, cfg.Poll).
		WithLogger(logger.WithField("component", "poller")).
		WithMetrics(m)

	if cfg.Redis.Enabled {
		lease := txflow.NewRedisLeaseFromConfig(cfg.Redis).WithMetrics(m)
		if err := lease.Ping(ctx); err != nil {
			logger.Error("Failed to connect to Redis", "address", cfg.Redis.Address, "error", err)
			os.Exit(1)
		}
		defer lease.Close()
		poller.WithLease(lease)
		healthRegistry.Register("redis", health.DependencyChecker("redis", cfg.Redis.Address, lease.Ping))
		logger.Info("Using Redis in-flight lease", "address", cfg.Redis.Address)
	}

	publisher, err := events.NewPublisher(cfg.Kafka, logger.WithField("component", "events"), m)
	if err != nil {
		logger.Error("Failed to initialize outcome publisher", "error", err)
		os.Exit(1)
	}
	if cfg.Kafka.Brokers != "" {
		healthRegistry.Register("kafka", health.DependencyChecker("kafka", cfg.Kafka.Brokers, publisher.Ping))
	}

	desk := chip.NewDesk(client, poller, cfg.Lumx).
		WithPublisher(publisher).
		WithLogger(logger.WithField("component", "desk"))

	registry := service.NewRegistry(logger)

	if err := registry.Register(events.NewPublisherService(publisher)); err != nil {
		logger.Error("Failed to register publisher service", "error", err)
		os.Exit(1)
	}
	if err := registry.Register(api.NewAPIService(cfg, desk, logger.WithField("component", "api"), m, healthRegistry)); err != nil {
		logger.Error("Failed to register API service", "error", err)
		os.Exit(1)
	}

	logger.Info("Starting all services...")
	if err := registry.StartAll(ctx); err != nil {
		logger.Error("Failed to start services", "error", err)
		os.Exit(1)
	}
	logger.Info("All services started successfully", "port", cfg.API.Port)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	logger.Info("Shutting down gracefully...", "in_flight", poller.InFlight())
	cancel()
	poller.Shutdown()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer stopCancel()
	if err := registry.StopAll(stopCtx); err != nil {
		logger.Error("Error during shutdown", "error", err)
	}

	logger.Info("Shutdown complete")
}
