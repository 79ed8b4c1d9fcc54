// Package main runs the sensorgraph HTTP API.
package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/c360/sensorgraph/api"
	"github.com/c360/sensorgraph/config"
	"github.com/c360/sensorgraph/graph"
	"github.com/c360/sensorgraph/health"
	"github.com/c360/sensorgraph/metric"
	"github.com/c360/sensorgraph/natsclient"
	"github.com/c360/sensorgraph/repository"
	"github.com/c360/sensorgraph/service"
	"github.com/c360/sensorgraph/storage"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "sensorgraph"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:], os.Stdout); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	cli, err := parseFlags(args)
	if stderrors.Is(err, flag.ErrHelp) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if err := validateFlags(cli); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cli.ShowVersion {
		_, _ = fmt.Fprintf(stdout, "%s version %s\n", appName, Version)
		return nil
	}
	if cli.ShowHelp {
		printDetailedHelp(newFlagSet(&CLIConfig{}))
		return nil
	}

	cfg, err := loadConfig(cli)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cli.PrintConfig {
		out, err := cfg.YAML()
		if err != nil {
			return err
		}
		_, err = stdout.Write(out)
		return err
	}
	if cli.Validate {
		_, _ = fmt.Fprintln(stdout, "Configuration is valid")
		return nil
	}

	logger := setupLogger(stdout, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)
	logger.Info("Starting sensorgraph",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cli.ConfigPath,
		"store_mode", cfg.Store.Mode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg, logger, cli.ShutdownTimeout)
}

// loadConfig merges defaults, the config file, the environment and flags.
func loadConfig(cli *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()
	if cli.LogLevel != "" {
		loader.Set("log.level", cli.LogLevel)
	}
	if cli.LogFormat != "" {
		loader.Set("log.format", cli.LogFormat)
	}
	return loader.Load(cli.ConfigPath)
}

// serve wires the process and blocks until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger, shutdownTimeout time.Duration) error {
	registry := metric.NewMetricsRegistry()
	metrics := registry.CoreMetrics()
	monitor := health.NewMonitor()

	handle, err := storage.Open(ctx, cfg, storage.Options{
		Logger:       logger,
		Metrics:      metrics,
		ClientName:   appName,
		OnNATSStatus: natsHealth(monitor),
	})
	if err != nil {
		return fmt.Errorf("open graph backend: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := handle.Close(closeCtx); err != nil {
			logger.Warn("backend close failed", "error", err)
		}
	}()

	store := graph.NewStore(handle.Backend,
		graph.WithSchema(repository.Schema()),
		graph.WithRetry(storage.RetryConfig(cfg.Store)),
		graph.WithMetrics(metrics),
		graph.WithLogger(logger.With("component", "graph")))

	svc := service.New(repository.New(store),
		service.WithLogger(logger.With("component", "service")),
		service.WithMetrics(registry))
	defer svc.Close()

	api.Version = Version
	server := api.NewServer(api.Config{
		Address:        cfg.HTTP.Address,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		MaxRequestSize: cfg.HTTP.MaxRequestSize,
	}, svc,
		api.WithLogger(logger.With("component", "api")),
		api.WithMetrics(metrics),
		api.WithMonitor(monitor))
	if err := server.Start(); err != nil {
		return err
	}

	var metricsServer *metric.Server
	if cfg.Metrics.Enabled {
		metricsServer = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry)
		if err := metricsServer.Start(); err != nil {
			_ = server.Stop(context.Background())
			return err
		}
		logger.Info("Metrics server listening", "address", metricsServer.Address())
	}

	<-ctx.Done()
	logger.Info("Received shutdown signal")
	return shutdown(server, metricsServer, shutdownTimeout)
}

// natsHealth pushes NATS connection changes into the monitor. The client
// reconnects on its own, so a reconnecting link is degraded, not unhealthy.
func natsHealth(monitor *health.Monitor) func(natsclient.ConnectionStatus) {
	return func(status natsclient.ConnectionStatus) {
		switch status {
		case natsclient.StatusConnected:
			monitor.UpdateHealthy("nats", status.String())
		case natsclient.StatusConnecting, natsclient.StatusReconnecting:
			monitor.UpdateDegraded("nats", status.String())
		default:
			monitor.UpdateUnhealthy("nats", status.String())
		}
	}
}

func shutdown(server *api.Server, metricsServer *metric.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := server.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if metricsServer != nil {
		if err := metricsServer.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := stderrors.Join(errs...); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("Shutdown complete")
	return nil
}
