// Command collectord is the collector's process entrypoint: load
// configuration, initialize telemetry, open storage, construct the
// embeddable App, and serve /healthz and /metrics until a shutdown signal
// arrives.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/tuplestream/collector"
	"github.com/tuplestream/collector/internal/config"
	"github.com/tuplestream/collector/internal/telemetry"
	"github.com/tuplestream/collector/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(ctx, logger); err != nil {
		logger.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger = logger.With("level", cfg.Logging.Level)
	logger.Info("collectord starting", "version", version, "backend", cfg.Database.Backend, "destination", cfg.Destination.URI)

	otelShutdown, err := telemetry.Init(ctx, os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"), "collectord", version, true)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	reg := telemetry.NewRegistry()

	app, err := collector.New(ctx, cfg, collector.WithLogger(logger), collector.WithMetricsRegisterer(reg))
	if err != nil {
		return fmt.Errorf("collector: %w", err)
	}

	if err := app.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	var srv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		mux.Handle("/metrics", telemetry.MetricsHandler(reg))

		srv = &http.Server{Addr: cfg.Metrics.Address, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error", "error", err)
			}
		}()
		logger.Info("metrics server listening", "address", cfg.Metrics.Address)
	}

	runErr := app.Run(ctx)

	if srv != nil {
		_ = srv.Shutdown(context.Background())
	}

	return runErr
}
