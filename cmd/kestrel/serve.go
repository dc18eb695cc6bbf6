package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/worker"
)

func newServeCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the report worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), c.cfg)
		},
	}
	f := cmd.Flags()
	f.String("host", "", "listen host")
	f.Int("port", 0, "listen port")
	f.Float64("threshold", 0, "approval threshold")
	f.String("model", "", "model artifact name")
	f.String("encoder", "", "encoder artifact name")
	return cmd
}

func serve(ctx context.Context, cfg *domain.Config) error {
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"threshold", cfg.Model.Threshold,
	)

	if !cfg.Tracing.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		cacheImpl.Close()
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	app, err := build(ctx, cfg, cacheImpl, busImpl)
	if err != nil {
		busImpl.Close()
		cacheImpl.Close()
		return err
	}
	defer app.Close()

	// Build the explainer reference set before the first request needs it.
	if app.svc.Ready() {
		go func() {
			if err := app.explainer.Init(); err != nil {
				slog.Error("explainer warm-up failed", "error", err)
			}
		}()
	}

	reportWorker := worker.NewWorker(busImpl, app.svc, worker.Config{Timeout: cfg.Report.Timeout})
	if err := reportWorker.Start(); err != nil {
		return fmt.Errorf("failed to start report worker: %w", err)
	}

	srv := api.NewServer(cfg.Server, app.svc, api.Options{
		Report:  cfg.Report,
		Version: Version,
		Checks: map[string]api.Pinger{
			"artifacts": app.artifacts,
			"cache":     cacheImpl,
			"eventbus":  busImpl,
			"worker":    reportWorker,
		},
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"model_loaded", app.svc.Ready(),
	)

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case err := <-errCh:
		reportWorker.Stop()
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	// Let queued reports finish after the listener is closed.
	if err := reportWorker.Stop(); err != nil {
		slog.Error("failed to stop report worker", "error", err)
	}

	slog.Info("kestrel shutdown complete")
	return nil
}
