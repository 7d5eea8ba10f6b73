package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/heron/internal/api"
	"github.com/opensource-finance/heron/internal/bus"
	"github.com/opensource-finance/heron/internal/cache"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/observability"
	"github.com/opensource-finance/heron/internal/repository"
	"github.com/opensource-finance/heron/internal/scoring"
	"github.com/opensource-finance/heron/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and, when enabled, the async worker",
	RunE:  runServe,
}

var (
	serveHost string
	servePort int
)

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (overrides HERON_HOST)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides HERON_PORT)")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := domain.LoadFromEnv()
	if err != nil {
		return err
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}

	observability.InitLogger(cfg.Logging)

	slog.Info("starting heron",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"remote", cfg.Remote.Enabled(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Enabled {
		shutdownTracing := observability.InitTracing(cfg.Tracing.ServiceName)
		defer shutdownTracing(context.Background())
		slog.Info("tracing initialized", "service", cfg.Tracing.ServiceName)
	}

	var serverOpts []api.ServerOption
	if cfg.Metrics.Enabled {
		metrics, err := observability.InitMetrics()
		if err != nil {
			return fmt.Errorf("failed to initialize metrics: %w", err)
		}
		defer metrics.Shutdown(context.Background())
		serverOpts = append(serverOpts, api.WithMetrics(cfg.Metrics.Path, metrics.Handler()))
		slog.Info("metrics initialized", "path", cfg.Metrics.Path)
	}

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type, "two_phase", cfg.Cache.EnableTwoPhase)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize the scorer with the built-in rule set, then switch to the configured one
	engine, err := scoring.NewDefaultEngine()
	if err != nil {
		return fmt.Errorf("failed to initialize scoring engine: %w", err)
	}
	catalog := scoring.NewCatalog(engine, repo, cacheImpl, cfg.Cache.LocalTTL)
	if err := activateConfigured(ctx, catalog, cfg.Scoring.RuleSetVersion); err != nil {
		return err
	}
	slog.Info("scoring engine initialized", "ruleset", engine.Active().Version)

	p, err := newPipeline(cfg.Remote, engine)
	if err != nil {
		return err
	}

	// Initialize async Worker
	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(busImpl, p)
		if err := asyncWorker.Start(worker.Config{Concurrency: cfg.Worker.Concurrency}); err != nil {
			slog.Error("failed to start async worker", "error", err)
			asyncWorker = nil
		}
	}

	handler := api.NewHandler(p, catalog, repo, cacheImpl, busImpl, Version)
	srv := api.NewServer(cfg.Server, handler, serverOpts...)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("heron is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)
	printBanner(cmd, cfg, Version)

	select {
	case <-ctx.Done():
		slog.Info("received shutdown signal")
	case err := <-errCh:
		slog.Error("server failed", "error", err)
		return err
	}
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("heron shutdown complete")
	return nil
}

func printBanner(cmd *cobra.Command, cfg *domain.Config, version string) {
	out := cmd.OutOrStdout()
	remote := "disabled (heuristic only)"
	if cfg.Remote.Enabled() {
		remote = cfg.Remote.URL
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "  HERON - credit decision engine")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Version:  %s\n", version)
	fmt.Fprintf(out, "  Tier:     %s\n", cfg.Tier)
	fmt.Fprintf(out, "  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Fprintf(out, "  Remote:   %s\n", remote)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  Endpoints:")
	fmt.Fprintln(out, "    POST /predict                     - Score an application")
	fmt.Fprintln(out, "    POST /applications                - Queue an application for the worker")
	fmt.Fprintln(out, "    GET  /rulesets                    - List rule sets")
	fmt.Fprintln(out, "    POST /rulesets                    - Store a rule set")
	fmt.Fprintln(out, "    GET  /rulesets/active             - Show the active rule set")
	fmt.Fprintln(out, "    POST /rulesets/{version}/activate - Switch the active rule set")
	fmt.Fprintln(out, "    GET  /health                      - Health check")
	if cfg.Metrics.Enabled {
		fmt.Fprintf(out, "    GET  %-29s - Prometheus metrics\n", cfg.Metrics.Path)
	}
	fmt.Fprintln(out)
}
