package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/minutes/config"
	"github.com/otherjamesbrown/minutes/pkg/buildinfo"
	"github.com/otherjamesbrown/minutes/pkg/logging"
	"github.com/otherjamesbrown/minutes/pkg/minutes/api"
)

// Serve command flags.
var (
	serveAddr      string
	serveNoWorkers bool
	serveLogFormat string
)

// NewServeCommand creates the serve command.
func NewServeCommand(deps *CommandDeps) *cobra.Command {
	deps = deps.orDefault()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the API server and pipeline workers",
		Long: `Run the minutes HTTP API together with the worker pool.

On start the server connects to the job store and queue, applies pending
database migrations, re-enqueues jobs interrupted by a previous shutdown and
starts the workers. SIGINT or SIGTERM drains in-flight requests and stops the
workers.

Backends are chosen by the backend section of the config file. With
backend.store=memory and backend.queue=memory the server runs without
PostgreSQL or Redis, which is useful for local trials.

Examples:
  # Run with the config in ~/.minutes/config.yaml
  minutes serve

  # Listen on another port
  minutes serve --addr :9090

  # API only; workers run elsewhere with 'minutes worker'
  minutes serve --no-workers`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), deps)
		},
	}

	cmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config, :8080)")
	cmd.Flags().BoolVar(&serveNoWorkers, "no-workers", false, "Do not run pipeline workers in this process")
	cmd.Flags().StringVar(&serveLogFormat, "log-format", "json", "Log format: json or console")

	return cmd
}

// NewWorkerCommand creates the worker command.
func NewWorkerCommand(deps *CommandDeps) *cobra.Command {
	deps = deps.orDefault()

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run pipeline workers without the API",
		Long: `Run the pipeline worker pool without the HTTP API.

Workers claim job ids from the Redis queue, advance each job one stage at a
time and persist the result. Any number of worker processes can share one
PostgreSQL store and Redis queue.

The worker needs shared backends: backend.store must be postgres and
backend.queue must be redis.

Examples:
  minutes worker`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context(), deps)
		},
	}

	cmd.Flags().StringVar(&serveLogFormat, "log-format", "json", "Log format: json or console")

	return cmd
}

func serviceLogger(cfg *config.ServiceConfig, service string) logging.Logger {
	lc := cfg.Logging(service, os.Stderr)
	lc.JSONFormat = serveLogFormat != "console"
	logger := logging.NewLogger(lc)
	logging.SetGlobal(logger)
	return logger
}

func runServe(ctx context.Context, deps *CommandDeps) error {
	cfg, err := deps.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if serveAddr != "" {
		cfg.HTTP.Addr = serveAddr
	}
	if serveNoWorkers && cfg.Backend.Queue == config.QueueMemory {
		return errors.New("--no-workers needs a shared queue; set backend.queue to redis")
	}

	logger := serviceLogger(cfg, "minutes-api")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	if !serveNoWorkers {
		pool, err := rt.startWorkers(ctx)
		if err != nil {
			return err
		}
		defer pool.Stop()
	}

	opts := []api.Option{
		api.WithLogger(logger),
		api.WithBlobHandler(rt.blobs.Handler()),
		api.WithMaxUploadBytes(cfg.HTTP.MaxUploadBytes),
		api.WithRequestTimeout(cfg.HTTP.RequestTimeout),
	}
	if cfg.HTTP.Metrics {
		opts = append(opts, api.WithMetricsHandler(promhttp.HandlerFor(rt.registry, promhttp.HandlerOpts{})))
	}
	for name, check := range rt.healthChecks() {
		opts = append(opts, api.WithHealthCheck(name, check))
	}
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.NewServer(rt.orch, rt.blobs, opts...).Router(),
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("API listening",
			logging.F("addr", cfg.HTTP.Addr),
			logging.F("version", buildinfo.Version),
			logging.F("commit", buildinfo.ResolvedCommit()),
			logging.F("workers", !serveNoWorkers),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}

func runWorker(ctx context.Context, deps *CommandDeps) error {
	cfg, err := deps.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if cfg.Backend.Store == config.StoreMemory || cfg.Backend.Queue == config.QueueMemory {
		return errors.New("worker needs shared backends; set backend.store to postgres and backend.queue to redis")
	}

	logger := serviceLogger(cfg, "minutes-worker")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	pool, err := rt.startWorkers(ctx)
	if err != nil {
		return err
	}
	logger.Info("Workers started", logging.F("count", cfg.Workers.Count))

	<-ctx.Done()
	logger.Info("Stopping workers")
	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(cfg.HTTP.ShutdownTimeout):
		logger.Warn("Workers did not stop before the shutdown timeout")
	}
	return nil
}
