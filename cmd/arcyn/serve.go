package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httpserver "github.com/fyrsmithlabs/arcyn/internal/http"
)

func newServeCmd() *cobra.Command {
	var (
		host string
		port int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the arcyn HTTP API",
		Long: `Serve the arcyn HTTP API until interrupted.

Examples:
  # Serve on the configured address
  arcyn serve

  # Serve on all interfaces
  arcyn serve --host 0.0.0.0 --port 9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			return runServe(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (default from config)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default from config)")
	return cmd
}

// runServe starts the HTTP server and blocks until a signal or a server
// error, then shuts down within server.shutdown_timeout.
func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	deps := httpserver.Deps{
		Orchestrator: a.orch,
		Memory:       a.memory,
		Usage:        a.usage,
		Events:       a.events,
		Metrics:      httpserver.NewHTTPMetrics(a.logger.Underlying()),
	}
	if a.provider != nil {
		deps.Provider = a.provider
	}
	srv, err := httpserver.NewServer(deps, a.logger.Named("http"), &httpserver.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		Version:         version,
		Metrics:         cfg.Server.Metrics,
		PipelineTimeout: cfg.Pipeline.Timeout.Duration(),
	})
	if err != nil {
		return err
	}

	// Resolve agents before accepting requests.
	a.orch.Resolve(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		a.logger.Info(context.Background(), "received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error(shutdownCtx, "http shutdown failed", zap.Error(err))
		return err
	}
	return nil
}
