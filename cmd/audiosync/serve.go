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
	"time"

	"github.com/spf13/cobra"

	"github.com/maauso/audiosync/internal/bootstrap"
	"github.com/maauso/audiosync/internal/server"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var origins []string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), ctx, origins)
		},
	}
	cmd.Flags().StringSliceVar(&origins, "cors-origin", []string{"*"}, "Allowed CORS origins")
	return cmd
}

func runServe(parent context.Context, cc *commandContext, origins []string) error {
	cfg, logger, err := cc.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.Info("starting audiosync",
		slog.Int("port", cfg.Port),
		slog.String("log_format", cfg.LogFormat),
		slog.String("log_level", cfg.LogLevel),
		slog.String("temp_dir", cfg.TempDir),
		slog.Int("batch_concurrency", cfg.BatchConcurrency),
		slog.Int("task_concurrency", cfg.TaskConcurrency),
		slog.Bool("s3_enabled", cfg.S3Enabled()),
	)

	deps, err := bootstrap.NewDependencies(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}
	if parent == nil {
		parent = context.Background()
	}
	deps.Tasks.Start(parent)

	handlers := server.NewHandlers(deps.Store, deps.Tasks, deps.Workflows, logger)
	router := server.NewRouter(handlers, logger, server.Config{AllowedOrigins: origins})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown handling
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdownCh)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening",
			slog.String("addr", srv.Addr),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
	}()

	var serveErr error
	select {
	case sig := <-shutdownCh:
		logger.Info("received shutdown signal",
			slog.String("signal", sig.String()),
		)
	case <-parent.Done():
		logger.Info("context cancelled")
	case serveErr = <-errCh:
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("shutting down server...")
	if err := srv.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = fmt.Errorf("shutdown failed: %w", err)
	}
	if err := deps.Tasks.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = err
	}
	deps.Store.Close()

	if serveErr != nil {
		return serveErr
	}
	logger.Info("server stopped gracefully")
	return nil
}
