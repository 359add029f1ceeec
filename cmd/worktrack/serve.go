package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/worktrack/engine/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server and the daily batch scheduler",
	Long: `Serves the admin API and the device webhook. When batch.enabled is set,
the daily batch runs on batch.cron in the configured time zone.

On SIGINT/SIGTERM the server stops accepting connections, waits for active
requests and the running batch, and flushes queued notifications within
server.shutdown_timeout.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := buildApp(cmd)
	if err != nil {
		return err
	}
	defer closeApp(a)
	shutdownTimeout, err := cfg.ShutdownTimeout()
	if err != nil {
		return err
	}

	handler := api.NewHandler(a.svc, logger.Named("api"))
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		WebhookRateLimit: cfg.Webhook.RateLimit,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var scheduler *api.Scheduler
	if cfg.Batch.Enabled {
		scheduler, err = api.NewScheduler(a.svc.Runner, cfg.Batch.Cron, a.loc, logger.Named("scheduler"))
		if err != nil {
			return err
		}
		handler.Scheduler = scheduler
	}

	g, ctx := errgroup.WithContext(cmd.Context())

	g.Go(func() error {
		logger.Info("server starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("api", fmt.Sprintf("http://localhost:%d/api", cfg.Server.Port)),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	if scheduler != nil {
		scheduler.Start()
		g.Go(func() error {
			<-ctx.Done()
			select {
			case <-scheduler.Stop().Done():
			case <-time.After(shutdownTimeout):
				logger.Warn("batch still running at shutdown")
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		return err
	}
	logger.Info("server stopped")
	return nil
}
