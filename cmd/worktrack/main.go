/*
main.go - Application entry point

PURPOSE:
  Command line for the WorkTrack attendance and penalty engine. Builds the
  store, the domain services and the notification pipeline from the
  configuration, then either serves HTTP or runs one maintenance job.

COMMANDS:
  serve           HTTP API, device webhook and the scheduled daily batch
  run-penalties   Batch for one day or a window of days, then exit
  recompute       Rebuild daily summaries for one day, then exit

GLOBAL FLAGS:
  --config   YAML config file (default: worktrack.yaml, optional)
  --verbose  Debug logging

ENVIRONMENT:
  See config/config.go. A .env file in the working directory is loaded
  first; variables already set in the environment win.

EXAMPLES:
  ./worktrack serve
  ./worktrack run-penalties --days 7 --dry-run
  ./worktrack recompute --date 2025-03-10 --employee 6f1c...

SEE ALSO:
  - api/server.go: Router configuration
  - api/scheduler.go: Daily batch trigger
  - config/config.go: Configuration
*/
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/worktrack/engine/api"
	"github.com/worktrack/engine/config"
	"github.com/worktrack/engine/notify"
	"github.com/worktrack/engine/settings"
	"github.com/worktrack/engine/store/sqlite"
)

var (
	// Global flags
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "worktrack",
	Short: "Employee attendance and lateness penalty engine",
	Long: `WorkTrack turns badge events from access-control devices into daily
attendance summaries, detects lateness against work schedules and charges
penalties according to the active rule.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(); err != nil {
			return fmt.Errorf("failed to load .env: %w", err)
		}
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		logger, err = newLogger(cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "worktrack.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(serveCmd, runPenaltiesCmd, recomputeCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := cfg.LogLevel()
	if err != nil {
		return nil, err
	}
	if verbose {
		level = zapcore.DebugLevel
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// =============================================================================
// COMPONENT WIRING
// =============================================================================

// app is everything a command needs.
type app struct {
	store      *sqlite.Store
	loc        *time.Location
	svc        api.Services
	dispatcher *notify.Dispatcher
}

// buildApp opens the store, loads the stored settings and starts the
// notification dispatcher. The caller closes it.
func buildApp(cmd *cobra.Command) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	svc := api.NewServices(store, loc, logger)
	if err := svc.Settings.Load(cmd.Context()); err != nil {
		store.Close()
		return nil, err
	}

	backoff, err := cfg.BackoffDuration()
	if err != nil {
		store.Close()
		return nil, err
	}
	telegram := notify.NewTelegram(cfg.Notify.TelegramURL, func() settings.Telegram {
		return svc.Settings.Current().Document.Telegram
	})
	dispatcher := notify.NewDispatcher(telegram, notify.DispatcherOptions{
		QueueSize:  cfg.Notify.QueueSize,
		MaxRetries: cfg.Notify.MaxRetries,
		Backoff:    backoff,
	}, logger.Named("notify"))
	svc.Runner.Notifier = dispatcher
	svc.Runner.WindowDays = cfg.Batch.WindowDays
	svc.Sender = telegram

	logger.Info("database ready",
		zap.String("path", cfg.Database.Path),
		zap.String("time_zone", loc.String()),
		zap.Int("settings_version", svc.Settings.Current().Number),
	)
	return &app{store: store, loc: loc, svc: svc, dispatcher: dispatcher}, nil
}

// close drains queued notifications within the shutdown timeout, then
// closes the store.
func (a *app) close(ctx context.Context) {
	if err := a.dispatcher.Close(ctx); err != nil {
		logger.Warn("notifications dropped on shutdown", zap.Error(err))
	}
	if err := a.store.Close(); err != nil {
		logger.Warn("failed to close database", zap.Error(err))
	}
}
