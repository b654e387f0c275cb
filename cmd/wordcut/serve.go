package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/wordcut/internal/app"
	"github.com/MrWong99/wordcut/internal/config"
	"github.com/MrWong99/wordcut/internal/mcpserver"
	"github.com/MrWong99/wordcut/internal/observe"
)

func serveCmd() *cobra.Command {
	var (
		configPath string
		reload     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the editing server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if code := serve(configPath, reload); code != 0 {
				return fmt.Errorf("wordcut: serve exited with status %d", code)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML configuration file")
	cmd.Flags().DurationVar(&reload, "reload-interval", 5*time.Second, "how often the config file is checked for changes")
	return cmd
}

func serve(configPath string, reload time.Duration) int {
	// ── Load configuration ────────────────────────────────────────────────────
	var running atomic.Pointer[app.App]
	watcher, err := config.NewWatcher(configPath, func(old, new *config.Config) {
		if a := running.Load(); a != nil {
			a.ApplyConfig(old, new)
		}
	}, config.WithInterval(reload))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "wordcut: config file %q not found — copy configs/example.yaml to get started\n", configPath)
		} else {
			fmt.Fprintf(os.Stderr, "wordcut: %v\n", err)
		}
		return 1
	}
	defer watcher.Stop()
	cfg := watcher.Current()

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	newLogger(level, cfg.Server.LogLevel)

	slog.Info("wordcut starting",
		"config", configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "wordcut",
		ServiceVersion: mcpserver.Version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg,
		app.WithLogLevel(level),
		app.WithMetricsHandler(tel.MetricsHandler()),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	running.Store(application)

	slog.Info("server ready — press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout+5*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}
