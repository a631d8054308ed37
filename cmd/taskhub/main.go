// Package main provides the CLI entry point for the taskhub
// collaboration server.
//
// Taskhub keeps every connected device of a user in sync: task changes,
// presence, typing indicators, activity history and reminders fan out
// over websockets and, when a coordination store is configured, across
// server instances.
//
// # Basic Usage
//
// Start the server:
//
//	taskhub serve --config taskhub.yaml
//
// # Environment Variables
//
//   - TASKHUB_CONFIG: Path to configuration file (default: taskhub.yaml)
//
// Any ${VAR} reference inside the config file is expanded from the
// environment at load time.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/taskhub/internal/activity"
	"github.com/haasonsaas/taskhub/internal/auth"
	"github.com/haasonsaas/taskhub/internal/bridge"
	"github.com/haasonsaas/taskhub/internal/config"
	"github.com/haasonsaas/taskhub/internal/coord"
	"github.com/haasonsaas/taskhub/internal/gateway"
	"github.com/haasonsaas/taskhub/internal/notify"
	"github.com/haasonsaas/taskhub/internal/observability"
	"github.com/haasonsaas/taskhub/internal/presence"
	"github.com/haasonsaas/taskhub/internal/registry"
	"github.com/haasonsaas/taskhub/internal/router"
	"github.com/haasonsaas/taskhub/internal/tasks"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "taskhub",
		Short:        "Taskhub - real-time task collaboration server",
		Long:         "Taskhub synchronizes task changes, presence and notifications\nacross every device a user has connected, on any server instance.",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildServeCmd())
	return rootCmd
}

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the taskhub server",
		Long: `Start the taskhub websocket server.

With a coordination store configured (coordination.addr), events relay
to every other instance sharing the store. Without one, the instance
serves its own connections and logs the degradation.

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config (in-memory, single instance)
  taskhub serve

  # Start with a custom config
  taskhub serve --config /etc/taskhub/production.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath), debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "",
		"Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging (verbose output)")

	return cmd
}

// resolveConfigPath prefers the flag, then TASKHUB_CONFIG, then
// taskhub.yaml if it exists, else empty (built-in defaults).
func resolveConfigPath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if env := os.Getenv("TASKHUB_CONFIG"); env != "" {
		return env
	}
	if _, err := os.Stat("taskhub.yaml"); err == nil {
		return "taskhub.yaml"
	}
	return ""
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.Server.InstanceID == "" {
		cfg.Server.InstanceID = uuid.NewString()
	}

	logLevel := cfg.Logging.Level
	if debug {
		logLevel = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  logLevel,
		Format: cfg.Logging.Format,
	})
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	promReg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(promReg)

	tracer, shutdownTracer, err := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "taskhub",
		ServiceVersion: version,
		Endpoint:       tracingEndpoint(cfg),
		SampleRate:     cfg.Tracing.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(shutdownCtx)
	}()

	coordStore := buildCoordStore(ctx, cfg, logger)
	defer func() { _ = coordStore.Close() }()

	taskStore, closeTasks, err := buildTaskStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeTasks()

	reg := registry.New()
	sessions := registry.NewSessionCounter(coordStore, reg, logger)

	rt := router.New(reg, coordStore, cfg.Server.InstanceID, cfg.Coordination.Channel,
		router.WithLogger(logger), router.WithMetrics(metrics))
	if err := rt.Start(ctx); err != nil {
		// Relay unavailable; local delivery still works.
		logger.Warn("event relay unavailable, running single-instance", "error", err)
	}
	defer rt.Stop()

	tracker := presence.NewTracker(coordStore, rt, sessions, presence.Config{
		TTL:               cfg.Presence.TTL,
		HeartbeatInterval: cfg.Presence.HeartbeatInterval,
		TypingTimeout:     cfg.Presence.TypingTimeout,
	}, logger)

	feed := activity.NewFeed(coordStore, rt, activity.Config{
		MaxEntries:  cfg.Activity.MaxEntries,
		MaxAge:      cfg.Activity.MaxAge,
		ReplayLimit: cfg.Activity.ReplayLimit,
	}, logger)

	taskBridge := bridge.New(taskStore, rt, feed,
		bridge.WithLogger(logger), bridge.WithMetrics(metrics), bridge.WithTracer(tracer))

	dispatcher := notify.New(taskStore, coordStore, rt, notify.Config{
		ScanInterval: cfg.Notifications.ScanInterval,
		Window:       cfg.Notifications.Window,
		DedupeTTL:    cfg.Notifications.DedupeTTL,
	}, notify.WithLogger(logger), notify.WithMetrics(metrics))
	if err := dispatcher.Start(ctx); err != nil {
		return fmt.Errorf("reminder dispatcher: %w", err)
	}
	defer dispatcher.Stop()

	server := gateway.NewServer(cfg, logger, gateway.Deps{
		Auth:     auth.NewService(cfg.Auth),
		Registry: reg,
		Sessions: sessions,
		Router:   rt,
		Presence: tracker,
		Feed:     feed,
		Notify:   dispatcher,
		Bridge:   taskBridge,
		Coord:    coordStore,
		Metrics:  metrics,
		Gatherer: promReg,
	})
	if err := server.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	server.Stop(shutdownCtx)
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		slog.Info("no config file, using built-in defaults")
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

func tracingEndpoint(cfg *config.Config) string {
	if !cfg.Tracing.Enabled {
		return ""
	}
	return cfg.Tracing.Endpoint
}

// buildCoordStore returns the Redis store when configured and
// reachable, otherwise the in-process store. Starting degraded is
// deliberate: a Redis outage must not prevent serving local
// connections.
func buildCoordStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) coord.Store {
	if cfg.Coordination.Addr == "" {
		logger.Info("no coordination store configured, running single-instance")
		return coord.NewMemory()
	}
	store, err := coord.NewRedis(ctx, coord.RedisConfig{
		Addr:     cfg.Coordination.Addr,
		Password: cfg.Coordination.Password,
		DB:       cfg.Coordination.DB,
	})
	if err != nil {
		logger.Warn("coordination store unreachable, running single-instance",
			"addr", cfg.Coordination.Addr, "error", err)
		return coord.NewMemory()
	}
	logger.Info("coordination store connected", "addr", cfg.Coordination.Addr)
	return store
}

func buildTaskStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (tasks.Store, func(), error) {
	if cfg.Database.DSN == "" {
		logger.Info("no database configured, using in-memory task store")
		return tasks.NewMemory(), func() {}, nil
	}
	store, err := tasks.NewPostgres(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("task store: %w", err)
	}
	return store, func() { _ = store.Close() }, nil
}
