// Package main is the CLI entrypoint for the Fechatter chat service. It
// provides subcommands for running the server (serve), managing database
// migrations (migrate), and printing version information (version). The
// serve command loads configuration, connects to PostgreSQL, NATS, and the
// Redis-compatible cache, runs pending migrations, starts the HTTP+SSE API
// server, and handles graceful shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	api "github.com/fechatter/fechatter/internal/httpapi"

	"github.com/fechatter/fechatter/internal/auth"
	"github.com/fechatter/fechatter/internal/cache"
	"github.com/fechatter/fechatter/internal/chat"
	"github.com/fechatter/fechatter/internal/config"
	"github.com/fechatter/fechatter/internal/database"
	"github.com/fechatter/fechatter/internal/eventbus"
	"github.com/fechatter/fechatter/internal/media"
	"github.com/fechatter/fechatter/internal/notify"
	"github.com/fechatter/fechatter/internal/search"
)

// Build-time variables set via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		if err := runServe(); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	case "migrate":
		if err := runMigrate(); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	case "version":
		fmt.Printf("fechatter-server %s (commit %s)\n", version, commit)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("fechatter-server — chat domain service, notification hub, search indexer")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  fechatter-server <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve     Start the chat service")
	fmt.Println("  migrate   Run database migrations (up, down, status)")
	fmt.Println("  version   Print version information")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println("  Config file:  fechatter.toml (or set FECHATTER_CONFIG_PATH)")
	fmt.Println("  Env prefix:   FECHATTER_ (e.g. FECHATTER_DATABASE_URL)")
}

// runServe starts the chat service: loads config, connects to PostgreSQL,
// NATS, and the cache, runs migrations, wires every domain service, and
// starts the HTTP+SSE server with graceful shutdown on SIGINT/SIGTERM.
func runServe() error {
	logger := setupLogger("info", "json")
	logger.Info("starting fechatter-server", slog.String("version", version), slog.String("commit", commit))

	cfgPath := configPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger = setupLogger(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("configuration loaded", slog.String("path", cfgPath))

	ctx := context.Background()

	db, err := database.New(ctx, cfg.Database.URL, cfg.Database.PoolMin, cfg.Database.PoolMax, logger)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	if err := database.MigrateUp(cfg.Database.URL, logger); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	bus, err := eventbus.New(cfg.EventBus.URL, cfg.EventBus.HMACSecret, logger)
	if err != nil {
		return fmt.Errorf("connecting to event bus: %w", err)
	}
	defer bus.Close()
	if err := bus.EnsureStreams(); err != nil {
		return fmt.Errorf("ensuring event bus streams: %w", err)
	}

	cacheClient, err := cache.New(ctx, cfg.Cache.URL, cfg.Cache.PoolSize, logger)
	if err != nil {
		return fmt.Errorf("connecting to cache: %w", err)
	}
	defer cacheClient.Close()

	authSvc := auth.New(db.Pool, cfg.Auth.SigningKey, cfg.Auth.AccessTTL(), cfg.Auth.RefreshTTL(), logger)

	chatLimits := chat.DefaultLimits()
	chatLimits.MaxConcurrentSendsPerChat = int64(cfg.Limits.MaxConcurrentSendsPerChat)
	chatLimits.SendDeadline = cfg.Limits.SendDeadline()
	chatSvc := chat.New(db.Pool, bus, cacheClient, chatLimits, logger)
	if err := chatSvc.Start(); err != nil {
		return fmt.Errorf("starting chat service: %w", err)
	}

	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	defer cancelSweep()
	go chatSvc.RunOutboxSweeper(sweepCtx, 5*time.Second)

	var searchSvc *search.Service
	if cfg.Search.Enabled && cfg.Search.URL != "" {
		svc, err := search.New(search.Config{
			URL:          cfg.Search.URL,
			APIKey:       cfg.Search.APIKey,
			Pool:         db.Pool,
			Bus:          bus,
			Logger:       logger,
			BatchSize:    cfg.Search.BatchSize,
			BatchTimeout: cfg.Search.BatchTimeout(),
		})
		if err != nil {
			logger.Warn("search service unavailable, message search disabled", slog.String("error", err.Error()))
		} else if err := svc.EnsureIndexes(ctx); err != nil {
			logger.Warn("could not ensure search indexes, message search disabled", slog.String("error", err.Error()))
		} else if err := svc.Start(); err != nil {
			logger.Warn("could not start search indexer, message search disabled", slog.String("error", err.Error()))
		} else {
			searchSvc = svc
			defer svc.Stop()
			logger.Info("search service ready", slog.String("url", cfg.Search.URL))
		}
	}

	notifyLimits := notify.DefaultLimits()
	notifyLimits.QueueDepth = cfg.Limits.SSEQueueDepth
	notifyLimits.HeartbeatInterval = cfg.Limits.SSEHeartbeat()
	notifyHub := notify.New(db.Pool, bus, cacheClient, notifyLimits, logger)
	if err := notifyHub.Start(); err != nil {
		return fmt.Errorf("starting notification hub: %w", err)
	}
	defer notifyHub.Stop()

	var mediaSvc *media.Service
	if cfg.Media.Endpoint != "" {
		svc, err := media.New(media.Config{
			Endpoint:    cfg.Media.Endpoint,
			Bucket:      cfg.Media.Bucket,
			AccessKey:   cfg.Media.AccessKey,
			SecretKey:   cfg.Media.SecretKey,
			Region:      cfg.Media.Region,
			UseSSL:      cfg.Media.UseSSL,
			MaxUploadMB: cfg.Media.MaxUploadMB,
		}, db.Pool, logger)
		if err != nil {
			logger.Warn("media service unavailable, file uploads disabled", slog.String("error", err.Error()))
		} else if err := svc.EnsureBucket(ctx); err != nil {
			logger.Warn("could not ensure storage bucket, file uploads disabled", slog.String("error", err.Error()))
		} else {
			mediaSvc = svc
			logger.Info("media service ready", slog.String("endpoint", cfg.Media.Endpoint))
		}
	}

	srv := api.New(db, cfg, authSvc, chatSvc, searchSvc, notifyHub, mediaSvc, version, logger)

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case sig := <-shutdownCh:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	}

	cancelSweep()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
	}

	logger.Info("fechatter-server stopped")
	return nil
}

// runMigrate handles the migrate subcommand with up/down/status operations.
func runMigrate() error {
	logger := setupLogger("info", "text")

	cfgPath := configPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	action := "up"
	if len(os.Args) >= 3 {
		action = os.Args[2]
	}

	switch action {
	case "up":
		return database.MigrateUp(cfg.Database.URL, logger)
	case "down":
		return database.MigrateDown(cfg.Database.URL, logger)
	case "status":
		v, dirty, err := database.MigrateStatus(cfg.Database.URL)
		if err != nil {
			return err
		}
		fmt.Printf("Migration version: %d\n", v)
		fmt.Printf("Dirty: %v\n", dirty)
		return nil
	default:
		return fmt.Errorf("unknown migrate action: %s (use: up, down, status)", action)
	}
}

// configPath returns the config file path from FECHATTER_CONFIG_PATH env var
// or the default "fechatter.toml".
func configPath() string {
	if p := os.Getenv("FECHATTER_CONFIG_PATH"); p != "" {
		return p
	}
	return "fechatter.toml"
}

// setupLogger creates a slog.Logger with the given level and format.
func setupLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
