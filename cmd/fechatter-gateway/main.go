// Package main is the CLI entrypoint for the Fechatter edge gateway: a
// reverse proxy in front of one or more fechatter-server instances, with
// health checking, a circuit breaker, retries, CORS, tiered rate limiting,
// and transparent access-token refresh.
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

	"github.com/fechatter/fechatter/internal/auth"
	"github.com/fechatter/fechatter/internal/cache"
	"github.com/fechatter/fechatter/internal/config"
	"github.com/fechatter/fechatter/internal/database"
	"github.com/fechatter/fechatter/internal/gateway"
)

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
	case "version":
		fmt.Printf("fechatter-gateway %s (commit %s)\n", version, commit)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("fechatter-gateway — edge reverse proxy for the Fechatter chat service")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  fechatter-gateway <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve     Start the edge gateway")
	fmt.Println("  version   Print version information")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println("  Config file:  fechatter.toml (or set FECHATTER_CONFIG_PATH)")
	fmt.Println("  Env prefix:   FECHATTER_ (e.g. FECHATTER_DATABASE_URL)")
}

// runServe starts the edge gateway: loads config, connects to the database
// (needed by the shared auth service for token refresh) and cache, builds
// the route table, and starts serving with graceful shutdown on
// SIGINT/SIGTERM.
func runServe() error {
	logger := setupLogger("info", "json")
	logger.Info("starting fechatter-gateway", slog.String("version", version), slog.String("commit", commit))

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

	cacheClient, err := cache.New(ctx, cfg.Cache.URL, cfg.Cache.PoolSize, logger)
	if err != nil {
		return fmt.Errorf("connecting to cache: %w", err)
	}
	defer cacheClient.Close()

	// The gateway shares internal/auth with the chat service so its
	// transparent token-refresh short-circuit uses the same signing key
	// and rotation semantics as the upstream it proxies to.
	authSvc := auth.New(db.Pool, cfg.Auth.SigningKey, cfg.Auth.AccessTTL(), cfg.Auth.RefreshTTL(), logger)

	gw, err := gateway.New(cfg.Gateway, authSvc, cacheClient, logger)
	if err != nil {
		return fmt.Errorf("building gateway: %w", err)
	}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	serveCtx, cancelServe := context.WithCancel(context.Background())
	defer cancelServe()

	errCh := make(chan error, 1)
	go func() {
		if err := gw.Start(serveCtx); err != nil {
			errCh <- fmt.Errorf("gateway: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case sig := <-shutdownCh:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	}

	cancelServe()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := gw.Shutdown(shutdownCtx); err != nil {
		logger.Error("gateway shutdown error", slog.String("error", err.Error()))
	}

	logger.Info("fechatter-gateway stopped")
	return nil
}

func configPath() string {
	if p := os.Getenv("FECHATTER_CONFIG_PATH"); p != "" {
		return p
	}
	return "fechatter.toml"
}

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
