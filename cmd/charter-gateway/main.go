// ABOUTME: Entry point for the charter-gateway conversation server
// ABOUTME: Wires config, ledger, session registry, dispatcher and HTTP gateway

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/charter-gateway/internal/auth"
	"github.com/2389/charter-gateway/internal/config"
	"github.com/2389/charter-gateway/internal/dispatch"
	"github.com/2389/charter-gateway/internal/gateway"
	"github.com/2389/charter-gateway/internal/guide"
	"github.com/2389/charter-gateway/internal/session"
	"github.com/2389/charter-gateway/internal/store"
	"github.com/2389/charter-gateway/internal/stream"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
       _                _                             _
   ___| |__   __ _ _ __| |_ ___ _ __       __ _  __ _| |_ _____      ____ _ _   _
  / __| '_ \ / _' | '__| __/ _ \ '__|____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
 | (__| | | | (_| | |  | ||  __/ | |_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
  \___|_| |_|\__,_|_|   \__\___|_|        \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                                          |___/                             |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: CHARTER_CONFIG env var > XDG_CONFIG_HOME/charter/gateway.yaml >
// ~/.config/charter/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("CHARTER_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "charter", "gateway.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: charter-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve     Start the gateway server")
		fmt.Println("  version   Print the version")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "version":
		fmt.Println(version)
	default:
		err = fmt.Errorf("unknown command: %s", os.Args[1])
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	setupLogging(cfg.Logging)
	logger := slog.Default()

	color.Cyan(banner)
	color.White("  charter-gateway %s", version)
	fmt.Println()

	var ledger *store.SQLiteLedger
	if cfg.Database.Path != "" {
		ledger, err = store.NewSQLiteLedger(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("opening transcript ledger: %w", err)
		}
		defer ledger.Close()
	} else {
		logger.Warn("transcript ledger disabled (no database.path)")
	}

	sessions := session.NewRegistry(session.RegistryOptions{
		IdleTimeout:        cfg.Session.IdleTimeout,
		TombstoneRetention: cfg.Session.TombstoneRetention,
		Logger:             logger,
	})
	correlations := session.NewCorrelationCache(session.CorrelationOptions{
		TTL:   cfg.Session.CorrelationTTL,
		Alive: sessions.Alive,
	})
	streams := stream.NewRegistry(sessions, cfg.Stream.Buffer, logger)
	engine := guide.New(logger)

	var dispatcherLedger dispatch.TranscriptLedger
	var historyStore gateway.HistoryStore
	if ledger != nil {
		dispatcherLedger = ledger
		historyStore = ledger
	}
	dispatcher := dispatch.New(sessions, correlations, streams, dispatcherLedger, engine, logger)

	var verifier auth.TokenVerifier
	if cfg.Auth.JWTSecret != "" {
		verifier = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	} else {
		logger.Warn("API authentication disabled (no auth.jwt_secret)")
	}

	gw := gateway.New(gateway.Options{
		Dispatcher:        dispatcher,
		History:           historyStore,
		Verifier:          verifier,
		HeartbeatInterval: cfg.Stream.HeartbeatInterval,
		Logger:            logger,
	})

	// Background reaper: the registry already sweeps on every call, but an
	// idle process still needs sessions tombstoned on time.
	go runSweeper(ctx, cfg.Session.SweepInterval, sessions, correlations)

	server := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: gw.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", cfg.Server.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// loadConfig loads the config file, falling back to defaults when none
// exists at the resolved path.
func loadConfig() (*config.Config, error) {
	path := getConfigPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Printf("No config at %s, using defaults\n", path)
		return config.Default(), nil
	}
	return config.Load(path)
}

func setupLogging(cfg config.LoggingConfig) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// runSweeper drives the shared eviction sweep on a fixed interval until the
// context is cancelled.
func runSweeper(ctx context.Context, interval time.Duration, sessions *session.Registry, correlations *session.CorrelationCache) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sessions.Sweep()
			correlations.Sweep()
		}
	}
}
