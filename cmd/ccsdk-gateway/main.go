// ccsdk-gateway multiplexes conversational sessions with the Claude Code
// engine over WebSocket, persists history to SQLite, and serves a REST API
// for browsing and administration.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/NakiriYuuzu/ccsdk-gateway/pkg/api"
	"github.com/NakiriYuuzu/ccsdk-gateway/pkg/cleanup"
	"github.com/NakiriYuuzu/ccsdk-gateway/pkg/config"
	"github.com/NakiriYuuzu/ccsdk-gateway/pkg/database"
	"github.com/NakiriYuuzu/ccsdk-gateway/pkg/engine"
	"github.com/NakiriYuuzu/ccsdk-gateway/pkg/hub"
	"github.com/NakiriYuuzu/ccsdk-gateway/pkg/store"
	"github.com/NakiriYuuzu/ccsdk-gateway/pkg/version"
	"github.com/NakiriYuuzu/ccsdk-gateway/pkg/ws"
)

// shutdownTimeout bounds graceful drain of HTTP, turns, and persistence.
const shutdownTimeout = 15 * time.Second

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment as-is")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogging(cfg.Server.LogLevel)
	slog.Info("Starting "+version.Full(),
		"port", cfg.Server.Port,
		"model", cfg.Engine.Model,
		"db_path", cfg.Store.DBPath)

	ctx := context.Background()

	dbClient, err := database.NewClient(ctx, cfg.Store.DBPath)
	if err != nil {
		slog.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database", "error", err)
		}
	}()
	slog.Info("Database ready", "path", cfg.Store.DBPath)

	st := store.New(dbClient.DB())
	eng := engine.NewClaudeCLI(cfg.Engine.Bin)
	sessionHub := hub.New(st, eng, cfg.Engine, cfg.Hub)

	retention := cleanup.NewService(st, cfg.Store.RetentionDays, cfg.Store.CleanupInterval)
	retention.Start(ctx)
	defer retention.Stop()

	connManager := ws.NewConnectionManager(sessionHub, st, cfg.Server.WSIdleTimeout, cfg.Server.WSWriteTimeout)
	server := api.NewServer(cfg, dbClient, st, sessionHub, connManager, eng)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(":" + cfg.Server.Port)
	}()
	slog.Info("HTTP server listening", "addr", ":"+cfg.Server.Port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("Shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown incomplete", "error", err)
	}
	if err := sessionHub.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Hub shutdown incomplete", "error", err)
	}
	slog.Info("Goodbye")
}

// setupLogging installs the process-wide slog handler.
func setupLogging(level string) {
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
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
