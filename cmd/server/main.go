// Package main is the entry point for the snippet manager service.
//
// The main package is kept minimal. Its job is to:
//  1. Read configuration (environment, optionally a .env file)
//  2. Create the logger
//  3. Build the server and start it
//
// All actual logic lives in imported packages (internal/server,
// internal/service, etc.).
package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/sakif/snippet-manager/internal/config"
	"github.com/sakif/snippet-manager/internal/server"
)

func main() {
	// === 1. READ CONFIGURATION ===
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// === 2. SET UP LOGGING ===
	// LOG_FORMAT=json for log shippers, text for a terminal.
	level, _ := cfg.SlogLevel()
	opts := &slog.HandlerOptions{Level: level}
	var logger *slog.Logger
	if strings.EqualFold(cfg.LogFormat, "json") {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, opts))
	} else {
		logger = slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	slog.SetDefault(logger)
	logger.Debug("configuration loaded", slog.String("config", cfg.String()))

	// === 3. DATABASE DIRECTORY ===
	// A file-backed SQLite database needs its directory to exist.
	if cfg.DBDriver == config.DBDriverSQLite && cfg.DBDSN != ":memory:" {
		dir := filepath.Dir(cfg.DBDSN)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Error("failed to create database directory",
				slog.String("dir", dir),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	// === 4. CREATE AND START THE SERVER ===
	srv, err := server.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start() blocks until the server is shut down (via Ctrl+C or SIGTERM)
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
