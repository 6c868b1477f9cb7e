// Package main is the opsrelay CLI: it runs the operations service, the
// chat orchestrator, or both in one process.
//
// # Basic Usage
//
// Start both services:
//
//	opsrelay serve
//
// Start one service:
//
//	opsrelay serve-ops --addr :8080
//	opsrelay serve-chat --addr :8081
//
// # Environment Variables
//
// Every configuration option can be set via OPSRELAY_* environment
// variables (OPSRELAY_MODEL_URL, OPSRELAY_OPS_URL, OPSRELAY_MODEL,
// OPSRELAY_TOOLS_ENABLED, ...); see internal/config for the full list.
package main

import (
	"fmt"
	"log/slog"
	"os"
)

// Build information - populated by ldflags during build.
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

func buildVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
}
