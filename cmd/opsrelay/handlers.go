package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/opsrelay/opsrelay/internal/chat"
	"github.com/opsrelay/opsrelay/internal/chatserver"
	"github.com/opsrelay/opsrelay/internal/config"
	"github.com/opsrelay/opsrelay/internal/conversation"
	"github.com/opsrelay/opsrelay/internal/model"
	"github.com/opsrelay/opsrelay/internal/observability"
	"github.com/opsrelay/opsrelay/internal/opsserver"
	"github.com/opsrelay/opsrelay/internal/toolclient"
)

// bootstrap loads configuration and builds the logger and metrics shared by
// both services.
func bootstrap(configPath string, debug bool) (*config.Config, *slog.Logger, *observability.Metrics, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  level,
		Format: cfg.Logging.Format,
	})
	slog.SetDefault(logger)
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	return cfg, logger, metrics, nil
}

func runServeOps(ctx context.Context, configPath, addr string, debug bool) error {
	cfg, logger, metrics, err := bootstrap(configPath, debug)
	if err != nil {
		return err
	}
	if addr == "" {
		addr = cfg.Ops.Addr
	}
	logger.Info("starting operations service", "version", version, "addr", addr)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return newOpsServer(cfg, logger, metrics).ListenAndServe(ctx, addr)
}

func runServeChat(ctx context.Context, configPath, addr string, debug bool) error {
	cfg, logger, metrics, err := bootstrap(configPath, debug)
	if err != nil {
		return err
	}
	if addr == "" {
		addr = cfg.Chat.Addr
	}
	logger.Info("starting chat orchestrator", "version", version, "addr", addr,
		"model_url", cfg.Chat.ModelURL, "ops_url", cfg.Chat.OpsURL)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return newChatServer(cfg, logger, metrics).ListenAndServe(ctx, addr)
}

// runServeBoth runs both services in one process; if either listener fails
// the other is shut down.
func runServeBoth(ctx context.Context, configPath string, debug bool) error {
	cfg, logger, metrics, err := bootstrap(configPath, debug)
	if err != nil {
		return err
	}
	logger.Info("starting both services", "version", version,
		"ops_addr", cfg.Ops.Addr, "chat_addr", cfg.Chat.Addr)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return newOpsServer(cfg, logger, metrics).ListenAndServe(ctx, cfg.Ops.Addr)
	})
	g.Go(func() error {
		return newChatServer(cfg, logger, metrics).ListenAndServe(ctx, cfg.Chat.Addr)
	})
	return g.Wait()
}

func newOpsServer(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *opsserver.Server {
	handler := opsserver.NewHandler(logger, metrics)
	handler.SetCommandTimeout(cfg.Ops.CommandTimeout())
	return opsserver.NewServer(handler, logger, metrics)
}

func newChatServer(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *chatserver.Server {
	modelClient := model.NewClient(model.Config{
		BaseURL:      cfg.Chat.ModelURL,
		DefaultModel: cfg.Chat.Model,
		Temperature:  cfg.Chat.Temperature,
		MaxTokens:    cfg.Chat.MaxTokens,
	}, logger, metrics)

	toolClient := toolclient.NewClient(toolclient.Config{
		BaseURL:    cfg.Chat.OpsURL,
		Timeout:    cfg.Chat.ToolTimeout(),
		MaxRetries: cfg.Chat.ToolMaxRetries,
		RetryDelay: cfg.Chat.ToolRetryDelay(),
	}, logger, metrics)

	store := conversation.NewStore(logger, metrics)
	runner := chat.NewRunner(store, modelClient, toolClient, chat.Config{
		ToolsEnabled:    cfg.Chat.ToolsEnabled,
		MaxCallsPerTurn: cfg.Chat.MaxToolCallsPerTurn,
	}, logger, metrics)

	return chatserver.NewServer(runner, logger, metrics)
}
