package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"tastream/config"
	"tastream/internal/indengine"
	"tastream/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Init("indengine", slog.LevelInfo)
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	logger.Init("indengine", level)
	if err != nil {
		slog.Warn("invalid LOG_LEVEL, using info", "value", cfg.LogLevel)
	}

	slog.Info("config loaded", "backend", cfg.Backend, "tfs", cfg.EnabledTFs,
		"snapshot_interval_s", cfg.SnapshotIntervalS, "parity_shadow", cfg.ParityShadow)

	svc, err := indengine.New(cfg)
	if err != nil {
		slog.Error("init failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.Run(ctx); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}
