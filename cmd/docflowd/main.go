package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rmoura-dev/docflow/internal/app"
	"github.com/rmoura-dev/docflow/internal/common"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, common.LoadConfig(), logger); err != nil {
		logger.Error("daemon failed", "error", err)
		os.Exit(1)
	}
}
