package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/MuhibNayem/connectify-v2/graph-projector/config"
	"github.com/MuhibNayem/connectify-v2/graph-projector/internal/observability"
	"github.com/MuhibNayem/connectify-v2/graph-projector/internal/platform"
)

func main() {
	if err := run(); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	logger := observability.InitLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := platform.NewApplication(ctx, cfg, logger)
	if err != nil {
		return err
	}

	return app.Run()
}
