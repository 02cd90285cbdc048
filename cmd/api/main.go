package main

import (
	"context"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/ridewell/ridewell/internal/infrastructure"
	"github.com/ridewell/ridewell/internal/logger"
)

func main() {
	logger.Init()
	defer logger.Log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := infrastructure.Bootstrap(ctx, logger.Log)
	if err != nil {
		logger.Log.Fatal("bootstrap failed", zap.Error(err))
	}
	defer cleanup()

	logger.Log.Info("ridewell api starting")
	if err := app.Run(ctx); err != nil {
		logger.Log.Error("server error", zap.Error(err))
	}
	logger.Log.Info("shutdown complete")
}
