package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/inframind/platform/internal/app"
	"github.com/inframind/platform/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg, app.Options{})
	if err != nil {
		log.Fatalf("Failed to build application: %v", err)
	}

	a.Start()
	a.Logger.Info("InfraMind core started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	a.Logger.Info("Shutting down", zap.String("signal", sig.String()))

	a.Stop(ctx)
}
