package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"conveyor/internal/config"
	"conveyor/internal/logger"
	"conveyor/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("failed to load config: %v", err)
		os.Exit(1)
	}

	logger.Init(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc := service.New(cfg)
	if err := svc.Run(ctx); err != nil {
		logger.Logger.Error().Err(err).Msg("service exited with error")
		os.Exit(1)
	}
}
