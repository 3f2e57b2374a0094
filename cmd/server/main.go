package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenLineSim/internal/config"
	"github.com/KevinKickass/OpenLineSim/internal/system"
)

func main() {
	// Logger initialisieren
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Config laden
	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	logger.Info("Config loaded successfully")

	// Lifecycle Manager
	lifecycle, err := system.NewLifecycleManager(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to build system", zap.Error(err))
	}

	// Liveness endpoint on a side port, separate from the API server so a
	// wedged REST handler still answers probes.
	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(1000))
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.HealthPort)
		if err := http.ListenAndServe(addr, health); err != nil {
			logger.Error("Health endpoint failed", zap.Error(err))
		}
	}()

	// System starten
	if err := lifecycle.Start(); err != nil {
		logger.Fatal("Failed to start system", zap.Error(err))
	}

	logger.Info("OpenLineSim started successfully")

	// Graceful Shutdown auf Signal oder via REST shutdown endpoint
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received")
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := lifecycle.Shutdown(ctx); err != nil {
			logger.Error("Shutdown failed", zap.Error(err))
			os.Exit(1)
		}
	case <-lifecycle.Done():
	}

	logger.Info("OpenLineSim stopped successfully")
}
