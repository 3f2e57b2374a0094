// Command viewer subscribes to a line server and mirrors its state locally.
// It is the reference consumer of the sync protocol: connect, resync over
// REST, then apply every pushed snapshot wholesale.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenLineSim/internal/alerts"
	"github.com/KevinKickass/OpenLineSim/internal/config"
	"github.com/KevinKickass/OpenLineSim/internal/line"
	"github.com/KevinKickass/OpenLineSim/internal/viewer"
)

func main() {
	var (
		configPath = flag.String("config", "", "optional config file (sync section)")
		server     = flag.String("server", "localhost:8080", "line server host:port")
	)
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	channel := viewer.NewChannel(viewer.Config{
		URL:          fmt.Sprintf("ws://%s/api/v1/ws/live", *server),
		StatusURL:    fmt.Sprintf("http://%s/api/v1/line/status", *server),
		Schedule:     viewer.NewSchedule(cfg.Sync.BackoffSchedule...),
		MaxAttempts:  cfg.Sync.MaxAttempts,
		Quiescence:   cfg.Sync.Quiescence,
		PingInterval: cfg.Sync.PingInterval,
	}, logger)

	channel.OnStateUpdated = func(state line.LineState) {
		logger.Info("line state",
			zap.String("status", string(state.Status)),
			zap.Int("parts_produced", state.PartsProduced),
			zap.Int("parts_rejected", state.PartsRejected),
			zap.Int("cycle_count", state.Plc.CycleCount))
	}
	channel.OnStatusChanged = func(status, previous string) {
		logger.Info("line status changed",
			zap.String("status", status),
			zap.String("previous", previous))
	}
	channel.OnAnomalyAlert = func(alert alerts.Alert) {
		logger.Warn("anomaly alert",
			zap.Float64("score", alert.Verdict.AnomalyScore),
			zap.String("recommendation", alert.Verdict.Recommendation))
	}

	if err := channel.Open(); err != nil {
		logger.Fatal("Failed to open sync channel", zap.Error(err))
	}

	logger.Info("Viewer started", zap.String("server", *server))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutdown signal received")
	channel.Close()
	logger.Info("Viewer stopped")
}
