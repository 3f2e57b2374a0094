package system

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenLineSim/internal/alerts"
	"github.com/KevinKickass/OpenLineSim/internal/anomaly"
	"github.com/KevinKickass/OpenLineSim/internal/api/rest"
	"github.com/KevinKickass/OpenLineSim/internal/api/websocket"
	"github.com/KevinKickass/OpenLineSim/internal/auth"
	"github.com/KevinKickass/OpenLineSim/internal/config"
	"github.com/KevinKickass/OpenLineSim/internal/devices"
	"github.com/KevinKickass/OpenLineSim/internal/interfaces"
	"github.com/KevinKickass/OpenLineSim/internal/line"
)

// LifecycleManager wires the hub, the line controller, the anomaly scorer
// client and the REST server together and owns their start/stop order.
type LifecycleManager struct {
	config *config.Config
	logger *zap.Logger

	wsHub          *websocket.Hub
	lineController *line.Controller
	alertLog       *alerts.Log
	scorer         *anomaly.Client
	authService    *auth.AuthService

	restServer *rest.Server

	stateMu      sync.RWMutex
	currentState SystemState
	startedAt    time.Time

	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

func NewLifecycleManager(cfg *config.Config, logger *zap.Logger) (*LifecycleManager, error) {
	profiles, err := devices.NewProfileLoader(cfg.Devices.SearchPaths)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile loader: %w", err)
	}

	orders, err := line.LoadCatalog(cfg.Orders.CatalogPath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load order catalog: %w", err)
	}

	authService, err := auth.NewAuthService(cfg.Auth, logger)
	if err != nil {
		return nil, err
	}

	wsHub := websocket.NewHub(logger)
	alertLog := alerts.NewLog(cfg.Anomaly.AlertTTL, cfg.Anomaly.AlertLimit)
	scorer := anomaly.NewClient(cfg.Anomaly.ScorerURL, cfg.Anomaly.Timeout, logger)

	lineController := line.NewController(
		logger,
		line.Config{
			TickInterval:       cfg.Line.TickInterval,
			InitPhaseDelay:     cfg.Line.InitPhaseDelay,
			InspectFailureRate: cfg.Line.InspectFailureRate,
			AnomalyFaultRate:   cfg.Line.AnomalyFaultRate,
			PLCProfile:         cfg.Line.PLCProfile,
			RobotProfile:       cfg.Line.RobotProfile,
			VisionProfile:      cfg.Line.VisionProfile,
		},
		orders,
		scorer,
		profiles,
		wsHub,
		alertLog,
		rand.New(rand.NewSource(time.Now().UnixNano())),
	)

	return &LifecycleManager{
		config:         cfg,
		logger:         logger,
		wsHub:          wsHub,
		lineController: lineController,
		alertLog:       alertLog,
		scorer:         scorer,
		authService:    authService,
		currentState:   StateInitializing,
		shutdownChan:   make(chan struct{}),
	}, nil
}

// Start brings the hub and the REST server up. The simulation loop itself
// stays disarmed until an operator sends the start command.
func (lm *LifecycleManager) Start() error {
	lm.logger.Info("Starting OpenLineSim")

	go lm.wsHub.Run()

	if err := lm.startRESTServer(); err != nil {
		lm.setState(StateError)
		return fmt.Errorf("failed to start REST API: %w", err)
	}

	lm.setState(StateRunning)
	lm.stateMu.Lock()
	lm.startedAt = time.Now()
	lm.stateMu.Unlock()

	if err := lm.scorer.Healthy(context.Background()); err != nil {
		// The client falls back to local verdicts, so this is advisory.
		lm.logger.Warn("anomaly scorer unreachable, running with fallback verdicts",
			zap.String("url", lm.config.Anomaly.ScorerURL),
			zap.Error(err))
	}

	lm.logger.Info("System started successfully",
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.Duration("tick_interval", lm.config.Line.TickInterval))

	return nil
}

func (lm *LifecycleManager) startRESTServer() error {
	lm.restServer = rest.NewServer(lm.config, lm, lm.logger, lm.wsHub, lm.authService)
	return lm.restServer.Start()
}

// Shutdown stops everything once, in parallel, bounded by ctx.
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")

		lm.setState(StateStopping)
		shutdownErr = lm.gracefulShutdown(ctx)
		lm.setState(StateStopped)

		close(lm.shutdownChan)
	})

	return shutdownErr
}

// Done is closed once a shutdown has completed, whether it was triggered by
// a signal or by the REST shutdown endpoint.
func (lm *LifecycleManager) Done() <-chan struct{} {
	return lm.shutdownChan
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	var wg sync.WaitGroup
	errChan := make(chan error, 3)

	// 1. Stop the simulation loop and wait for a running tick to finish.
	wg.Add(1)
	go func() {
		defer wg.Done()
		lm.lineController.Close()
	}()

	// 2. REST API server graceful shutdown
	if lm.restServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
				errChan <- fmt.Errorf("rest api shutdown failed: %w", err)
			}
		}()
	}

	// 3. Drop all connected viewers.
	wg.Add(1)
	go func() {
		defer wg.Done()
		lm.wsHub.Shutdown()
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		lm.logger.Info("Graceful shutdown completed")
		return nil
	case <-ctx.Done():
		lm.logger.Warn("Shutdown timeout, forcing stop")
		return fmt.Errorf("shutdown timeout exceeded")
	case err := <-errChan:
		return err
	}
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()

	if err := ValidateTransition(lm.currentState, state); err != nil {
		lm.logger.Warn("unexpected state transition", zap.Error(err))
	}
	lm.currentState = state
}

// GetCurrentStatus returns current system status (interface implementation).
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	lm.stateMu.RLock()
	state := lm.currentState
	startedAt := lm.startedAt
	lm.stateMu.RUnlock()

	var uptime int64
	if !startedAt.IsZero() {
		uptime = int64(time.Since(startedAt).Seconds())
	}

	return interfaces.SystemStatus{
		State:            state.String(),
		LineStatus:       lm.lineController.Status().Status,
		StartedAt:        startedAt,
		UptimeSeconds:    uptime,
		ConnectedViewers: lm.wsHub.ClientCount(),
		RecentAlerts:     lm.alertLog.Count(),
	}
}

// Config returns the configuration
func (lm *LifecycleManager) Config() *config.Config {
	return lm.config
}

// LineController returns the line controller
func (lm *LifecycleManager) LineController() *line.Controller {
	return lm.lineController
}

// AlertLog returns the anomaly alert log
func (lm *LifecycleManager) AlertLog() *alerts.Log {
	return lm.alertLog
}
