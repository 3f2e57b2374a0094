package line

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenLineSim/internal/alerts"
	"github.com/KevinKickass/OpenLineSim/internal/anomaly"
	"github.com/KevinKickass/OpenLineSim/internal/api/websocket"
	"github.com/KevinKickass/OpenLineSim/internal/metrics"
)

// Simulation defaults, used until station profiles override them.
const (
	defaultCycleTimeMin = 1.5
	defaultCycleTimeMax = 2.5
	defaultRobotSpeed   = 250.0

	// Per-tick perturbation tunables.
	inputFlipChance  = 0.30
	outputFlipChance = 0.15
	robotJitterMM    = 25.0
)

var defaultRobotHome = Position{X: 400, Y: 0, Z: 300}

var defaultFailureReasons = []string{
	"surface scratch detected",
	"dimension out of tolerance",
	"missing component",
	"alignment error",
}

// Loop drives the simulation at a fixed interval. Each armed period gets a
// fresh Loop; a stopped one is never restarted.
type Loop struct {
	interval time.Duration
	cycle    func(context.Context)
	logger   *zap.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup

	mu      sync.Mutex
	running bool
}

func NewLoop(interval time.Duration, cycle func(context.Context), logger *zap.Logger) *Loop {
	ctx, cancel := context.WithCancel(context.Background())
	return &Loop{
		interval: interval,
		cycle:    cycle,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		stopChan: make(chan struct{}),
	}
}

// Start launches the loop goroutine. Calling Start twice is a no-op.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return
	}
	l.running = true
	l.wg.Add(1)
	go l.run()

	l.logger.Debug("simulation loop started", zap.Duration("interval", l.interval))
}

func (l *Loop) run() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopChan:
			l.logger.Debug("simulation loop stopped")
			return
		case <-ticker.C:
			l.cycle(l.ctx)
		}
	}
}

// Interrupt signals the loop to halt without waiting for the in-flight
// cycle. Safe to call from within a cycle or while holding locks the cycle
// needs; safe to call more than once.
func (l *Loop) Interrupt() {
	l.stopOnce.Do(func() {
		close(l.stopChan)
		l.cancel()
	})
}

// Stop interrupts the loop and waits for the in-flight cycle to finish.
// Never call it from a cycle or under a lock the cycle takes.
func (l *Loop) Stop() {
	l.Interrupt()
	l.wg.Wait()

	l.mu.Lock()
	l.running = false
	l.mu.Unlock()
}

// Armed reports whether the loop goroutine is live.
func (l *Loop) Armed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// runCycle is one simulation tick. The network round trips to the scorer
// happen before the controller lock is taken, so a slow scorer never stalls
// commands; the results are then applied atomically.
func (c *Controller) runCycle(ctx context.Context, loop *Loop) {
	c.mu.Lock()
	live := c.loop == loop && c.state.Status == StatusRunning
	c.mu.Unlock()
	if !live {
		return
	}

	reading := c.scorer.GenerateReading(ctx)
	verdict := c.scorer.Score(ctx, reading)

	c.applyCycle(loop, reading, verdict)
}

// applyCycle folds one tick's results into the line state. A tick whose loop
// was disarmed while it was off fetching is discarded whole; state never
// carries a half-applied cycle.
func (c *Controller) applyCycle(loop *Loop, reading anomaly.SensorReading, verdict anomaly.Verdict) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loop != loop || c.state.Status != StatusRunning {
		c.logger.Debug("cycle discarded, loop disarmed during fetch")
		return
	}

	c.state.CurrentReading = &reading
	c.state.Plc.CycleCount++
	c.state.Plc.CycleTime = c.cycleTimeMin + c.rng.Float64()*(c.cycleTimeMax-c.cycleTimeMin)

	c.perturbPlc()
	c.perturbRobot()
	c.inspectPart()

	if verdict.IsAnomaly {
		c.raiseAnomaly(reading, verdict)
	}

	c.touchAndBroadcast()
	metrics.Cycles.Inc()
}

// perturbPlc flips simulated I/O, inputs more often than outputs.
// Callers hold c.mu.
func (c *Controller) perturbPlc() {
	for i := range c.state.Plc.Inputs {
		if c.rng.Float64() < inputFlipChance {
			c.state.Plc.Inputs[i].Value = !c.state.Plc.Inputs[i].Value
		}
	}
	for i := range c.state.Plc.Outputs {
		if c.rng.Float64() < outputFlipChance {
			c.state.Plc.Outputs[i].Value = !c.state.Plc.Outputs[i].Value
		}
	}
}

// perturbRobot wanders the arm around its home position so consecutive
// cycles never drift off the work envelope. Callers hold c.mu.
func (c *Controller) perturbRobot() {
	c.state.Robot.Position = Position{
		X: c.robotHome.X + (c.rng.Float64()*2-1)*robotJitterMM,
		Y: c.robotHome.Y + (c.rng.Float64()*2-1)*robotJitterMM,
		Z: c.robotHome.Z + (c.rng.Float64()*2-1)*robotJitterMM,
	}
	c.state.Robot.Speed = c.robotSpeed * (0.9 + 0.2*c.rng.Float64())
}

// inspectPart runs the vision check for the part finished this cycle and
// books the outcome against the active order. Callers hold c.mu.
func (c *Controller) inspectPart() {
	if c.rng.Float64() < c.cfg.InspectFailureRate {
		c.state.PartsRejected++
		c.state.Vision.FailCount++
		c.state.Vision.LastFailureReason = c.visionReasons[c.rng.Intn(len(c.visionReasons))]
		metrics.PartsRejected.Inc()
		return
	}

	c.state.PartsProduced++
	c.state.Vision.PassCount++
	c.state.Vision.LastFailureReason = ""
	metrics.PartsProduced.Inc()

	result := c.book.RecordProduced(1)
	if result.Completed != nil {
		c.logger.Info("order completed",
			zap.String("order_id", result.Completed.ID),
			zap.String("product", result.Completed.Product),
			zap.Int("quantity", result.Completed.QuantityRequired))
	}
	if result.Started != nil {
		c.logger.Info("order started",
			zap.String("order_id", result.Started.ID),
			zap.String("product", result.Started.Product))
	}

	c.state.CurrentOrder = c.book.InProgress()

	if result.AllDone {
		c.detachLoop()
		c.applyDeviceStatus(DeviceReady)
		c.setStatus(StatusCompleted)
		c.logger.Info("all orders fulfilled, line completed",
			zap.Int("parts_produced", c.state.PartsProduced),
			zap.Int("parts_rejected", c.state.PartsRejected))
	}
}

// raiseAnomaly records and publishes the alert, then rolls the fault die.
// The fault only lands if production is still live after inspection; an
// alert on the cycle that just completed the last order stays an alert.
// Callers hold c.mu.
func (c *Controller) raiseAnomaly(reading anomaly.SensorReading, verdict anomaly.Verdict) {
	alert := alerts.New(reading, verdict)
	if c.alertLog != nil {
		c.alertLog.Record(alert)
	}
	c.broadcast(websocket.NewAnomalyAlertMessage(alert))
	metrics.AnomalyAlerts.Inc()

	c.logger.Warn("anomaly detected",
		zap.Float64("score", verdict.AnomalyScore),
		zap.String("probable_cause", verdict.ProbableCause),
		zap.String("recommendation", verdict.Recommendation))

	if c.state.Status != StatusRunning {
		return
	}
	if c.rng.Float64() >= c.cfg.AnomalyFaultRate {
		return
	}

	c.state.Plc.ErrorMessage = faultMessage(verdict)
	c.state.Plc.Status = DeviceError
	c.detachLoop()
	c.setStatus(StatusError)
	metrics.LineFaults.Inc()

	c.logger.Error("line fault raised by anomaly",
		zap.String("error", c.state.Plc.ErrorMessage))
}

// faultMessage picks the most specific description the verdict offers.
func faultMessage(v anomaly.Verdict) string {
	switch {
	case v.ProbableCause != "":
		return "production fault: " + v.ProbableCause
	case v.Recommendation != "" && v.Recommendation != "Normal operation":
		return "production fault: " + v.Recommendation
	default:
		return "production fault: anomaly detected"
	}
}
