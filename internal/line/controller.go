package line

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenLineSim/internal/alerts"
	"github.com/KevinKickass/OpenLineSim/internal/anomaly"
	"github.com/KevinKickass/OpenLineSim/internal/api/websocket"
	"github.com/KevinKickass/OpenLineSim/internal/devices"
)

// Scorer produces sensor readings and judges them. *anomaly.Client implements
// it; tests substitute a deterministic stub.
type Scorer interface {
	GenerateReading(ctx context.Context) anomaly.SensorReading
	Score(ctx context.Context, reading anomaly.SensorReading) anomaly.Verdict
}

// ProfileSource resolves station profiles by name. *devices.ProfileLoader
// implements it.
type ProfileSource interface {
	Load(name string) (*devices.StationProfile, error)
}

// Broadcaster pushes events to connected viewers. *websocket.Hub implements
// it.
type Broadcaster interface {
	Broadcast(msg websocket.Message)
}

// Config carries the simulation tunables.
type Config struct {
	TickInterval       time.Duration
	InitPhaseDelay     time.Duration
	InspectFailureRate float64
	AnomalyFaultRate   float64
	PLCProfile         string
	RobotProfile       string
	VisionProfile      string
}

// Controller owns the line state, the order book and the simulation loop.
// Every mutation, whether from a command or a simulation cycle, runs under
// its mutex; broadcasts are enqueued while the mutex is held so viewers see
// events in mutation order.
type Controller struct {
	logger   *zap.Logger
	cfg      Config
	scorer   Scorer
	profiles ProfileSource
	hub      Broadcaster
	alertLog *alerts.Log

	mu          sync.Mutex
	state       LineState
	book        *OrderBook
	loop        *Loop
	rng         *rand.Rand
	initialized bool

	// Simulation parameters, seeded with defaults and overridden from the
	// station profiles during Initialize.
	cycleTimeMin  float64
	cycleTimeMax  float64
	robotHome     Position
	robotSpeed    float64
	visionReasons []string
}

func NewController(
	logger *zap.Logger,
	cfg Config,
	orders []Order,
	scorer Scorer,
	profiles ProfileSource,
	hub Broadcaster,
	alertLog *alerts.Log,
	rng *rand.Rand,
) *Controller {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 2 * time.Second
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Controller{
		logger:        logger,
		cfg:           cfg,
		scorer:        scorer,
		profiles:      profiles,
		hub:           hub,
		alertLog:      alertLog,
		rng:           rng,
		state:         newLineState(),
		book:          NewOrderBook(orders),
		cycleTimeMin:  defaultCycleTimeMin,
		cycleTimeMax:  defaultCycleTimeMax,
		robotHome:     defaultRobotHome,
		robotSpeed:    defaultRobotSpeed,
		visionReasons: defaultFailureReasons,
	}
}

// ExecuteCommand dispatches one operator command.
func (c *Controller) ExecuteCommand(ctx context.Context, cmd Command) error {
	c.logger.Info("line command received", zap.String("command", string(cmd)))

	switch cmd {
	case CommandInitialize:
		return c.Initialize(ctx)
	case CommandStart:
		return c.Start()
	case CommandStop:
		return c.Stop()
	case CommandPause:
		return c.Pause()
	case CommandReset:
		return c.Reset()
	case CommandEmergencyStop:
		return c.EmergencyStop()
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

// Initialize brings the three stations from offline to ready, loading their
// profiles and fetching a first reading. Idempotent: a second call observes
// nothing and changes nothing.
func (c *Controller) Initialize(ctx context.Context) error {
	c.mu.Lock()
	if c.initialized {
		c.mu.Unlock()
		c.logger.Info("line already initialized")
		return nil
	}
	if c.state.Status == StatusRunning || c.state.Status == StatusPaused {
		status := c.state.Status
		c.mu.Unlock()
		return fmt.Errorf("cannot initialize while line is %s", status)
	}
	if c.state.Plc.EmergencyStopActive {
		c.mu.Unlock()
		return fmt.Errorf("cannot initialize: emergency stop active, reset required")
	}
	c.mu.Unlock()

	// Profiles come from disk; resolve them before touching state so a bad
	// profile surfaces as a failed command with a clearly errored station.
	plcProfile, err := c.profiles.Load(c.cfg.PLCProfile)
	if err != nil {
		c.failStation(devices.StationPLC, err)
		return fmt.Errorf("initialize failed: plc profile: %w", err)
	}
	robotProfile, err := c.profiles.Load(c.cfg.RobotProfile)
	if err != nil {
		c.failStation(devices.StationRobot, err)
		return fmt.Errorf("initialize failed: robot profile: %w", err)
	}
	visionProfile, err := c.profiles.Load(c.cfg.VisionProfile)
	if err != nil {
		c.failStation(devices.StationVision, err)
		return fmt.Errorf("initialize failed: vision profile: %w", err)
	}

	// Phase one: stations announce themselves.
	c.mu.Lock()
	if err := c.initInterrupted(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.applyDeviceStatus(DeviceInitializing)
	c.touchAndBroadcast()
	c.mu.Unlock()

	select {
	case <-ctx.Done():
		c.mu.Lock()
		c.applyDeviceStatus(DeviceOffline)
		c.touchAndBroadcast()
		c.mu.Unlock()
		return fmt.Errorf("initialize cancelled: %w", ctx.Err())
	case <-time.After(c.cfg.InitPhaseDelay):
	}

	reading := c.scorer.GenerateReading(ctx)

	// Phase two: apply profile data and go ready.
	c.mu.Lock()
	if err := c.initInterrupted(); err != nil {
		c.mu.Unlock()
		return err
	}

	c.state.Plc.Inputs = ioPoints(plcProfile, devices.IOKindInput)
	c.state.Plc.Outputs = ioPoints(plcProfile, devices.IOKindOutput)
	if plcProfile.Parameters.CycleTimeMin > 0 {
		c.cycleTimeMin = plcProfile.Parameters.CycleTimeMin
	}
	if plcProfile.Parameters.CycleTimeMax >= c.cycleTimeMin {
		c.cycleTimeMax = plcProfile.Parameters.CycleTimeMax
	}
	if home := robotProfile.Parameters.HomePosition; home != nil {
		c.robotHome = Position{X: home.X, Y: home.Y, Z: home.Z}
	}
	if robotProfile.Parameters.NominalSpeed > 0 {
		c.robotSpeed = robotProfile.Parameters.NominalSpeed
	}
	if reasons := visionProfile.Parameters.FailureReasons; len(reasons) > 0 {
		c.visionReasons = append([]string(nil), reasons...)
	}

	c.state.Robot.Position = c.robotHome
	c.state.Robot.Speed = 0
	c.state.CurrentReading = &reading
	c.applyDeviceStatus(DeviceReady)
	c.setConnected(true)
	c.initialized = true
	c.touchAndBroadcast()
	c.mu.Unlock()

	c.logger.Info("line initialized",
		zap.String("plc_profile", c.cfg.PLCProfile),
		zap.String("robot_profile", c.cfg.RobotProfile),
		zap.String("vision_profile", c.cfg.VisionProfile))
	return nil
}

// Start begins or resumes production and arms the simulation loop.
func (c *Controller) Start() error {
	c.mu.Lock()

	switch c.state.Status {
	case StatusRunning:
		c.mu.Unlock()
		c.logger.Debug("start ignored, line already running")
		return nil
	case StatusError:
		c.mu.Unlock()
		return fmt.Errorf("cannot start: line is in error state, reset required")
	}
	if c.state.Plc.EmergencyStopActive {
		c.mu.Unlock()
		return fmt.Errorf("cannot start: emergency stop active, reset required")
	}

	resumed := c.state.Status == StatusPaused

	c.applyDeviceStatus(DeviceRunning)
	c.setConnected(true)

	if current := c.book.InProgress(); current != nil {
		c.state.CurrentOrder = current
	} else if started := c.book.MarkNextInProgress(); started != nil {
		c.state.CurrentOrder = started
		c.logger.Info("order started",
			zap.String("order_id", started.ID),
			zap.String("product", started.Product))
	} else {
		// No orders left: production continues without order progress.
		c.state.CurrentOrder = nil
	}

	c.setStatus(StatusRunning)
	c.armLoop()
	c.touchAndBroadcast()
	c.mu.Unlock()

	c.logger.Info("line started", zap.Bool("resumed", resumed))
	return nil
}

// Stop halts production. Stations fall back to ready; counters are kept.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.state.Status != StatusRunning && c.state.Status != StatusPaused {
		c.mu.Unlock()
		c.logger.Debug("stop ignored", zap.String("status", string(c.state.Status)))
		return nil
	}

	loop := c.detachLoop()
	c.applyDeviceStatus(DeviceReady)
	c.setStatus(StatusStopped)
	c.touchAndBroadcast()
	c.mu.Unlock()

	if loop != nil {
		loop.Stop()
	}
	return nil
}

// Pause suspends production. Stations keep their last values so Start can
// resume where the line left off.
func (c *Controller) Pause() error {
	c.mu.Lock()
	if c.state.Status != StatusRunning {
		c.mu.Unlock()
		c.logger.Debug("pause ignored", zap.String("status", string(c.state.Status)))
		return nil
	}

	loop := c.detachLoop()
	c.setStatus(StatusPaused)
	c.touchAndBroadcast()
	c.mu.Unlock()

	if loop != nil {
		loop.Stop()
	}
	return nil
}

// Reset returns the line to its initial shape: counters zeroed, emergency
// flag cleared, every order pending again. Running lines are stopped first.
// On a line already in the initial shape it observes nothing and changes
// nothing.
func (c *Controller) Reset() error {
	c.mu.Lock()

	if c.pristine() {
		c.mu.Unlock()
		c.logger.Debug("reset ignored, line already in initial shape")
		return nil
	}

	var loop *Loop
	if c.state.Status == StatusRunning || c.state.Status == StatusPaused {
		loop = c.detachLoop()
		c.applyDeviceStatus(DeviceReady)
		c.setStatus(StatusStopped)
	}

	c.state.PartsProduced = 0
	c.state.PartsRejected = 0
	c.state.Plc.CycleCount = 0
	c.state.Plc.CycleTime = 0
	c.state.Plc.EmergencyStopActive = false
	c.state.Plc.ErrorMessage = ""
	c.state.Robot.ErrorMessage = ""
	c.state.Vision.PassCount = 0
	c.state.Vision.FailCount = 0
	c.state.Vision.LastFailureReason = ""
	c.state.Vision.ErrorMessage = ""

	if c.initialized {
		c.applyDeviceStatus(DeviceReady)
		c.setConnected(true)
		c.state.Robot.Position = c.robotHome
		c.state.Robot.Speed = 0
	} else {
		// Stations that never initialized stay offline.
		c.applyDeviceStatus(DeviceOffline)
		c.setConnected(false)
	}

	c.book.Reset()
	c.state.CurrentOrder = nil
	c.setStatus(StatusIdle)
	c.touchAndBroadcast()
	c.mu.Unlock()

	if loop != nil {
		loop.Stop()
	}
	c.logger.Info("line reset")
	return nil
}

// EmergencyStop halts everything unconditionally, from any state, even
// mid-cycle. Clearing it requires Reset.
func (c *Controller) EmergencyStop() error {
	c.mu.Lock()
	loop := c.detachLoop()
	c.applyDeviceStatus(DeviceEmergencyStop)
	c.state.Plc.EmergencyStopActive = true
	c.setStatus(StatusStopped)
	c.touchAndBroadcast()
	c.mu.Unlock()

	if loop != nil {
		loop.Stop()
	}
	c.logger.Warn("emergency stop engaged")
	return nil
}

// Status returns a deep copy of the current line state.
func (c *Controller) Status() LineState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Snapshot()
}

// Orders returns a copy of the order book in list order.
func (c *Controller) Orders() []Order {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.book.Snapshot()
}

// Initialized reports whether the stations have completed initialization.
func (c *Controller) Initialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

// LoopArmed reports whether the simulation loop is currently armed.
func (c *Controller) LoopArmed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loop != nil
}

// Close disarms the loop and waits for any in-flight cycle. Line state is
// left untouched; the process is going away.
func (c *Controller) Close() {
	c.mu.Lock()
	loop := c.detachLoop()
	c.mu.Unlock()
	if loop != nil {
		loop.Stop()
	}
}

// failStation marks one station errored after a failed command step.
func (c *Controller) failStation(station devices.StationKind, err error) {
	c.mu.Lock()
	switch station {
	case devices.StationPLC:
		c.state.Plc.Status = DeviceError
		c.state.Plc.ErrorMessage = err.Error()
	case devices.StationRobot:
		c.state.Robot.Status = DeviceError
		c.state.Robot.ErrorMessage = err.Error()
	case devices.StationVision:
		c.state.Vision.Status = DeviceError
		c.state.Vision.ErrorMessage = err.Error()
	}
	c.touchAndBroadcast()
	c.mu.Unlock()
}

// initInterrupted reports whether another command claimed the line while
// Initialize was between phases. Callers hold c.mu.
func (c *Controller) initInterrupted() error {
	if c.state.Plc.EmergencyStopActive {
		return fmt.Errorf("initialize interrupted: emergency stop engaged")
	}
	if c.state.Status == StatusRunning || c.state.Status == StatusPaused {
		return fmt.Errorf("initialize interrupted: line became %s", c.state.Status)
	}
	return nil
}

// pristine reports whether observable state already matches the reset shape.
// Callers hold c.mu.
func (c *Controller) pristine() bool {
	s := &c.state
	if s.Status != StatusIdle || s.PartsProduced != 0 || s.PartsRejected != 0 {
		return false
	}
	if s.Plc.CycleCount != 0 || s.Plc.EmergencyStopActive || s.Plc.ErrorMessage != "" {
		return false
	}
	if s.Vision.PassCount != 0 || s.Vision.FailCount != 0 {
		return false
	}
	return c.book.allPending()
}

// setStatus transitions the line status and emits the status-change event.
// Callers hold c.mu.
func (c *Controller) setStatus(next LineStatus) {
	if c.state.Status == next {
		return
	}
	previous := c.state.Status
	c.state.Status = next
	c.logger.Info("line status changed",
		zap.String("status", string(next)),
		zap.String("previous", string(previous)))
	c.broadcast(websocket.NewStatusChangedMessage(string(next), string(previous)))
}

// applyDeviceStatus sets all three stations to the same status. Callers hold
// c.mu.
func (c *Controller) applyDeviceStatus(status DeviceStatus) {
	c.state.Plc.Status = status
	c.state.Robot.Status = status
	c.state.Vision.Status = status
}

// setConnected flips all three stations' link flags. Callers hold c.mu.
func (c *Controller) setConnected(connected bool) {
	c.state.Plc.Connected = connected
	c.state.Robot.Connected = connected
	c.state.Vision.Connected = connected
}

// touchAndBroadcast stamps the mutation and pushes the full snapshot.
// Callers hold c.mu.
func (c *Controller) touchAndBroadcast() {
	c.state.LastUpdated = time.Now()
	c.broadcast(websocket.NewStateUpdatedMessage(c.state.Snapshot()))
}

func (c *Controller) broadcast(msg websocket.Message) {
	if c.hub == nil {
		return
	}
	c.hub.Broadcast(msg)
}

// detachLoop disowns the current loop and signals it to halt without
// waiting. Callers hold c.mu and, outside a cycle, must Stop() the returned
// loop after releasing it.
func (c *Controller) detachLoop() *Loop {
	loop := c.loop
	c.loop = nil
	if loop != nil {
		loop.Interrupt()
	}
	return loop
}

// armLoop creates and starts a fresh loop. The cycle closure carries the
// loop's own identity so a stale tick from a disarmed loop can be told apart
// from the live one. Callers hold c.mu.
func (c *Controller) armLoop() {
	var loop *Loop
	loop = NewLoop(c.cfg.TickInterval, func(ctx context.Context) {
		c.runCycle(ctx, loop)
	}, c.logger)
	c.loop = loop
	loop.Start()
}

func ioPoints(profile *devices.StationProfile, kind string) []IOPoint {
	var points []IOPoint
	for _, pt := range profile.IOPoints {
		if pt.Kind == kind {
			points = append(points, IOPoint{Name: pt.Name, Value: pt.Initial})
		}
	}
	return points
}
