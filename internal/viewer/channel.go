// Package viewer implements the subscriber half of the sync protocol: a
// websocket channel that keeps a local replica of the line state, survives
// transport drops via scheduled reconnects, and resyncs over REST whenever a
// connection is (re)established.
package viewer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	gws "github.com/gorilla/websocket"
	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenLineSim/internal/alerts"
	"github.com/KevinKickass/OpenLineSim/internal/api/websocket"
	"github.com/KevinKickass/OpenLineSim/internal/line"
)

const (
	defaultMaxAttempts  = 5
	defaultPingInterval = 30 * time.Second
	defaultPongWait     = 60 * time.Second
	defaultQuiescence   = 5 * time.Second
	defaultDialTimeout  = 10 * time.Second
	defaultHTTPTimeout  = 10 * time.Second
)

// Conn is the slice of a websocket connection the channel needs. It matches
// *gorilla/websocket.Conn; tests substitute scripted connections.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Dialer opens one connection attempt. Each call must produce a brand new
// connection object.
type Dialer func(ctx context.Context) (Conn, error)

// Config tunes one sync channel.
type Config struct {
	// URL is the websocket endpoint, e.g. ws://host:8080/api/v1/ws/live.
	URL string
	// StatusURL is the REST snapshot endpoint used for resync on every
	// entry into the connected phase.
	StatusURL string

	// Schedule yields the delay before each retry; nil means the default
	// 1s,2s,5s,10s,15s,30s ladder.
	Schedule backoff.BackOff
	// MaxAttempts is the consecutive-failure ceiling before a full reset.
	MaxAttempts int
	// Quiescence is how long a full reset lies dormant before dialing anew.
	Quiescence time.Duration

	PingInterval time.Duration
	PongWait     time.Duration
	DialTimeout  time.Duration
	HTTPTimeout  time.Duration
}

// Channel maintains one subscriber's connection to the line server. All
// connection work happens on a single manager goroutine, so exactly one
// attempt is in flight at any moment.
type Channel struct {
	cfg      Config
	logger   *zap.Logger
	dial     Dialer
	http     *http.Client
	schedule backoff.BackOff
	machine  *fsm.FSM

	// Callbacks fire on the manager goroutine. Set them before Open.
	OnStateUpdated  func(line.LineState)
	OnStatusChanged func(status, previous string)
	OnAnomalyAlert  func(alerts.Alert)
	OnPhaseChange   func(Phase)

	baseCtx   context.Context
	baseStop  context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	mu          sync.Mutex
	opened      bool
	conn        Conn
	replica     *line.LineState
	attempts    int
	fullResets  int
	lastError   string
	connectedAt time.Time
	lastPong    time.Time
}

func NewChannel(cfg Config, logger *zap.Logger) *Channel {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = defaultPongWait
	}
	if cfg.Quiescence <= 0 {
		cfg.Quiescence = defaultQuiescence
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = defaultHTTPTimeout
	}

	schedule := cfg.Schedule
	if schedule == nil {
		schedule = DefaultSchedule()
	}

	ctx, stop := context.WithCancel(context.Background())

	c := &Channel{
		cfg:      cfg,
		logger:   logger,
		http:     &http.Client{Timeout: cfg.HTTPTimeout},
		schedule: schedule,
		baseCtx:  ctx,
		baseStop: stop,
		done:     make(chan struct{}),
	}
	c.dial = c.dialWebsocket

	c.machine = fsm.NewFSM(
		string(PhaseDisconnected),
		fsm.Events{
			{Name: eventConnect, Src: []string{string(PhaseDisconnected), string(PhaseReconnecting)}, Dst: string(PhaseConnecting)},
			{Name: eventEstablished, Src: []string{string(PhaseConnecting)}, Dst: string(PhaseConnected)},
			{Name: eventDrop, Src: []string{string(PhaseConnecting), string(PhaseConnected)}, Dst: string(PhaseReconnecting)},
			{Name: eventExhausted, Src: []string{string(PhaseReconnecting)}, Dst: string(PhaseDisconnected)},
			{Name: eventDisconnect, Src: []string{string(PhaseConnecting), string(PhaseConnected), string(PhaseReconnecting)}, Dst: string(PhaseDisconnecting)},
			{Name: eventClosed, Src: []string{string(PhaseDisconnecting)}, Dst: string(PhaseDisconnected)},
		},
		fsm.Callbacks{
			"enter_state": func(ctx context.Context, e *fsm.Event) {
				c.logger.Info("sync channel phase changed",
					zap.String("phase", e.Dst),
					zap.String("previous", e.Src),
					zap.String("event", e.Event))
				if c.OnPhaseChange != nil {
					c.OnPhaseChange(Phase(e.Dst))
				}
			},
		},
	)

	return c
}

// Open launches the manager goroutine. It returns immediately; connection
// progress is observable through State and the callbacks.
func (c *Channel) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.opened {
		return fmt.Errorf("sync channel already open")
	}
	c.opened = true

	c.wg.Add(1)
	go c.run()
	return nil
}

// Close is the clean shutdown path: disconnecting, then disconnected. Safe
// to call more than once.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		c.event(eventDisconnect)
		close(c.done)
		c.baseStop()

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}

		c.wg.Wait()
		c.event(eventClosed)
	})
}

// State reports the channel's current condition.
func (c *Channel) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ConnectionState{
		Phase:       Phase(c.machine.Current()),
		Attempts:    c.attempts,
		FullResets:  c.fullResets,
		ConnectedAt: c.connectedAt,
		LastError:   c.lastError,
	}
}

// LineState returns a copy of the local replica, or nil before the first
// snapshot lands.
func (c *Channel) LineState() *line.LineState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.replica == nil {
		return nil
	}
	snapshot := c.replica.Snapshot()
	return &snapshot
}

// run is the manager loop: establish, serve, repeat until closed.
func (c *Channel) run() {
	defer c.wg.Done()

	for {
		conn := c.establish()
		if conn == nil {
			return
		}
		if !c.serve(conn) {
			return
		}
	}
}

// establish dials until a connection lands. Each round allows MaxAttempts
// consecutive failures; the ceiling triggers a full reset and a fresh round.
// Returns nil when the channel is closing.
func (c *Channel) establish() Conn {
	for {
		c.schedule.Reset()
		c.setAttempts(0)

		for {
			if c.closing() {
				return nil
			}
			if err := c.event(eventConnect); err != nil {
				return nil
			}

			conn, err := c.dialOnce()
			if err == nil {
				c.noteConnected(conn)
				c.event(eventEstablished)
				return conn
			}
			if c.closing() {
				return nil
			}

			attempts := c.noteFailure(err)
			c.event(eventDrop)
			c.logger.Warn("sync channel connect failed",
				zap.Int("attempt", attempts),
				zap.Int("max_attempts", c.cfg.MaxAttempts),
				zap.Error(err))

			if attempts >= c.cfg.MaxAttempts {
				c.event(eventExhausted)
				if !c.fullReset() {
					return nil
				}
				break
			}
			if !c.sleep(c.schedule.NextBackOff()) {
				return nil
			}
		}
	}
}

// fullReset tears the attempt round down entirely: counter zeroed, schedule
// rewound, then a quiescence pause before anything dials again. The next
// round builds a brand new connection from scratch. Returns false when the
// channel closed during the pause.
func (c *Channel) fullReset() bool {
	c.mu.Lock()
	c.attempts = 0
	c.fullResets++
	resets := c.fullResets
	c.mu.Unlock()
	c.schedule.Reset()

	c.logger.Warn("sync channel exhausted its attempts, full reset",
		zap.Int("full_resets", resets),
		zap.Duration("quiescence", c.cfg.Quiescence))

	return c.sleep(c.cfg.Quiescence)
}

// serve resyncs the replica and then consumes events until the transport
// drops. Returns false when the channel is closing for good.
func (c *Channel) serve(conn Conn) bool {
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}()

	// The channel replays nothing, so the replica is rebuilt from a full
	// snapshot before any pushed event is applied.
	snapshot, err := c.fetchSnapshot()
	if err != nil {
		if c.closing() {
			return false
		}
		c.noteFailure(err)
		c.event(eventDrop)
		c.logger.Warn("sync channel resync failed, reconnecting", zap.Error(err))
		return true
	}
	c.replaceReplica(snapshot)
	c.logger.Info("sync channel resynced",
		zap.String("line_status", string(snapshot.Status)))

	conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		c.mu.Lock()
		c.lastPong = time.Now()
		c.mu.Unlock()
		return nil
	})

	pingDone := make(chan struct{})
	var pingWg sync.WaitGroup
	pingWg.Add(1)
	go c.keepAlive(conn, pingDone, &pingWg)

	live := true
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if c.closing() {
				live = false
			} else {
				c.noteFailure(err)
				c.event(eventDrop)
				c.logger.Warn("sync channel dropped", zap.Error(err))
			}
			break
		}
		c.handlePayload(payload)
	}

	close(pingDone)
	pingWg.Wait()
	return live
}

// keepAlive pings on a fixed period. A missing pong is diagnostic only; the
// read deadline is what actually declares the link dead.
func (c *Channel) keepAlive(conn Conn, done <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.PingInterval / 2)
			if err := conn.WriteControl(gws.PingMessage, nil, deadline); err != nil {
				c.logger.Debug("sync channel ping failed", zap.Error(err))
				return
			}
			c.mu.Lock()
			silent := !c.lastPong.IsZero() && time.Since(c.lastPong) > 2*c.cfg.PingInterval
			c.mu.Unlock()
			if silent {
				c.logger.Warn("sync channel has not seen a pong recently")
			}
		}
	}
}

// handlePayload splits a frame into its coalesced messages and dispatches
// each one. The server batches queued messages into a single frame separated
// by newlines; a streaming decoder walks them all.
func (c *Channel) handlePayload(payload []byte) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	for dec.More() {
		var env envelope
		if err := dec.Decode(&env); err != nil {
			c.logger.Warn("sync channel received undecodable frame", zap.Error(err))
			return
		}
		c.dispatch(env)
	}
}

// envelope mirrors websocket.Message with the payload left raw until the
// type is known.
type envelope struct {
	Type      websocket.MessageType `json:"type"`
	Timestamp time.Time             `json:"timestamp"`
	Data      json.RawMessage       `json:"data"`
}

func (c *Channel) dispatch(env envelope) {
	switch env.Type {
	case websocket.MessageTypeStateUpdated:
		var state line.LineState
		if err := json.Unmarshal(env.Data, &state); err != nil {
			c.logger.Warn("bad state_updated payload", zap.Error(err))
			return
		}
		c.replaceReplica(&state)
		if c.OnStateUpdated != nil {
			c.OnStateUpdated(state)
		}

	case websocket.MessageTypeStatusChanged:
		var data websocket.StatusChangedData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			c.logger.Warn("bad status_changed payload", zap.Error(err))
			return
		}
		if c.OnStatusChanged != nil {
			c.OnStatusChanged(data.Status, data.Previous)
		}

	case websocket.MessageTypeAnomalyAlert:
		var alert alerts.Alert
		if err := json.Unmarshal(env.Data, &alert); err != nil {
			c.logger.Warn("bad anomaly_alert payload", zap.Error(err))
			return
		}
		if c.OnAnomalyAlert != nil {
			c.OnAnomalyAlert(alert)
		}

	case websocket.MessageTypeConnectionEstablished:
		var data websocket.ConnectionEstablishedData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return
		}
		c.logger.Info("sync channel registered", zap.String("client_id", data.ClientID))

	default:
		c.logger.Debug("sync channel ignoring unknown message type",
			zap.String("type", string(env.Type)))
	}
}

// fetchSnapshot pulls the full line state over REST.
func (c *Channel) fetchSnapshot() (*line.LineState, error) {
	req, err := http.NewRequestWithContext(c.baseCtx, http.MethodGet, c.cfg.StatusURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build snapshot request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("snapshot request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot request returned %d", resp.StatusCode)
	}

	var state line.LineState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &state, nil
}

func (c *Channel) dialOnce() (Conn, error) {
	ctx, cancel := context.WithTimeout(c.baseCtx, c.cfg.DialTimeout)
	defer cancel()
	return c.dial(ctx)
}

func (c *Channel) dialWebsocket(ctx context.Context) (Conn, error) {
	dialer := gws.Dialer{HandshakeTimeout: c.cfg.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// event fires a lifecycle transition, tolerating the ones that lose a race
// with Close; those surface as invalid-transition errors and the caller
// checks closing() right after.
func (c *Channel) event(name string) error {
	err := c.machine.Event(context.Background(), name)
	if err != nil {
		c.logger.Debug("sync channel event not applicable",
			zap.String("event", name),
			zap.String("phase", c.machine.Current()),
			zap.Error(err))
	}
	return err
}

func (c *Channel) closing() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Channel) sleep(d time.Duration) bool {
	if d <= 0 {
		return !c.closing()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-c.done:
		return false
	}
}

func (c *Channel) setAttempts(n int) {
	c.mu.Lock()
	c.attempts = n
	c.mu.Unlock()
}

func (c *Channel) noteFailure(err error) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts++
	c.lastError = err.Error()
	return c.attempts
}

func (c *Channel) noteConnected(conn Conn) {
	c.mu.Lock()
	c.conn = conn
	c.attempts = 0
	c.lastError = ""
	c.connectedAt = time.Now()
	c.lastPong = time.Time{}
	c.mu.Unlock()
	c.schedule.Reset()
}

func (c *Channel) replaceReplica(state *line.LineState) {
	snapshot := state.Snapshot()
	c.mu.Lock()
	c.replica = &snapshot
	c.mu.Unlock()
}
