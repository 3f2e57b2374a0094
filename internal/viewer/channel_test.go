package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenLineSim/internal/api/websocket"
	"github.com/KevinKickass/OpenLineSim/internal/line"
)

// scriptedConn feeds pre-built frames to the channel and fails like a real
// transport once closed.
type scriptedConn struct {
	mu     sync.Mutex
	cond   *sync.Cond
	frames [][]byte
	closed bool
	pings  int
}

func newScriptedConn() *scriptedConn {
	c := &scriptedConn{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func (c *scriptedConn) push(msg websocket.Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		panic(err)
	}
	c.mu.Lock()
	c.frames = append(c.frames, payload)
	c.mu.Unlock()
	c.cond.Broadcast()
}

func (c *scriptedConn) pushRaw(frame []byte) {
	c.mu.Lock()
	c.frames = append(c.frames, frame)
	c.mu.Unlock()
	c.cond.Broadcast()
}

func (c *scriptedConn) ReadMessage() (int, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.frames) == 0 && !c.closed {
		c.cond.Wait()
	}
	if len(c.frames) > 0 {
		frame := c.frames[0]
		c.frames = c.frames[1:]
		return gws.TextMessage, frame, nil
	}
	return 0, nil, errors.New("use of closed connection")
}

func (c *scriptedConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("use of closed connection")
	}
	if messageType == gws.PingMessage {
		c.pings++
	}
	return nil
}

func (c *scriptedConn) pingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pings
}

func (c *scriptedConn) SetReadDeadline(t time.Time) error   { return nil }
func (c *scriptedConn) SetPongHandler(h func(string) error) {}

func (c *scriptedConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cond.Broadcast()
	return nil
}

// queueDialer hands out scripted connections in order and fails once the
// queue runs dry.
type queueDialer struct {
	mu    sync.Mutex
	conns []*scriptedConn
	calls int
}

func (d *queueDialer) dial(ctx context.Context) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if len(d.conns) == 0 {
		return nil, errors.New("connection refused")
	}
	conn := d.conns[0]
	d.conns = d.conns[1:]
	return conn, nil
}

// phaseRecorder collects every lifecycle transition.
type phaseRecorder struct {
	mu     sync.Mutex
	phases []Phase
}

func (r *phaseRecorder) record(p Phase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phases = append(r.phases, p)
}

func (r *phaseRecorder) snapshot() []Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Phase(nil), r.phases...)
}

func snapshotServer(t *testing.T, initial line.LineState) (*httptest.Server, func(line.LineState)) {
	t.Helper()
	var mu sync.Mutex
	current := initial

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(current)
	}))
	t.Cleanup(srv.Close)

	return srv, func(state line.LineState) {
		mu.Lock()
		current = state
		mu.Unlock()
	}
}

func lineStateWithCycles(n int) line.LineState {
	return line.LineState{
		Status: line.StatusRunning,
		Plc: line.PlcState{
			Connected:  true,
			Status:     line.DeviceRunning,
			CycleCount: n,
			CycleTime:  2.0,
		},
		Robot:         line.RobotState{Connected: true, Status: line.DeviceRunning},
		Vision:        line.VisionState{Connected: true, Status: line.DeviceRunning},
		PartsProduced: n,
		LastUpdated:   time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC).Add(time.Duration(n) * time.Second),
	}
}

func fastConfig(statusURL string) Config {
	return Config{
		URL:          "ws://irrelevant.invalid/api/v1/ws/live",
		StatusURL:    statusURL,
		Schedule:     NewSchedule(time.Millisecond),
		MaxAttempts:  5,
		Quiescence:   time.Millisecond,
		PingInterval: time.Hour,
		PongWait:     time.Hour,
		DialTimeout:  time.Second,
		HTTPTimeout:  time.Second,
	}
}

func TestFullResetAfterExactlyFiveFailedAttempts(t *testing.T) {
	srv, _ := snapshotServer(t, lineStateWithCycles(0))
	recorder := &phaseRecorder{}
	dialer := &queueDialer{} // empty queue: every dial fails

	ch := NewChannel(fastConfig(srv.URL), zap.NewNop())
	ch.dial = dialer.dial
	ch.OnPhaseChange = recorder.record

	require.NoError(t, ch.Open())
	defer ch.Close()

	require.Eventually(t, func() bool {
		return ch.State().FullResets >= 1
	}, 5*time.Second, time.Millisecond)

	// The round gave up via a full reset, not a sixth retry: exactly five
	// connecting attempts precede the first fall back to disconnected.
	phases := recorder.snapshot()
	attempts := 0
	sawReset := false
	for _, p := range phases {
		if p == PhaseDisconnected {
			sawReset = true
			break
		}
		if p == PhaseConnecting {
			attempts++
		}
	}
	require.True(t, sawReset, "phases: %v", phases)
	assert.Equal(t, 5, attempts, "phases: %v", phases)

	// The counter restarts from zero for the new round.
	require.Eventually(t, func() bool {
		state := ch.State()
		return state.FullResets >= 1 && state.Attempts < 5
	}, 5*time.Second, time.Millisecond)
}

func TestChannelKeepsRetryingAfterFullReset(t *testing.T) {
	srv, _ := snapshotServer(t, lineStateWithCycles(3))
	dialer := &queueDialer{}

	ch := NewChannel(fastConfig(srv.URL), zap.NewNop())
	ch.dial = dialer.dial

	require.NoError(t, ch.Open())
	defer ch.Close()

	require.Eventually(t, func() bool {
		return ch.State().FullResets >= 2
	}, 5*time.Second, time.Millisecond, "full reset must lead to a fresh dialing round")

	dialer.mu.Lock()
	calls := dialer.calls
	dialer.mu.Unlock()
	assert.GreaterOrEqual(t, calls, 10, "each round dials with brand new connection objects")
}

func TestConnectResyncsBeforeApplyingEvents(t *testing.T) {
	srv, _ := snapshotServer(t, lineStateWithCycles(7))
	conn := newScriptedConn()
	dialer := &queueDialer{conns: []*scriptedConn{conn}}

	ch := NewChannel(fastConfig(srv.URL), zap.NewNop())
	ch.dial = dialer.dial

	require.NoError(t, ch.Open())
	defer ch.Close()

	require.Eventually(t, func() bool {
		return ch.State().Phase == PhaseConnected
	}, 5*time.Second, time.Millisecond)

	require.Eventually(t, func() bool {
		state := ch.LineState()
		return state != nil && state.Plc.CycleCount == 7
	}, 5*time.Second, time.Millisecond, "replica must come from the snapshot endpoint before any event")
}

func TestMissedBroadcastsRecoveredByResync(t *testing.T) {
	// A flaky subscriber misses broadcasts five through nine, reconnects,
	// and must land on the same state as one that saw everything.
	srv, setState := snapshotServer(t, lineStateWithCycles(0))

	flakyConn1 := newScriptedConn()
	flakyConn2 := newScriptedConn()
	flaky := NewChannel(fastConfig(srv.URL), zap.NewNop())
	flaky.dial = (&queueDialer{conns: []*scriptedConn{flakyConn1, flakyConn2}}).dial

	steadyConn := newScriptedConn()
	steady := NewChannel(fastConfig(srv.URL), zap.NewNop())
	steady.dial = (&queueDialer{conns: []*scriptedConn{steadyConn}}).dial

	require.NoError(t, flaky.Open())
	defer flaky.Close()
	require.NoError(t, steady.Open())
	defer steady.Close()

	require.Eventually(t, func() bool {
		return flaky.State().Phase == PhaseConnected && steady.State().Phase == PhaseConnected
	}, 5*time.Second, time.Millisecond)

	// Broadcasts one through four reach both subscribers.
	for i := 1; i <= 4; i++ {
		msg := websocket.NewStateUpdatedMessage(lineStateWithCycles(i))
		flakyConn1.push(msg)
		steadyConn.push(msg)
	}
	require.Eventually(t, func() bool {
		state := flaky.LineState()
		return state != nil && state.Plc.CycleCount == 4
	}, 5*time.Second, time.Millisecond)

	// The flaky link dies; five through nine go only to the steady one.
	firstConnect := flaky.State().ConnectedAt
	setState(lineStateWithCycles(9))
	flakyConn1.Close()
	for i := 5; i <= 9; i++ {
		steadyConn.push(websocket.NewStateUpdatedMessage(lineStateWithCycles(i)))
	}

	require.Eventually(t, func() bool {
		state := flaky.State()
		return state.Phase == PhaseConnected && state.ConnectedAt.After(firstConnect)
	}, 5*time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		state := flaky.LineState()
		return state != nil && state.Plc.CycleCount == 9
	}, 5*time.Second, time.Millisecond, "resync replaces the replica after reconnect")

	// Broadcast ten reaches both.
	msg := websocket.NewStateUpdatedMessage(lineStateWithCycles(10))
	flakyConn2.push(msg)
	steadyConn.push(msg)

	require.Eventually(t, func() bool {
		f, s := flaky.LineState(), steady.LineState()
		return f != nil && s != nil && f.Plc.CycleCount == 10 && s.Plc.CycleCount == 10
	}, 5*time.Second, time.Millisecond)

	assert.Equal(t, steady.LineState(), flaky.LineState(),
		"snapshot semantics make a gap invisible after the next event")
}

func TestCoalescedFramesAreSplit(t *testing.T) {
	srv, _ := snapshotServer(t, lineStateWithCycles(0))
	ch := NewChannel(fastConfig(srv.URL), zap.NewNop())

	var mu sync.Mutex
	var updates []int
	var statusChanges []string
	ch.OnStateUpdated = func(state line.LineState) {
		mu.Lock()
		updates = append(updates, state.Plc.CycleCount)
		mu.Unlock()
	}
	ch.OnStatusChanged = func(status, previous string) {
		mu.Lock()
		statusChanges = append(statusChanges, previous+"->"+status)
		mu.Unlock()
	}

	// The server batches queued messages into one frame with newline
	// separators; all of them must be dispatched.
	one, err := json.Marshal(websocket.NewStateUpdatedMessage(lineStateWithCycles(1)))
	require.NoError(t, err)
	two, err := json.Marshal(websocket.NewStatusChangedMessage("paused", "running"))
	require.NoError(t, err)
	three, err := json.Marshal(websocket.NewStateUpdatedMessage(lineStateWithCycles(2)))
	require.NoError(t, err)

	frame := append(append(append(append(one, '\n'), two...), '\n'), three...)
	ch.handlePayload(frame)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2}, updates)
	assert.Equal(t, []string{"running->paused"}, statusChanges)

	state := ch.LineState()
	require.NotNil(t, state)
	assert.Equal(t, 2, state.Plc.CycleCount)
}

func TestUnknownMessageTypesAreIgnored(t *testing.T) {
	srv, _ := snapshotServer(t, lineStateWithCycles(0))
	ch := NewChannel(fastConfig(srv.URL), zap.NewNop())

	ch.handlePayload([]byte(`{"type":"telemetry_v2","data":{"x":1}}`))
	ch.handlePayload([]byte(`not json at all`))

	assert.Nil(t, ch.LineState())
}

func TestKeepAlivePingsWhileConnected(t *testing.T) {
	srv, _ := snapshotServer(t, lineStateWithCycles(0))
	conn := newScriptedConn()

	cfg := fastConfig(srv.URL)
	cfg.PingInterval = 5 * time.Millisecond
	ch := NewChannel(cfg, zap.NewNop())
	ch.dial = (&queueDialer{conns: []*scriptedConn{conn}}).dial

	require.NoError(t, ch.Open())
	defer ch.Close()

	require.Eventually(t, func() bool {
		return conn.pingCount() >= 3
	}, 5*time.Second, time.Millisecond)
}

func TestCloseIsCleanFromConnected(t *testing.T) {
	srv, _ := snapshotServer(t, lineStateWithCycles(0))
	conn := newScriptedConn()
	recorder := &phaseRecorder{}

	ch := NewChannel(fastConfig(srv.URL), zap.NewNop())
	ch.dial = (&queueDialer{conns: []*scriptedConn{conn}}).dial
	ch.OnPhaseChange = recorder.record

	require.NoError(t, ch.Open())
	require.Eventually(t, func() bool {
		return ch.State().Phase == PhaseConnected
	}, 5*time.Second, time.Millisecond)

	ch.Close()

	assert.Equal(t, PhaseDisconnected, ch.State().Phase)
	phases := recorder.snapshot()
	require.NotEmpty(t, phases)
	assert.Equal(t, PhaseDisconnected, phases[len(phases)-1])
	assert.Contains(t, phases, PhaseDisconnecting, "clean shutdown passes through disconnecting")
}

func TestCloseBeforeOpenDoesNotHang(t *testing.T) {
	srv, _ := snapshotServer(t, lineStateWithCycles(0))
	ch := NewChannel(fastConfig(srv.URL), zap.NewNop())

	done := make(chan struct{})
	go func() {
		ch.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close hung without a manager goroutine")
	}
	assert.Equal(t, PhaseDisconnected, ch.State().Phase)
}

func TestOpenTwiceFails(t *testing.T) {
	srv, _ := snapshotServer(t, lineStateWithCycles(0))
	ch := NewChannel(fastConfig(srv.URL), zap.NewNop())
	ch.dial = (&queueDialer{}).dial

	require.NoError(t, ch.Open())
	defer ch.Close()

	assert.Error(t, ch.Open())
}

func TestResyncFailureTriggersReconnect(t *testing.T) {
	// Status endpoint fails on the first call, succeeds on the second.
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(lineStateWithCycles(42))
	}))
	t.Cleanup(srv.Close)

	ch := NewChannel(fastConfig(srv.URL), zap.NewNop())
	ch.dial = (&queueDialer{conns: []*scriptedConn{newScriptedConn(), newScriptedConn()}}).dial

	require.NoError(t, ch.Open())
	defer ch.Close()

	require.Eventually(t, func() bool {
		state := ch.LineState()
		return state != nil && state.Plc.CycleCount == 42
	}, 5*time.Second, time.Millisecond, "a failed resync must be retried on a fresh connection")
}
