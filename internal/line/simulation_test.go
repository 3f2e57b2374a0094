package line

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenLineSim/internal/anomaly"
)

func TestLoopRunsCyclesUntilStopped(t *testing.T) {
	var mu sync.Mutex
	count := 0

	loop := NewLoop(5*time.Millisecond, func(ctx context.Context) {
		mu.Lock()
		count++
		mu.Unlock()
	}, zap.NewNop())

	loop.Start()
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count >= 3
	}, time.Second, time.Millisecond)

	loop.Stop()
	assert.False(t, loop.Armed())

	mu.Lock()
	frozen := count
	mu.Unlock()
	time.Sleep(25 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, frozen, count, "no cycles after stop")
	mu.Unlock()
}

func TestLoopStartTwiceIsNoOp(t *testing.T) {
	loop := NewLoop(time.Hour, func(ctx context.Context) {}, zap.NewNop())
	loop.Start()
	loop.Start()
	assert.True(t, loop.Armed())
	loop.Stop()
}

func TestLoopStopIsIdempotent(t *testing.T) {
	loop := NewLoop(time.Hour, func(ctx context.Context) {}, zap.NewNop())
	loop.Start()
	loop.Stop()
	loop.Stop()
	assert.False(t, loop.Armed())
}

func TestLoopInterruptCancelsInFlightCycle(t *testing.T) {
	started := make(chan struct{}, 1)

	loop := NewLoop(time.Millisecond, func(ctx context.Context) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
	}, zap.NewNop())

	loop.Start()
	<-started

	done := make(chan struct{})
	go func() {
		loop.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not unblock the in-flight cycle")
	}
}

func TestStaleTickIsDiscarded(t *testing.T) {
	f := newFixture(t, testOrders(), nil)
	require.NoError(t, f.ctrl.Initialize(context.Background()))
	require.NoError(t, f.ctrl.Start())

	f.ctrl.mu.Lock()
	stale := f.ctrl.loop
	f.ctrl.mu.Unlock()
	require.NotNil(t, stale)

	require.NoError(t, f.ctrl.Stop())

	f.scorer.mu.Lock()
	fetches := f.scorer.calls
	f.scorer.mu.Unlock()

	// A tick racing the stop never reaches the scorer.
	f.ctrl.runCycle(context.Background(), stale)

	f.scorer.mu.Lock()
	assert.Equal(t, fetches, f.scorer.calls)
	f.scorer.mu.Unlock()
	assert.Zero(t, f.ctrl.Status().Plc.CycleCount)
}

func TestTickFetchedBeforeDisarmIsDiscardedWhole(t *testing.T) {
	f := newFixture(t, testOrders(), nil)
	require.NoError(t, f.ctrl.Initialize(context.Background()))
	require.NoError(t, f.ctrl.Start())

	f.ctrl.mu.Lock()
	stale := f.ctrl.loop
	f.ctrl.mu.Unlock()

	require.NoError(t, f.ctrl.Stop())
	before := f.ctrl.Status()

	// The loop had already fetched when the stop landed; applying must be
	// all-or-nothing, and here it is nothing.
	f.ctrl.applyCycle(stale, anomaly.SensorReading{Temperature: 99}, anomaly.Verdict{IsAnomaly: true})

	after := f.ctrl.Status()
	assert.Zero(t, after.Plc.CycleCount)
	assert.Zero(t, after.PartsProduced+after.PartsRejected)
	assert.Equal(t, before.CurrentReading, after.CurrentReading)
	assert.Zero(t, f.alerts.Count())
}

func TestRobotStaysInWorkEnvelope(t *testing.T) {
	f := newFixture(t, testOrders(), func(cfg *Config) {
		cfg.InspectFailureRate = 0.5
	})
	require.NoError(t, f.ctrl.Initialize(context.Background()))
	require.NoError(t, f.ctrl.Start())

	for i := 0; i < 25 && f.ctrl.Status().Status == StatusRunning; i++ {
		driveCycle(f.ctrl)
		state := f.ctrl.Status()

		assert.InDelta(t, 400.0, state.Robot.Position.X, robotJitterMM)
		assert.InDelta(t, 0.0, state.Robot.Position.Y, robotJitterMM)
		assert.InDelta(t, 300.0, state.Robot.Position.Z, robotJitterMM)
		assert.GreaterOrEqual(t, state.Robot.Speed, 250.0*0.9)
		assert.LessOrEqual(t, state.Robot.Speed, 250.0*1.1)
		assert.GreaterOrEqual(t, state.Plc.CycleTime, 1.5)
		assert.LessOrEqual(t, state.Plc.CycleTime, 2.5)
	}
}

func TestCycleRefreshesReadingAndIO(t *testing.T) {
	f := newFixture(t, testOrders(), nil)
	require.NoError(t, f.ctrl.Initialize(context.Background()))
	require.NoError(t, f.ctrl.Start())

	f.scorer.mu.Lock()
	f.scorer.reading = anomaly.SensorReading{
		Temperature: 61.5, Pressure: 103, Speed: 74, Vibration: 26,
		Timestamp: anomaly.Now(),
	}
	f.scorer.mu.Unlock()

	driveCycle(f.ctrl)

	state := f.ctrl.Status()
	require.NotNil(t, state.CurrentReading)
	assert.InDelta(t, 61.5, state.CurrentReading.Temperature, 0.001)
	assert.Equal(t, 1, state.Plc.CycleCount)
	assert.Len(t, state.Plc.Inputs, 2)
	assert.Len(t, state.Plc.Outputs, 1)
}

func TestFaultMessagePrefersProbableCause(t *testing.T) {
	cases := []struct {
		name    string
		verdict anomaly.Verdict
		want    string
	}{
		{
			name:    "probable cause",
			verdict: anomaly.Verdict{ProbableCause: "Abnormal vibration", Recommendation: "Check for loose components"},
			want:    "production fault: Abnormal vibration",
		},
		{
			name:    "recommendation fallback",
			verdict: anomaly.Verdict{Recommendation: "Maintenance required"},
			want:    "production fault: Maintenance required",
		},
		{
			name:    "normal recommendation is no description",
			verdict: anomaly.Verdict{Recommendation: "Normal operation"},
			want:    "production fault: anomaly detected",
		},
		{
			name:    "empty verdict",
			verdict: anomaly.Verdict{},
			want:    "production fault: anomaly detected",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, faultMessage(tc.verdict))
		})
	}
}
