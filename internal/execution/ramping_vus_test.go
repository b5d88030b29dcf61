package execution

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/load-harness/pkg/types"
)

// concurrency 统计同时执行中的迭代数
type concurrency struct {
	current atomic.Int32
	peak    atomic.Int32
}

func (c *concurrency) enter() {
	cur := c.current.Add(1)
	for {
		p := c.peak.Load()
		if cur <= p || c.peak.CompareAndSwap(p, cur) {
			return
		}
	}
}

func (c *concurrency) leave() {
	c.current.Add(-1)
}

func TestNewRampingVUsMode(t *testing.T) {
	mode := NewRampingVUsMode()
	assert.NotNil(t, mode)
	assert.Equal(t, types.ModeRampingVUs, mode.Name())
	assert.Equal(t, PhaseIdle, mode.GetState().Phase.Kind)
}

func TestRampingVUsMode_Run_NilConfig(t *testing.T) {
	mode := NewRampingVUsMode()
	err := mode.Run(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNilConfig)
}

func TestRampingVUsMode_Run_NilIterationFunc(t *testing.T) {
	mode := NewRampingVUsMode()
	config := &ModeConfig{
		Stages: []types.Stage{
			{Duration: time.Second, Target: 5},
		},
		IterationFunc: nil,
	}
	err := mode.Run(context.Background(), config)
	assert.ErrorIs(t, err, ErrNilIterationFunc)
}

func TestRampingVUsMode_Run_NoStages(t *testing.T) {
	mode := NewRampingVUsMode()
	config := &ModeConfig{
		Stages: []types.Stage{},
		IterationFunc: func(ctx context.Context, vuID int, iteration int64) error {
			return nil
		},
	}
	err := mode.Run(context.Background(), config)
	assert.ErrorIs(t, err, ErrNoStages)
}

func TestRampingVUsMode_Run_InvalidStage(t *testing.T) {
	mode := NewRampingVUsMode()
	config := &ModeConfig{
		Stages: []types.Stage{{Duration: time.Second, Target: -1}},
		IterationFunc: func(ctx context.Context, vuID int, iteration int64) error {
			return nil
		},
	}
	err := mode.Run(context.Background(), config)
	assert.ErrorIs(t, err, ErrInvalidStage)
}

func TestRampingVUsMode_Run_SingleStage(t *testing.T) {
	mode := NewRampingVUsMode()
	var c concurrency

	config := &ModeConfig{
		Stages: []types.Stage{
			{Duration: 200 * time.Millisecond, Target: 5},
		},
		IterationFunc: func(ctx context.Context, vuID int, iteration int64) error {
			c.enter()
			defer c.leave()
			time.Sleep(10 * time.Millisecond)
			return nil
		},
	}

	err := mode.Run(context.Background(), config)
	require.NoError(t, err)

	state := mode.GetState()
	assert.Equal(t, 5, state.PeakVUs)
	assert.LessOrEqual(t, c.peak.Load(), int32(5))
	assert.Equal(t, 0, state.ActiveVUs)
	assert.Positive(t, state.CompletedIterations)
	assert.False(t, state.Running)
	assert.Equal(t, PhaseCompleted, state.Phase.Kind)
}

// TestRampingVUsMode_Run_Profile is a time-compressed [30s:5, 1m:10, 30s:0].
func TestRampingVUsMode_Run_Profile(t *testing.T) {
	mode := NewRampingVUsMode()
	var c concurrency
	var iterations atomic.Int64

	config := &ModeConfig{
		Stages: []types.Stage{
			{Duration: 150 * time.Millisecond, Target: 5},
			{Duration: 300 * time.Millisecond, Target: 10},
			{Duration: 150 * time.Millisecond, Target: 0},
		},
		IterationFunc: func(ctx context.Context, vuID int, iteration int64) error {
			c.enter()
			defer c.leave()
			iterations.Add(1)
			time.Sleep(5 * time.Millisecond)
			return nil
		},
	}

	require.NoError(t, mode.Run(context.Background(), config))

	state := mode.GetState()
	assert.Equal(t, 10, state.PeakVUs)
	assert.LessOrEqual(t, c.peak.Load(), int32(10))
	assert.Equal(t, iterations.Load(), state.CompletedIterations)
	// sanity floor: at least one VU ran for most of the profile
	assert.Greater(t, iterations.Load(), int64(50))
}

func TestRampingVUsMode_RampDownDoesNotCancelIterations(t *testing.T) {
	mode := NewRampingVUsMode()
	var cancelled, finished atomic.Int32

	config := &ModeConfig{
		Stages: []types.Stage{
			{Duration: 60 * time.Millisecond, Target: 4},
			{Duration: 60 * time.Millisecond, Target: 0},
		},
		IterationFunc: func(ctx context.Context, vuID int, iteration int64) error {
			select {
			case <-ctx.Done():
				cancelled.Add(1)
				return ctx.Err()
			case <-time.After(150 * time.Millisecond):
				finished.Add(1)
				return nil
			}
		},
	}

	start := time.Now()
	require.NoError(t, mode.Run(context.Background(), config))

	assert.Zero(t, cancelled.Load(), "ramp-down must not cancel in-flight iterations")
	assert.Positive(t, finished.Load())
	// the run waits for the last in-flight iteration
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestRampingVUsMode_ContextCancelDrains(t *testing.T) {
	mode := NewRampingVUsMode()
	var cancelled, finished atomic.Int32

	config := &ModeConfig{
		Stages: []types.Stage{{Duration: 0, Target: 3}, {Duration: 10 * time.Second, Target: 3}},
		IterationFunc: func(ctx context.Context, vuID int, iteration int64) error {
			select {
			case <-ctx.Done():
				cancelled.Add(1)
			case <-time.After(80 * time.Millisecond):
				finished.Add(1)
			}
			return nil
		},
		GracefulStop: time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	require.NoError(t, mode.Run(ctx, config))

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Zero(t, cancelled.Load(), "external cancel drains without cancelling iterations")
	assert.Positive(t, finished.Load())
}

func TestRampingVUsMode_GracefulStopExpiry(t *testing.T) {
	mode := NewRampingVUsMode()
	var cancelled atomic.Int32

	config := &ModeConfig{
		Stages: []types.Stage{{Duration: 0, Target: 2}, {Duration: 10 * time.Second, Target: 2}},
		IterationFunc: func(ctx context.Context, vuID int, iteration int64) error {
			<-ctx.Done()
			cancelled.Add(1)
			return ctx.Err()
		},
		GracefulStop: 100 * time.Millisecond,
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = mode.Stop(context.Background())
	}()

	start := time.Now()
	require.NoError(t, mode.Run(context.Background(), config))

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, int32(2), cancelled.Load())
	// 被中断的迭代不计数
	assert.Zero(t, mode.GetState().CompletedIterations)
}

func TestRampingVUsMode_Stop(t *testing.T) {
	mode := NewRampingVUsMode()

	config := &ModeConfig{
		Stages: []types.Stage{
			{Duration: 0, Target: 5},
			{Duration: 10 * time.Second, Target: 5},
		},
		IterationFunc: func(ctx context.Context, vuID int, iteration int64) error {
			time.Sleep(10 * time.Millisecond)
			return nil
		},
	}

	done := make(chan error, 1)
	go func() {
		done <- mode.Run(context.Background(), config)
	}()

	require.Eventually(t, func() bool { return mode.GetState().Running }, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, mode.Stop(ctx))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	assert.Equal(t, PhaseCompleted, mode.GetState().Phase.Kind)
}

func TestRampingVUsMode_PhaseTracking(t *testing.T) {
	mode := NewRampingVUsMode()

	config := &ModeConfig{
		Stages: []types.Stage{
			{Duration: 150 * time.Millisecond, Target: 2},
			{Duration: 300 * time.Millisecond, Target: 2},
		},
		IterationFunc: func(ctx context.Context, vuID int, iteration int64) error {
			time.Sleep(5 * time.Millisecond)
			return nil
		},
	}

	done := make(chan struct{})
	seen := make(map[string]bool)
	go func() {
		defer close(done)
		for mode.GetState().Phase.Kind != PhaseCompleted {
			seen[mode.GetState().Phase.String()] = true
			time.Sleep(5 * time.Millisecond)
		}
	}()

	require.NoError(t, mode.Run(context.Background(), config))
	<-done

	assert.True(t, seen["ramping(0)"])
	assert.True(t, seen["steady(1)"])
}
