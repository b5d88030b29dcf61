package execution

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/load-harness/pkg/types"
)

// Tests for PerVUIterationsMode

func TestNewPerVUIterationsMode(t *testing.T) {
	mode := NewPerVUIterationsMode()
	assert.NotNil(t, mode)
	assert.Equal(t, types.ModePerVUIterations, mode.Name())
}

func TestPerVUIterationsMode_Run_InvalidConfig(t *testing.T) {
	noop := func(ctx context.Context, vuID int, iteration int64) error { return nil }

	assert.ErrorIs(t, NewPerVUIterationsMode().Run(context.Background(), nil), ErrNilConfig)
	assert.ErrorIs(t, NewPerVUIterationsMode().Run(context.Background(), &ModeConfig{VUs: 1, Iterations: 1}), ErrNilIterationFunc)
	assert.ErrorIs(t, NewPerVUIterationsMode().Run(context.Background(), &ModeConfig{Iterations: 1, IterationFunc: noop}), ErrInvalidVUs)
	assert.ErrorIs(t, NewPerVUIterationsMode().Run(context.Background(), &ModeConfig{VUs: 1, IterationFunc: noop}), ErrInvalidIterations)
}

func TestPerVUIterationsMode_Run_FixedIterationsPerVU(t *testing.T) {
	mode := NewPerVUIterationsMode()

	var iterationCount atomic.Int32
	vuIterations := make(map[int][]int64)
	var mu sync.Mutex

	config := &ModeConfig{
		VUs:        3,
		Iterations: 5, // 5 iterations per VU
		IterationFunc: func(ctx context.Context, vuID int, iteration int64) error {
			iterationCount.Add(1)
			mu.Lock()
			vuIterations[vuID] = append(vuIterations[vuID], iteration)
			mu.Unlock()
			return nil
		},
	}

	err := mode.Run(context.Background(), config)
	require.NoError(t, err)

	assert.Equal(t, int32(15), iterationCount.Load())
	assert.Len(t, vuIterations, 3)
	for vu := 1; vu <= 3; vu++ {
		assert.Equal(t, []int64{0, 1, 2, 3, 4}, vuIterations[vu], "vu %d", vu)
	}

	state := mode.GetState()
	assert.Equal(t, int64(15), state.CompletedIterations)
	assert.Equal(t, PhaseCompleted, state.Phase.Kind)
	assert.Equal(t, 0, state.ActiveVUs)
}

func TestPerVUIterationsMode_SingleShot(t *testing.T) {
	mode := NewPerVUIterationsMode()
	var calls atomic.Int32

	config := &ModeConfig{
		VUs:            1,
		Iterations:     1,
		IterationDelay: time.Minute,
		IterationFunc: func(ctx context.Context, vuID int, iteration int64) error {
			calls.Add(1)
			return nil
		},
	}

	start := time.Now()
	require.NoError(t, mode.Run(context.Background(), config))
	assert.Equal(t, int32(1), calls.Load())
	// the delay is skipped after the last iteration
	assert.Less(t, time.Since(start), time.Second)
}

func TestPerVUIterationsMode_ReleasesIterationContext(t *testing.T) {
	mode := NewPerVUIterationsMode()
	var (
		mu   sync.Mutex
		ctxs []context.Context
	)

	config := &ModeConfig{
		VUs:        2,
		Iterations: 2,
		IterationFunc: func(ctx context.Context, vuID int, iteration int64) error {
			mu.Lock()
			ctxs = append(ctxs, ctx)
			mu.Unlock()
			return nil
		},
	}

	require.NoError(t, mode.Run(context.Background(), config))
	require.Len(t, ctxs, 4)
	for _, ctx := range ctxs {
		assert.ErrorIs(t, ctx.Err(), context.Canceled)
	}
}

func TestPerVUIterationsMode_DurationCap(t *testing.T) {
	mode := NewPerVUIterationsMode()
	var calls atomic.Int32

	config := &ModeConfig{
		VUs:        2,
		Iterations: 1000,
		Duration:   100 * time.Millisecond,
		IterationFunc: func(ctx context.Context, vuID int, iteration int64) error {
			calls.Add(1)
			time.Sleep(10 * time.Millisecond)
			return nil
		},
	}

	start := time.Now()
	require.NoError(t, mode.Run(context.Background(), config))

	assert.Less(t, time.Since(start), time.Second)
	assert.Less(t, calls.Load(), int32(2000))
	assert.Positive(t, calls.Load())
}

func TestPerVUIterationsMode_Stop(t *testing.T) {
	mode := NewPerVUIterationsMode()

	config := &ModeConfig{
		VUs:        2,
		Iterations: 1000,
		IterationFunc: func(ctx context.Context, vuID int, iteration int64) error {
			time.Sleep(10 * time.Millisecond)
			return nil
		},
	}

	done := make(chan error, 1)
	go func() {
		done <- mode.Run(context.Background(), config)
	}()

	require.Eventually(t, func() bool { return mode.GetState().CompletedIterations > 0 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, mode.Stop(ctx))
	require.NoError(t, <-done)

	assert.Less(t, mode.GetState().CompletedIterations, int64(2000))
}

func TestPerVUIterationsMode_Callbacks(t *testing.T) {
	mode := NewPerVUIterationsMode()

	var started, stopped, completed atomic.Int32
	config := &ModeConfig{
		VUs:        2,
		Iterations: 3,
		IterationFunc: func(ctx context.Context, vuID int, iteration int64) error {
			return nil
		},
		OnVUStart: func(vuID int) { started.Add(1) },
		OnVUStop:  func(vuID int) { stopped.Add(1) },
		OnIterationComplete: func(vuID int, iteration int64, d time.Duration, err error) {
			completed.Add(1)
		},
	}

	require.NoError(t, mode.Run(context.Background(), config))
	assert.Equal(t, int32(2), started.Load())
	assert.Equal(t, int32(2), stopped.Load())
	assert.Equal(t, int32(6), completed.Load())
}
