package execution

import (
	"context"
	"time"

	"go.uber.org/zap"

	"yqhp/load-harness/pkg/types"
)

// PerVUIterationsMode implements the per-vu-iterations execution mode.
// Each VU executes a fixed number of iterations. Duration, when set, caps
// the whole run.
type PerVUIterationsMode struct {
	*BaseMode
}

// NewPerVUIterationsMode creates a new per-VU iterations mode.
func NewPerVUIterationsMode() *PerVUIterationsMode {
	return &PerVUIterationsMode{
		BaseMode: NewBaseMode(types.ModePerVUIterations),
	}
}

// Run starts config.VUs workers and returns once each has run
// config.Iterations iterations, or after draining on cancel, Stop or
// Duration expiry.
func (m *PerVUIterationsMode) Run(ctx context.Context, config *ModeConfig) error {
	if err := config.validate(); err != nil {
		return err
	}
	if config.VUs <= 0 {
		return ErrInvalidVUs
	}
	if config.Iterations <= 0 {
		return ErrInvalidIterations
	}
	if m.GetState().Running {
		return ErrModeAlreadyRunning
	}

	pool := newVUPool(ctx, config, int64(config.Iterations))
	m.attach(pool)
	pool.recordMax(config.VUs)

	finish := m.begin(config.VUs)
	defer finish()

	pool.log.Info("per-vu-iterations 开始", zap.Int("vus", config.VUs), zap.Int("iterations", config.Iterations))
	m.setPhase(Phase{Kind: PhaseSteady, Stage: 0})
	pool.scale(config.VUs)

	var deadline <-chan time.Time
	if config.Duration > 0 {
		timer := time.NewTimer(config.Duration)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-pool.wait():
		pool.cancelIter()
		return nil
	case <-ctx.Done():
		pool.log.Info("per-vu-iterations 被取消，开始排空")
	case <-m.stopCh:
		pool.log.Info("per-vu-iterations 收到停止请求，开始排空")
	case <-deadline:
		pool.log.Warn("per-vu-iterations 达到最长时长，开始排空", zap.Duration("duration", config.Duration))
	}

	m.drain(pool, config.gracefulStop())
	return nil
}
