package execution

import (
	"context"
	"time"

	"go.uber.org/zap"

	"yqhp/load-harness/pkg/types"
)

// ConstantVUsMode implements the constant-vus execution mode.
// It maintains a fixed number of VUs throughout the test duration.
type ConstantVUsMode struct {
	*BaseMode
}

// NewConstantVUsMode creates a new constant VUs mode.
func NewConstantVUsMode() *ConstantVUsMode {
	return &ConstantVUsMode{
		BaseMode: NewBaseMode(types.ModeConstantVUs),
	}
}

// Run starts config.VUs workers, holds them for config.Duration and drains.
func (m *ConstantVUsMode) Run(ctx context.Context, config *ModeConfig) error {
	if err := config.validate(); err != nil {
		return err
	}
	if config.VUs <= 0 {
		return ErrInvalidVUs
	}
	if config.Duration <= 0 {
		return ErrInvalidDuration
	}
	if m.GetState().Running {
		return ErrModeAlreadyRunning
	}

	pool := newVUPool(ctx, config, 0)
	m.attach(pool)
	pool.recordMax(config.VUs)

	finish := m.begin(config.VUs)
	defer finish()

	pool.log.Info("constant-vus 开始", zap.Int("vus", config.VUs), zap.Duration("duration", config.Duration))
	m.setPhase(Phase{Kind: PhaseSteady, Stage: 0})
	pool.scale(config.VUs)

	timer := time.NewTimer(config.Duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		pool.log.Info("constant-vus 被取消，开始排空")
	case <-m.stopCh:
		pool.log.Info("constant-vus 收到停止请求，开始排空")
	case <-timer.C:
	}

	m.drain(pool, config.gracefulStop())
	return nil
}
