package execution

import (
	"context"
	"time"

	"go.uber.org/zap"

	"yqhp/load-harness/pkg/types"
)

// RampingVUsMode implements the ramping-vus execution mode.
// It adjusts VU count according to defined stages. Ramp-down retires VUs at
// their next iteration boundary instead of cancelling them.
type RampingVUsMode struct {
	*BaseMode
}

// NewRampingVUsMode creates a new ramping VUs mode.
func NewRampingVUsMode() *RampingVUsMode {
	return &RampingVUsMode{
		BaseMode: NewBaseMode(types.ModeRampingVUs),
	}
}

// Run drives the VU count along config.Stages, re-evaluating the target
// every tick, then drains.
func (m *RampingVUsMode) Run(ctx context.Context, config *ModeConfig) error {
	if err := config.validate(); err != nil {
		return err
	}
	if err := ValidateStages(config.Stages); err != nil {
		return err
	}
	if m.GetState().Running {
		return ErrModeAlreadyRunning
	}

	pool := newVUPool(ctx, config, 0)
	m.attach(pool)
	pool.recordMax(types.MaxTarget(config.Stages))

	finish := m.begin(0)
	defer finish()

	start := time.Now()
	total := types.StagesDuration(config.Stages)
	pool.log.Info("ramping-vus 开始",
		zap.Int("stages", len(config.Stages)),
		zap.Int("max_vus", types.MaxTarget(config.Stages)),
		zap.Duration("duration", total))

	m.adjust(pool, config.Stages, 0)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			pool.log.Info("ramping-vus 被取消，开始排空")
			break loop
		case <-m.stopCh:
			pool.log.Info("ramping-vus 收到停止请求，开始排空")
			break loop
		case <-ticker.C:
			elapsed := time.Since(start)
			if elapsed >= total {
				m.adjust(pool, config.Stages, total)
				break loop
			}
			m.adjust(pool, config.Stages, elapsed)
		}
	}

	m.drain(pool, config.gracefulStop())
	return nil
}

func (m *RampingVUsMode) adjust(pool *vuPool, stages []types.Stage, elapsed time.Duration) {
	target := DesiredVUs(stages, elapsed)
	pool.scale(target)
	phase := PhaseAt(stages, elapsed)
	m.SetState(func(s *ModeState) {
		s.TargetVUs = target
		if elapsed < types.StagesDuration(stages) {
			s.Phase = phase
		}
	})
}
