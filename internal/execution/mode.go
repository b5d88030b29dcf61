package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"yqhp/load-harness/pkg/metrics"
	"yqhp/load-harness/pkg/types"
)

// DefaultGracefulStop bounds how long in-flight iterations may run after a
// stop was requested.
const DefaultGracefulStop = 30 * time.Second

// tickInterval 是调度器调整 VU 数量的周期
const tickInterval = 50 * time.Millisecond

// Mode 定义执行模式的接口。
// 每种模式控制 VU 的管理方式和迭代的执行方式。
type Mode interface {
	// Name 返回执行模式的名称。
	Name() types.ExecutionMode

	// Run 使用给定配置启动执行模式。
	// 阻塞直到执行完成或上下文被取消后排空。
	Run(ctx context.Context, config *ModeConfig) error

	// Stop 请求排空并等待执行结束。
	Stop(ctx context.Context) error

	// GetState 返回当前执行状态。
	GetState() *ModeState
}

// Recorder receives scheduler samples (iterations, vus, ...).
type Recorder interface {
	AddSamples(containers ...metrics.SampleContainer)
}

// ModeConfig 包含执行模式的配置。
type ModeConfig struct {
	// VUs 是虚拟用户数量（constant-vus / per-vu-iterations）。
	VUs int

	// Duration 是 constant-vus 的总时长；per-vu-iterations 的最长时长。
	Duration time.Duration

	// Iterations 是每个 VU 的迭代次数（per-vu-iterations）。
	Iterations int

	// Stages 定义执行阶段（ramping-vus）。
	Stages []types.Stage

	// IterationDelay 是每次迭代结束后的等待时间。
	IterationDelay time.Duration

	// GracefulStop 是停止后等待进行中迭代的最长时长，超时后取消迭代上下文。
	GracefulStop time.Duration

	// IterationFunc 是每次迭代执行的函数。
	IterationFunc IterationFunc

	// Recorder and Metrics receive iterations, iteration_duration,
	// iteration_errors, vus and vus_max samples. Both optional.
	Recorder Recorder
	Metrics  *metrics.BuiltinMetrics

	Logger *zap.Logger

	// OnVUStart 在 VU 启动时调用。
	OnVUStart func(vuID int)

	// OnVUStop 在 VU 退出时调用。
	OnVUStop func(vuID int)

	// OnIterationComplete 在迭代完成时调用。
	OnIterationComplete func(vuID int, iteration int64, duration time.Duration, err error)
}

func (c *ModeConfig) gracefulStop() time.Duration {
	if c.GracefulStop > 0 {
		return c.GracefulStop
	}
	return DefaultGracefulStop
}

func (c *ModeConfig) validate() error {
	if c == nil {
		return ErrNilConfig
	}
	if c.IterationFunc == nil {
		return ErrNilIterationFunc
	}
	return nil
}

// IterationFunc 是执行单次迭代的函数签名。
type IterationFunc func(ctx context.Context, vuID int, iteration int64) error

// PhaseKind is the coarse scheduler phase.
type PhaseKind string

const (
	PhaseIdle      PhaseKind = "idle"
	PhaseRamping   PhaseKind = "ramping"
	PhaseSteady    PhaseKind = "steady"
	PhaseDraining  PhaseKind = "draining"
	PhaseCompleted PhaseKind = "completed"
)

// Phase is the scheduler phase; Stage is the stage index for Ramping and
// Steady and -1 otherwise.
type Phase struct {
	Kind  PhaseKind `json:"kind"`
	Stage int       `json:"stage"`
}

func (p Phase) String() string {
	if p.Kind == PhaseRamping || p.Kind == PhaseSteady {
		return fmt.Sprintf("%s(%d)", p.Kind, p.Stage)
	}
	return string(p.Kind)
}

func phaseOf(kind PhaseKind) Phase {
	return Phase{Kind: kind, Stage: -1}
}

// ModeState 表示执行模式的当前状态。
type ModeState struct {
	// ActiveVUs 是当前运行中的 VU 数量（包括等待在迭代边界退出的 VU）。
	ActiveVUs int

	// TargetVUs 是调度器当前期望的 VU 数量。
	TargetVUs int

	// PeakVUs 是观察到的最大并发 VU 数量。
	PeakVUs int

	// CompletedIterations 是已完成的迭代次数。
	CompletedIterations int64

	Phase Phase

	// Running 表示模式是否正在运行。
	Running bool

	// StartTime 是执行开始时间。
	StartTime time.Time

	// ElapsedTime 是已执行时长。
	ElapsedTime time.Duration
}

// BaseMode 为执行模式提供通用功能。
type BaseMode struct {
	name    types.ExecutionMode
	state   ModeState
	stateMu sync.RWMutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	stopMu  sync.Mutex
	pool    *vuPool
}

// NewBaseMode 创建一个新的基础模式。
func NewBaseMode(name types.ExecutionMode) *BaseMode {
	return &BaseMode{
		name:   name,
		state:  ModeState{Phase: phaseOf(PhaseIdle)},
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Name 返回模式名称。
func (b *BaseMode) Name() types.ExecutionMode {
	return b.name
}

// GetState 返回当前状态的副本。
func (b *BaseMode) GetState() *ModeState {
	b.stateMu.RLock()
	state := b.state
	b.stateMu.RUnlock()

	b.stopMu.Lock()
	pool := b.pool
	b.stopMu.Unlock()
	if pool != nil {
		state.ActiveVUs = pool.running()
		state.PeakVUs = pool.peak()
		state.CompletedIterations = pool.iterationCount()
	}
	if state.Running {
		state.ElapsedTime = time.Since(state.StartTime)
	}
	return &state
}

// SetState 更新状态。
func (b *BaseMode) SetState(fn func(*ModeState)) {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	fn(&b.state)
}

func (b *BaseMode) setPhase(p Phase) {
	b.SetState(func(s *ModeState) { s.Phase = p })
}

func (b *BaseMode) attach(p *vuPool) {
	b.stopMu.Lock()
	b.pool = p
	b.stopMu.Unlock()
}

// begin marks the mode running; the returned func marks it finished.
func (b *BaseMode) begin(target int) (finish func()) {
	b.SetState(func(s *ModeState) {
		s.Running = true
		s.TargetVUs = target
		s.StartTime = time.Now()
	})
	return func() {
		b.SetState(func(s *ModeState) {
			s.Running = false
			s.ElapsedTime = time.Since(s.StartTime)
			s.Phase = phaseOf(PhaseCompleted)
		})
		b.SignalDone()
	}
}

// IsStopped 如果已请求停止则返回 true。
func (b *BaseMode) IsStopped() bool {
	select {
	case <-b.stopCh:
		return true
	default:
		return false
	}
}

// RequestStop 发送停止信号。
func (b *BaseMode) RequestStop() {
	b.stopMu.Lock()
	defer b.stopMu.Unlock()
	select {
	case <-b.stopCh:
		// 已停止
	default:
		close(b.stopCh)
	}
}

// SignalDone 发送完成信号。
func (b *BaseMode) SignalDone() {
	select {
	case <-b.doneCh:
		// 已完成
	default:
		close(b.doneCh)
	}
}

// WaitDone 等待模式完成。
func (b *BaseMode) WaitDone(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.doneCh:
		return nil
	}
}

// Stop 请求停止并等待排空完成。未运行时直接返回。
func (b *BaseMode) Stop(ctx context.Context) error {
	b.RequestStop()
	if !b.GetState().Running {
		return nil
	}
	return b.WaitDone(ctx)
}

// drain moves to Draining and waits for the pool to empty, bounded by the
// graceful stop period.
func (b *BaseMode) drain(p *vuPool, grace time.Duration) {
	b.setPhase(phaseOf(PhaseDraining))
	p.drain(grace)
}
