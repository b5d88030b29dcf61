package output

import (
	"context"
	"net/http"
	"sort"
	"sync"

	"go.uber.org/zap"

	"yqhp/load-harness/pkg/metrics"
)

// Output 定义输出插件接口
type Output interface {
	// Description 返回输出插件的描述
	Description() string

	// Start 启动输出插件
	Start() error

	// Stop 停止输出插件
	Stop() error

	// AddMetricSamples 添加指标样本
	AddMetricSamples(samples []metrics.SampleContainer)

	// SetRunStatus 设置运行状态（用于最终汇总）
	SetRunStatus(status RunStatus)
}

// WithHandler is implemented by outputs that serve their data over HTTP,
// such as the prometheus exposition endpoint.
type WithHandler interface {
	Handler() http.Handler
}

// RunStatus 表示测试运行状态
type RunStatus struct {
	Duration   float64 // 运行时长（秒）
	Iterations int64   // 总迭代次数
	VUs        int     // 峰值 VU 数量
	Status     string  // 状态：completed, failed, aborted
	Error      error   // 错误信息
}

// 运行状态
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusAborted   = "aborted"
)

// Params 是创建 Output 时的参数
type Params struct {
	// OutputType 输出类型
	OutputType string

	// ConfigArgument 配置参数（如文件路径）
	ConfigArgument string

	// Logger 日志记录器
	Logger *zap.Logger

	// RunID 运行 ID
	RunID string

	// Scenario 场景名称
	Scenario string

	// Tags 全局标签
	Tags map[string]string
}

// Log returns the params logger tagged with the output type, or a no-op
// logger.
func (p Params) Log() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger.With(zap.String("output", p.OutputType))
}

// Factory 是创建 Output 的工厂函数类型
type Factory func(params Params) (Output, error)

var (
	registryMu sync.RWMutex
	// registry 存储已注册的输出工厂
	registry = make(map[string]Factory)
)

// Register 注册输出工厂
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Get 获取输出工厂
func Get(name string) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[name]
	return f, ok
}

// List 按字母序列出所有已注册的输出类型
func List() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create 创建输出实例
func Create(ctx context.Context, outputType string, params Params) (Output, error) {
	factory, ok := Get(outputType)
	if !ok {
		return nil, &UnknownOutputError{Type: outputType}
	}
	params.OutputType = outputType
	return factory(params)
}

// UnknownOutputError 未知输出类型错误
type UnknownOutputError struct {
	Type string
}

func (e *UnknownOutputError) Error() string {
	return "未知的输出类型: " + e.Type
}
