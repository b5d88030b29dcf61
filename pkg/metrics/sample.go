package metrics

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MetricType 定义指标类型
type MetricType string

const (
	// Counter 计数器类型，只增不减
	Counter MetricType = "counter"
	// Gauge 仪表盘类型，保留最新值
	Gauge MetricType = "gauge"
	// Rate 比率类型，统计非零样本占比
	Rate MetricType = "rate"
	// Trend 趋势类型，保留全部样本用于百分位计算
	Trend MetricType = "trend"
)

// ParseMetricType 把配置中的字符串转换为 MetricType
func ParseMetricType(s string) (MetricType, error) {
	switch MetricType(s) {
	case Counter, Gauge, Rate, Trend:
		return MetricType(s), nil
	}
	return "", fmt.Errorf("unknown metric type %q", s)
}

// ValueType 定义值的类型
type ValueType string

const (
	// Default 默认值类型
	Default ValueType = "default"
	// Time 时间类型（毫秒）
	Time ValueType = "time"
	// Data 数据量类型（字节）
	Data ValueType = "data"
)

// ErrMetricTypeMismatch 同名指标以不同类型重复注册
var ErrMetricTypeMismatch = errors.New("metric already registered with a different type")

// Metric 定义一个指标
type Metric struct {
	Name     string     `json:"name"`
	Type     MetricType `json:"type"`
	Contains ValueType  `json:"contains,omitempty"`
	Sink     Sink       `json:"-"`
}

// Sample 表示单个指标样本
type Sample struct {
	Metric *Metric           `json:"-"`
	Time   time.Time         `json:"time"`
	Value  float64           `json:"value"`
	Tags   map[string]string `json:"tags,omitempty"`
}

// SampleContainer 是可以返回多个样本的接口
type SampleContainer interface {
	GetSamples() []Sample
}

// Samples 是 Sample 切片，实现 SampleContainer 接口
type Samples []Sample

// GetSamples 返回样本切片
func (s Samples) GetSamples() []Sample {
	return s
}

// Registry 管理所有已注册的指标
type Registry struct {
	metrics map[string]*Metric
	mu      sync.RWMutex
}

// NewRegistry 创建新的指标注册表
func NewRegistry() *Registry {
	return &Registry{
		metrics: make(map[string]*Metric),
	}
}

// NewMetric 创建并注册新指标；同名同类型时返回已有指标
func (r *Registry) NewMetric(name string, metricType MetricType, contains ValueType) (*Metric, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.metrics[name]; ok {
		if m.Type != metricType {
			return nil, fmt.Errorf("%w: %s is %s, not %s", ErrMetricTypeMismatch, name, m.Type, metricType)
		}
		return m, nil
	}

	if contains == "" {
		contains = Default
	}
	m := &Metric{
		Name:     name,
		Type:     metricType,
		Contains: contains,
		Sink:     NewSink(metricType),
	}
	r.metrics[name] = m
	return m, nil
}

// MustNewMetric 与 NewMetric 相同，类型冲突时 panic，仅用于内置指标
func (r *Registry) MustNewMetric(name string, metricType MetricType, contains ValueType) *Metric {
	m, err := r.NewMetric(name, metricType, contains)
	if err != nil {
		panic(err)
	}
	return m
}

// Get 获取已注册的指标
func (r *Registry) Get(name string) *Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metrics[name]
}

// Names 按字母序返回所有指标名
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.metrics))
	for name := range r.metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All 返回所有已注册的指标
func (r *Registry) All() map[string]*Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*Metric, len(r.metrics))
	for k, v := range r.metrics {
		result[k] = v
	}
	return result
}
