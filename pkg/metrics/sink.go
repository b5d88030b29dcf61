package metrics

import (
	"math"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Sink 定义指标聚合器接口
type Sink interface {
	// Add 添加一个样本值
	Add(sample Sample)
	// Format 返回格式化的统计结果，duration 为运行时长（秒）
	Format(duration float64) map[string]float64
	// IsEmpty 检查是否为空
	IsEmpty() bool
}

// NewSink 根据指标类型创建对应的 Sink
func NewSink(metricType MetricType) Sink {
	switch metricType {
	case Gauge:
		return &GaugeSink{}
	case Rate:
		return &RateSink{}
	case Trend:
		return &TrendSink{}
	default:
		return &CounterSink{}
	}
}

// CounterSink 计数器聚合器
type CounterSink struct {
	mu    sync.Mutex
	value float64
	first time.Time
	n     int64
}

// Add 添加样本
func (c *CounterSink) Add(sample Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value += sample.Value
	c.n++
	if c.first.IsZero() {
		c.first = sample.Time
	}
}

// Value 返回累计值
func (c *CounterSink) Value() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Format 返回 count 与每秒速率
func (c *CounterSink) Format(duration float64) map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := map[string]float64{
		"count": c.value,
		"rate":  0,
	}
	if duration > 0 {
		result["rate"] = c.value / duration
	}
	return result
}

// IsEmpty 检查是否为空
func (c *CounterSink) IsEmpty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n == 0
}

// GaugeSink 仪表盘聚合器
type GaugeSink struct {
	mu     sync.Mutex
	value  float64
	min    float64
	max    float64
	minSet bool
	n      int64
}

// Add 添加样本
func (g *GaugeSink) Add(sample Sample) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.value = sample.Value
	g.n++
	if !g.minSet || sample.Value < g.min {
		g.min = sample.Value
		g.minSet = true
	}
	if sample.Value > g.max {
		g.max = sample.Value
	}
}

// Value 返回最新值
func (g *GaugeSink) Value() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}

// Format 返回最新值与极值
func (g *GaugeSink) Format(float64) map[string]float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return map[string]float64{
		"value": g.value,
		"min":   g.min,
		"max":   g.max,
	}
}

// IsEmpty 检查是否为空
func (g *GaugeSink) IsEmpty() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n == 0
}

// RateSink 比率聚合器，value != 0 计为 true
type RateSink struct {
	mu    sync.Mutex
	trues int64
	total int64
}

// Add 添加样本
func (r *RateSink) Add(sample Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total++
	if sample.Value != 0 {
		r.trues++
	}
}

// Counts 返回 true 样本数与总样本数
func (r *RateSink) Counts() (trues, total int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.trues, r.total
}

// Format 返回 rate = trues / total
func (r *RateSink) Format(float64) map[string]float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := map[string]float64{
		"passes": float64(r.trues),
		"fails":  float64(r.total - r.trues),
		"rate":   0,
	}
	if r.total > 0 {
		result["rate"] = float64(r.trues) / float64(r.total)
	}
	return result
}

// IsEmpty 检查是否为空
func (r *RateSink) IsEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total == 0
}

// DefaultTrendPercentiles Format 默认输出的百分位
var DefaultTrendPercentiles = []float64{90, 95, 99}

// TrendSink 趋势聚合器，保留全部样本
type TrendSink struct {
	mu     sync.Mutex
	values []float64
	sorted bool
	sum    float64
	min    float64
	max    float64
}

// Add 添加样本
func (t *TrendSink) Add(sample Sample) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v := sample.Value
	if len(t.values) == 0 || v < t.min {
		t.min = v
	}
	if len(t.values) == 0 || v > t.max {
		t.max = v
	}
	t.values = append(t.values, v)
	t.sum += v
	t.sorted = false
}

// Count 返回样本数
func (t *TrendSink) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.values)
}

// Format 返回 count/avg/min/max/med 以及默认百分位
func (t *TrendSink) Format(float64) map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.values)
	result := map[string]float64{
		"count": float64(n),
		"avg":   0,
		"min":   t.min,
		"max":   t.max,
		"med":   0,
	}
	for _, p := range DefaultTrendPercentiles {
		result[PercentileKey(p)] = 0
	}
	if n == 0 {
		return result
	}

	result["avg"] = t.sum / float64(n)
	result["med"] = t.percentileLocked(50)
	for _, p := range DefaultTrendPercentiles {
		result[PercentileKey(p)] = t.percentileLocked(p)
	}
	return result
}

// Percentile 计算指定百分位数（公开方法，会加锁）
func (t *TrendSink) Percentile(p float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.percentileLocked(p)
}

// percentileLocked 在已排序样本上做秩间线性插值：rank = p/100*(n-1)
func (t *TrendSink) percentileLocked(p float64) float64 {
	n := len(t.values)
	if n == 0 {
		return 0
	}
	if !t.sorted {
		sort.Float64s(t.values)
		t.sorted = true
	}
	if p <= 0 {
		return t.values[0]
	}
	if p >= 100 {
		return t.values[n-1]
	}

	rank := p / 100 * float64(n-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return t.values[lower]
	}
	weight := rank - float64(lower)
	return t.values[lower] + (t.values[upper]-t.values[lower])*weight
}

// IsEmpty 检查是否为空
func (t *TrendSink) IsEmpty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.values) == 0
}

// PercentileKey 生成 "p(95)"、"p(99.9)" 形式的键
func PercentileKey(p float64) string {
	return "p(" + strconv.FormatFloat(p, 'f', -1, 64) + ")"
}
