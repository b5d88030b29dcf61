// Package prometheus mirrors run samples into a private Prometheus registry
// and serves it in the exposition format.
package prometheus

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"yqhp/load-harness/pkg/metrics"
	"yqhp/load-harness/pkg/output"
)

func init() {
	output.Register("prometheus", New)
}

const defaultNamespace = "load_harness"

// labelsFor 返回每个指标固定的标签集合，样本上的其他标签被忽略
func labelsFor(metric string) []string {
	switch metric {
	case metrics.HTTPReqsName, metrics.HTTPReqDurationName, metrics.HTTPReqFailedName:
		return []string{"method", "name", "status"}
	case metrics.ChecksName:
		return []string{"check"}
	}
	return nil
}

// collector is the prometheus vec backing one harness metric.
type collector struct {
	labels  []string
	counter *prometheus.CounterVec
	gauge   *prometheus.GaugeVec
	hist    *prometheus.HistogramVec
	divisor float64
}

// Output 是 prometheus 输出
type Output struct {
	params    output.Params
	log       *zap.Logger
	namespace string
	registry  *prometheus.Registry
	constTags prometheus.Labels

	mu         sync.Mutex
	collectors map[string]*collector
	runStatus  output.RunStatus
	passed     prometheus.Gauge
}

// New 创建 prometheus 输出。参数形如 "namespace=foo"，可省略。
func New(params output.Params) (output.Output, error) {
	ns := defaultNamespace
	if params.ConfigArgument != "" {
		q, err := url.ParseQuery(params.ConfigArgument)
		if err != nil {
			return nil, fmt.Errorf("解析 prometheus 参数失败: %w", err)
		}
		if v := q.Get("namespace"); v != "" {
			ns = v
		}
	}

	constTags := prometheus.Labels{}
	for k, v := range params.Tags {
		constTags[sanitize(k)] = v
	}
	if params.Scenario != "" {
		constTags["scenario"] = params.Scenario
	}

	o := &Output{
		params:     params,
		log:        params.Log(),
		namespace:  sanitize(ns),
		registry:   prometheus.NewRegistry(),
		constTags:  constTags,
		collectors: make(map[string]*collector),
	}
	o.passed = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   o.namespace,
		Name:        "run_passed",
		Help:        "1 when the run completed and passed, 0 when it failed or was aborted, -1 while running",
		ConstLabels: constTags,
	})
	o.passed.Set(-1)
	o.registry.MustRegister(o.passed)
	return o, nil
}

// Description 返回描述
func (o *Output) Description() string {
	return fmt.Sprintf("prometheus (%s)", o.namespace)
}

// Start 启动输出
func (o *Output) Start() error { return nil }

// Stop 停止输出
func (o *Output) Stop() error { return nil }

// Handler serves the registry in the Prometheus exposition format.
func (o *Output) Handler() http.Handler {
	return promhttp.HandlerFor(o.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the private registry, mainly for tests.
func (o *Output) Gatherer() prometheus.Gatherer {
	return o.registry
}

// AddMetricSamples 将样本写入对应的 prometheus 指标
func (o *Output) AddMetricSamples(containers []metrics.SampleContainer) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, container := range containers {
		for _, sample := range container.GetSamples() {
			if sample.Metric == nil {
				continue
			}
			c, err := o.collectorFor(sample.Metric)
			if err != nil {
				o.log.Warn("注册 prometheus 指标失败", zap.String("metric", sample.Metric.Name), zap.Error(err))
				continue
			}
			o.observe(c, sample)
		}
	}
}

func (o *Output) observe(c *collector, s metrics.Sample) {
	values := make([]string, len(c.labels))
	for i, l := range c.labels {
		values[i] = s.Tags[l]
	}

	switch s.Metric.Type {
	case metrics.Counter:
		if s.Value >= 0 {
			c.counter.WithLabelValues(values...).Add(s.Value)
		}
	case metrics.Rate:
		result := "false"
		if s.Value != 0 {
			result = "true"
		}
		c.counter.WithLabelValues(append(values, result)...).Inc()
	case metrics.Gauge:
		c.gauge.WithLabelValues(values...).Set(s.Value)
	case metrics.Trend:
		c.hist.WithLabelValues(values...).Observe(s.Value / c.divisor)
	}
}

func (o *Output) collectorFor(m *metrics.Metric) (*collector, error) {
	if c, ok := o.collectors[m.Name]; ok {
		return c, nil
	}

	name := sanitize(m.Name)
	c := &collector{labels: labelsFor(m.Name), divisor: 1}
	help := fmt.Sprintf("%s %s metric", m.Name, m.Type)

	var col prometheus.Collector
	switch m.Type {
	case metrics.Counter:
		if m.Contains == metrics.Data {
			name += "_bytes"
		}
		c.counter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: o.namespace, Name: name + "_total", Help: help, ConstLabels: o.constTags,
		}, c.labels)
		col = c.counter
	case metrics.Rate:
		c.counter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: o.namespace, Name: name + "_total", Help: help + " (result=true counts toward the rate)", ConstLabels: o.constTags,
		}, append(append([]string(nil), c.labels...), "result"))
		col = c.counter
	case metrics.Gauge:
		c.gauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: o.namespace, Name: name, Help: help, ConstLabels: o.constTags,
		}, c.labels)
		col = c.gauge
	case metrics.Trend:
		buckets := prometheus.DefBuckets
		if m.Contains == metrics.Time {
			// 毫秒样本以秒为单位暴露
			name += "_seconds"
			c.divisor = 1000
		} else {
			buckets = prometheus.ExponentialBuckets(1, 4, 10)
		}
		c.hist = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: o.namespace, Name: name, Help: help, Buckets: buckets, ConstLabels: o.constTags,
		}, c.labels)
		col = c.hist
	default:
		return nil, fmt.Errorf("unsupported metric type %q", m.Type)
	}

	if err := o.registry.Register(col); err != nil {
		return nil, err
	}
	o.collectors[m.Name] = c
	return c, nil
}

// SetRunStatus 设置运行状态
func (o *Output) SetRunStatus(status output.RunStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runStatus = status
	if status.Status == output.StatusCompleted {
		o.passed.Set(1)
	} else {
		o.passed.Set(0)
	}
}

// sanitize maps a harness metric or tag name onto the prometheus charset.
func sanitize(s string) string {
	var b strings.Builder
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			// 名称不能以数字开头，补一个前缀保留原数字
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
