package json

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"yqhp/load-harness/pkg/metrics"
	"yqhp/load-harness/pkg/output"
)

func init() {
	output.Register("json", New)
}

const flushInterval = time.Second

// envelope is one NDJSON line; the layout matches k6's json output so
// existing tooling can read it.
type envelope struct {
	Type   string      `json:"type"`
	Metric string      `json:"metric"`
	Data   interface{} `json:"data"`
}

type pointData struct {
	Time  time.Time         `json:"time"`
	Value float64           `json:"value"`
	Tags  map[string]string `json:"tags,omitempty"`
}

type metricData struct {
	Type     metrics.MetricType `json:"type"`
	Contains metrics.ValueType  `json:"contains"`
}

// Output JSON 文件输出（每行一个对象）
type Output struct {
	output.SampleBuffer

	params  output.Params
	log     *zap.Logger
	path    string
	out     io.Writer
	closer  io.Closer
	writer  *bufio.Writer
	encoder *json.Encoder
	flusher *output.PeriodicFlusher
	seen    map[string]bool

	mu        sync.Mutex
	runStatus output.RunStatus
}

// New 创建 JSON 输出
func New(params output.Params) (output.Output, error) {
	path := params.ConfigArgument
	if path == "" {
		path = fmt.Sprintf("metrics_%s.json", time.Now().Format("20060102_150405"))
	}
	return &Output{
		params: params,
		log:    params.Log(),
		path:   path,
		seen:   make(map[string]bool),
	}, nil
}

// Description 返回描述
func (o *Output) Description() string {
	return fmt.Sprintf("json (%s)", o.path)
}

// Start 打开文件并开始周期性写入。参数为 "-" 时写到标准输出。
func (o *Output) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.path == "-" {
		o.out = os.Stdout
	} else {
		file, err := os.Create(o.path)
		if err != nil {
			return fmt.Errorf("创建 JSON 文件失败: %w", err)
		}
		o.out, o.closer = file, file
	}

	o.writer = bufio.NewWriter(o.out)
	o.encoder = json.NewEncoder(o.writer)
	o.encoder.SetEscapeHTML(false)
	o.flusher = output.NewPeriodicFlusher(flushInterval, o.flush)
	return nil
}

// Stop 写出剩余样本并关闭文件
func (o *Output) Stop() error {
	if o.flusher != nil {
		o.flusher.Stop()
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.writer == nil {
		return nil
	}
	if err := o.writer.Flush(); err != nil {
		return err
	}
	if o.closer != nil {
		return o.closer.Close()
	}
	return nil
}

func (o *Output) flush() {
	containers := o.GetBufferedSamples()
	if len(containers) == 0 {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	for _, container := range containers {
		for _, sample := range container.GetSamples() {
			if sample.Metric == nil {
				continue
			}
			if !o.seen[sample.Metric.Name] {
				o.seen[sample.Metric.Name] = true
				o.write(envelope{
					Type:   "Metric",
					Metric: sample.Metric.Name,
					Data:   metricData{Type: sample.Metric.Type, Contains: sample.Metric.Contains},
				})
			}
			o.write(envelope{
				Type:   "Point",
				Metric: sample.Metric.Name,
				Data:   pointData{Time: sample.Time, Value: sample.Value, Tags: sample.Tags},
			})
		}
	}
	if err := o.writer.Flush(); err != nil {
		o.log.Error("写入 JSON 失败", zap.Error(err))
	}
}

func (o *Output) write(e envelope) {
	if err := o.encoder.Encode(e); err != nil {
		o.log.Error("写入 JSON 失败", zap.Error(err))
	}
}

// SetRunStatus 设置运行状态
func (o *Output) SetRunStatus(status output.RunStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runStatus = status
}
