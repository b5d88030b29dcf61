package metrics

// 内置指标名称，与 k6 保持一致，阈值配置直接引用这些名字
const (
	HTTPReqsName          = "http_reqs"
	HTTPReqDurationName   = "http_req_duration"
	HTTPReqFailedName     = "http_req_failed"
	DataSentName          = "data_sent"
	DataReceivedName      = "data_received"
	ChecksName            = "checks"
	IterationsName        = "iterations"
	IterationDurationName = "iteration_duration"
	IterationErrorsName   = "iteration_errors"
	ErrorsName            = "errors"
	VUsName               = "vus"
	VUsMaxName            = "vus_max"
)

// BuiltinMetrics 持有一次运行中所有内置指标的引用
type BuiltinMetrics struct {
	HTTPReqs          *Metric
	HTTPReqDuration   *Metric
	HTTPReqFailed     *Metric
	DataSent          *Metric
	DataReceived      *Metric
	Checks            *Metric
	Iterations        *Metric
	IterationDuration *Metric
	IterationErrors   *Metric
	// Errors 是场景检查失败时累计的错误率
	Errors *Metric
	VUs    *Metric
	VUsMax *Metric
}

// RegisterBuiltinMetrics 在注册表中创建全部内置指标
func RegisterBuiltinMetrics(r *Registry) *BuiltinMetrics {
	return &BuiltinMetrics{
		HTTPReqs:          r.MustNewMetric(HTTPReqsName, Counter, Default),
		HTTPReqDuration:   r.MustNewMetric(HTTPReqDurationName, Trend, Time),
		HTTPReqFailed:     r.MustNewMetric(HTTPReqFailedName, Rate, Default),
		DataSent:          r.MustNewMetric(DataSentName, Counter, Data),
		DataReceived:      r.MustNewMetric(DataReceivedName, Counter, Data),
		Checks:            r.MustNewMetric(ChecksName, Rate, Default),
		Iterations:        r.MustNewMetric(IterationsName, Counter, Default),
		IterationDuration: r.MustNewMetric(IterationDurationName, Trend, Time),
		IterationErrors:   r.MustNewMetric(IterationErrorsName, Counter, Default),
		Errors:            r.MustNewMetric(ErrorsName, Rate, Default),
		VUs:               r.MustNewMetric(VUsName, Gauge, Default),
		VUsMax:            r.MustNewMetric(VUsMaxName, Gauge, Default),
	}
}
