// Package engine contains the metrics aggregator that collects samples and
// check results from every virtual user and evaluates thresholds at the end
// of a run. Design inspired by k6's internal/metrics/engine.
package engine

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"yqhp/load-harness/pkg/logger"
	"yqhp/load-harness/pkg/metrics"
	"yqhp/load-harness/pkg/types"
)

// MetricsEngine aggregates metric samples and check results. Every recording
// method is safe for concurrent use by any number of workers.
type MetricsEngine struct {
	registry *metrics.Registry
	Builtin  *metrics.BuiltinMetrics

	thresholds []*thresholdMetric

	// out, when set, receives every sample container after aggregation.
	outMu sync.RWMutex
	out   chan<- metrics.SampleContainer

	checksMu     sync.Mutex
	checkOrder   []string
	checkStats   map[string]*CheckStat
	checkResults []types.CheckResult

	live         *liveWindow
	snapshotMu   sync.Mutex
	snapshotStop chan struct{}
	snapshotDone chan struct{}
	timeSeries   []Snapshot

	startTime time.Time
}

type thresholdMetric struct {
	metric    *metrics.Metric
	threshold *Threshold
}

// CheckStat holds the per-check pass/fail counters.
type CheckStat struct {
	Name   string `json:"name"`
	Passes int64  `json:"passes"`
	Fails  int64  `json:"fails"`
}

// NewMetricsEngine creates a new MetricsEngine with the given registry and
// registers the built-in metrics in it.
func NewMetricsEngine(registry *metrics.Registry) *MetricsEngine {
	if registry == nil {
		registry = metrics.NewRegistry()
	}
	return &MetricsEngine{
		registry:   registry,
		Builtin:    metrics.RegisterBuiltinMetrics(registry),
		checkStats: make(map[string]*CheckStat),
		live:       newLiveWindow(),
		startTime:  time.Now(),
	}
}

// Registry returns the metric registry backing this engine.
func (me *MetricsEngine) Registry() *metrics.Registry {
	return me.registry
}

// SetOutput forwards every recorded sample container to ch. It must be called
// before any worker starts recording.
func (me *MetricsEngine) SetOutput(ch chan<- metrics.SampleContainer) {
	me.outMu.Lock()
	me.out = ch
	me.outMu.Unlock()
}

// CloseOutput detaches and closes the channel set by SetOutput. Samples
// recorded afterwards are only aggregated.
func (me *MetricsEngine) CloseOutput() {
	me.outMu.Lock()
	defer me.outMu.Unlock()
	if me.out != nil {
		close(me.out)
		me.out = nil
	}
}

// MarkStart resets the clock used for rates and snapshots.
func (me *MetricsEngine) MarkStart(t time.Time) {
	me.startTime = t
}

// AddSamples aggregates the given sample containers into their metric sinks.
func (me *MetricsEngine) AddSamples(containers ...metrics.SampleContainer) {
	for _, c := range containers {
		for _, s := range c.GetSamples() {
			if s.Metric == nil {
				continue
			}
			s.Metric.Sink.Add(s)
			me.live.observe(s)
		}
		me.outMu.RLock()
		if me.out != nil {
			me.out <- c
		}
		me.outMu.RUnlock()
	}
}

// RecordCheck stores a check result, bumps its per-check counters and adds a
// sample to the "checks" rate metric.
func (me *MetricsEngine) RecordCheck(result types.CheckResult) {
	me.checksMu.Lock()
	st, ok := me.checkStats[result.Name]
	if !ok {
		st = &CheckStat{Name: result.Name}
		me.checkStats[result.Name] = st
		me.checkOrder = append(me.checkOrder, result.Name)
	}
	if result.Passed {
		st.Passes++
	} else {
		st.Fails++
	}
	me.checkResults = append(me.checkResults, result)
	me.checksMu.Unlock()

	v := 0.0
	if result.Passed {
		v = 1
	}
	me.AddSamples(metrics.Samples{{
		Metric: me.Builtin.Checks,
		Time:   result.Timestamp,
		Value:  v,
		Tags:   map[string]string{"check": result.Name},
	}})
}

// Checks returns per-check counters in first-seen order.
func (me *MetricsEngine) Checks() []CheckStat {
	me.checksMu.Lock()
	defer me.checksMu.Unlock()
	out := make([]CheckStat, 0, len(me.checkOrder))
	for _, name := range me.checkOrder {
		out = append(out, *me.checkStats[name])
	}
	return out
}

// CheckResults returns a copy of every recorded check result.
func (me *MetricsEngine) CheckResults() []types.CheckResult {
	me.checksMu.Lock()
	defer me.checksMu.Unlock()
	out := make([]types.CheckResult, len(me.checkResults))
	copy(out, me.checkResults)
	return out
}

// InitThresholds parses and binds threshold definitions. Any unknown metric,
// malformed expression or aggregation key the metric type cannot produce is
// reported; nothing is bound unless every threshold is valid.
func (me *MetricsEngine) InitThresholds(thresholds []types.Threshold) error {
	bound := make([]*thresholdMetric, 0, len(thresholds))
	for _, th := range thresholds {
		m := me.registry.Get(th.Metric)
		if m == nil {
			return fmt.Errorf("%w: metric %q is not defined", ErrInvalidThreshold, th.Metric)
		}
		parsed, err := ParseThreshold(th.Condition)
		if err != nil {
			return fmt.Errorf("metric %q: %w", th.Metric, err)
		}
		if !parsed.SupportsType(m.Type) {
			return fmt.Errorf("%w: %q cannot be computed for %s metric %q",
				ErrInvalidThreshold, parsed.Key, m.Type, m.Name)
		}
		bound = append(bound, &thresholdMetric{metric: m, threshold: parsed})
	}
	me.thresholds = bound
	return nil
}

// EvaluateThresholds evaluates every bound threshold. Metrics that never
// received a sample are reported as Missing and do not fail the run.
func (me *MetricsEngine) EvaluateThresholds(duration time.Duration) []types.ThresholdResult {
	secs := duration.Seconds()
	results := make([]types.ThresholdResult, 0, len(me.thresholds))
	for _, tm := range me.thresholds {
		res := types.ThresholdResult{
			Metric:    tm.metric.Name,
			Condition: tm.threshold.Source,
			Passed:    true,
		}
		if tm.metric.Sink.IsEmpty() {
			res.Missing = true
			logger.Debug("阈值指标没有样本", zap.String("metric", tm.metric.Name))
		} else {
			res.Value = tm.threshold.Observe(tm.metric, secs)
			res.Passed = tm.threshold.Compare(res.Value)
		}
		results = append(results, res)
	}
	return results
}

// GetAggregatedStats returns Format() output for every metric that has samples.
func (me *MetricsEngine) GetAggregatedStats(duration time.Duration) map[string]map[string]float64 {
	secs := duration.Seconds()
	out := make(map[string]map[string]float64)
	for name, m := range me.registry.All() {
		if m.Sink.IsEmpty() {
			continue
		}
		out[name] = m.Sink.Format(secs)
	}
	return out
}

// Finalize builds the end-of-run report.
func (me *MetricsEngine) Finalize(duration time.Duration) *Report {
	me.StopSnapshots()

	report := &Report{
		Duration:   duration,
		Metrics:    make(map[string]MetricReport),
		Checks:     me.Checks(),
		Thresholds: me.EvaluateThresholds(duration),
		Passed:     true,
	}

	secs := duration.Seconds()
	for _, name := range me.registry.Names() {
		m := me.registry.Get(name)
		if m.Sink.IsEmpty() {
			continue
		}
		report.Metrics[name] = MetricReport{
			Type:     m.Type,
			Contains: m.Contains,
			Values:   m.Sink.Format(secs),
		}
	}

	for _, th := range report.Thresholds {
		if !th.Passed {
			report.Passed = false
		}
	}
	sort.SliceStable(report.Thresholds, func(i, j int) bool {
		return report.Thresholds[i].Metric < report.Thresholds[j].Metric
	})
	return report
}
