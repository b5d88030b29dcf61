// Package summary renders the end-of-run text summary and tracks failed
// requests per endpoint while the run is in progress.
package summary

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"yqhp/load-harness/internal/metrics/engine"
	"yqhp/load-harness/pkg/metrics"
	"yqhp/load-harness/pkg/output"
)

// Compile-time check.
var _ output.Output = &Output{}

const (
	// maxFailures 摘要中最多列出的失败端点数
	maxFailures   = 20
	flushInterval = 100 * time.Millisecond
)

// Failure counts failed requests for one endpoint and status.
type Failure struct {
	Method string
	Name   string
	Status string
	Count  int64
}

// Output implements output.Output and counts failed requests by endpoint.
// It is always attached by the runner; it is not selectable with --out.
type Output struct {
	output.SampleBuffer

	mu       sync.Mutex
	failures map[string]*Failure
	flusher  *output.PeriodicFlusher
}

// New creates a summary output.
func New() *Output {
	return &Output{failures: make(map[string]*Failure)}
}

func (o *Output) Description() string {
	return "summary"
}

func (o *Output) Start() error {
	o.flusher = output.NewPeriodicFlusher(flushInterval, o.flushSamples)
	return nil
}

func (o *Output) Stop() error {
	if o.flusher != nil {
		o.flusher.Stop()
	}
	return nil
}

func (o *Output) SetRunStatus(_ output.RunStatus) {}

func (o *Output) flushSamples() {
	containers := o.GetBufferedSamples()
	if len(containers) == 0 {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	for _, container := range containers {
		for _, sample := range container.GetSamples() {
			if sample.Metric == nil || sample.Metric.Name != metrics.HTTPReqFailedName || sample.Value == 0 {
				continue
			}
			o.record(sample.Tags)
		}
	}
}

func (o *Output) record(tags map[string]string) {
	key := tags["method"] + " " + tags["name"] + " " + tags["status"]
	if f, ok := o.failures[key]; ok {
		f.Count++
		return
	}
	o.failures[key] = &Failure{
		Method: tags["method"],
		Name:   tags["name"],
		Status: tags["status"],
		Count:  1,
	}
}

// Failures returns the tracked failures, most frequent first.
func (o *Output) Failures() []Failure {
	o.mu.Lock()
	defer o.mu.Unlock()

	list := make([]Failure, 0, len(o.failures))
	for _, f := range o.failures {
		list = append(list, *f)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Count != list[j].Count {
			return list[i].Count > list[j].Count
		}
		return list[i].Name+list[i].Status < list[j].Name+list[j].Status
	})
	return list
}

// valueOrder 每种指标类型在摘要中展示的聚合值及顺序
var valueOrder = map[metrics.MetricType][]string{
	metrics.Counter: {"count", "rate"},
	metrics.Gauge:   {"value", "min", "max"},
	metrics.Rate:    {"rate", "passes", "fails"},
	metrics.Trend:   {"avg", "min", "med", "max", "p(90)", "p(95)", "p(99)"},
}

const nameWidth = 24

// Write renders report as text. failures may be nil.
func Write(w io.Writer, report *engine.Report, failures []Failure) error {
	b := &strings.Builder{}

	fmt.Fprintf(b, "\n  scenario: %s\n", report.Scenario)
	if report.RunID != "" {
		fmt.Fprintf(b, "  run:      %s\n", report.RunID)
	}
	fmt.Fprintf(b, "  duration: %s\n\n", report.Duration.Round(time.Millisecond))

	writeChecks(b, report)
	writeMetrics(b, report)
	writeFailures(b, failures)
	writeThresholds(b, report)

	fmt.Fprintf(b, "  result: %s\n\n", verdict(report))
	_, err := io.WriteString(w, b.String())
	return err
}

func verdict(report *engine.Report) string {
	switch {
	case report.Aborted && report.Passed:
		return "aborted (thresholds passed)"
	case report.Aborted:
		return "aborted (thresholds failed)"
	case report.Passed:
		return "passed"
	default:
		return "failed"
	}
}

func writeChecks(b *strings.Builder, report *engine.Report) {
	if len(report.Checks) == 0 {
		return
	}
	for _, c := range report.Checks {
		mark := "✓"
		if c.Fails > 0 {
			mark = "✗"
		}
		fmt.Fprintf(b, "  %s %s\n", mark, c.Name)
		if c.Fails > 0 {
			total := c.Passes + c.Fails
			fmt.Fprintf(b, "     ↳  %d%%  ✓ %d / ✗ %d\n", c.Passes*100/total, c.Passes, c.Fails)
		}
	}
	passes, fails := report.CheckTotals()
	fmt.Fprintf(b, "\n  %s %s ✓ %d ✗ %d\n\n", pad(metrics.ChecksName), percent(passes, fails), passes, fails)
}

func writeMetrics(b *strings.Builder, report *engine.Report) {
	names := make([]string, 0, len(report.Metrics))
	for name := range report.Metrics {
		if name == metrics.ChecksName {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		m := report.Metrics[name]
		parts := make([]string, 0, len(m.Values))
		for _, key := range valueOrder[m.Type] {
			v, ok := m.Values[key]
			if !ok {
				continue
			}
			parts = append(parts, key+"="+formatValue(m, key, v))
		}
		fmt.Fprintf(b, "  %s %s\n", pad(name), strings.Join(parts, " "))
	}
	if len(names) > 0 {
		b.WriteString("\n")
	}
}

func writeFailures(b *strings.Builder, failures []Failure) {
	if len(failures) == 0 {
		return
	}
	b.WriteString("  failed requests:\n")
	for i, f := range failures {
		if i == maxFailures {
			fmt.Fprintf(b, "    ... %d more\n", len(failures)-maxFailures)
			break
		}
		fmt.Fprintf(b, "    %-6s %-32s %-4s %d\n", f.Method, f.Name, f.Status, f.Count)
	}
	b.WriteString("\n")
}

func writeThresholds(b *strings.Builder, report *engine.Report) {
	if len(report.Thresholds) == 0 {
		return
	}
	b.WriteString("  thresholds:\n")
	for _, th := range report.Thresholds {
		mark := "✓"
		if !th.Passed {
			mark = "✗"
		}
		line := fmt.Sprintf("    %s %s %s", mark, th.Metric, th.Condition)
		if th.Missing {
			line += " (no samples)"
		} else {
			line += fmt.Sprintf(" (%s)", trimFloat(th.Value))
		}
		b.WriteString(line + "\n")
	}
	if failed := len(report.FailedThresholds()); failed > 0 {
		fmt.Fprintf(b, "    %d of %d thresholds failed\n", failed, len(report.Thresholds))
	}
	b.WriteString("\n")
}

func formatValue(m engine.MetricReport, key string, v float64) string {
	switch {
	case m.Type == metrics.Rate && key == "rate":
		return fmt.Sprintf("%.2f%%", v*100)
	case key == "count" || key == "passes" || key == "fails":
		return fmt.Sprintf("%d", int64(v))
	case key == "rate":
		return fmt.Sprintf("%.2f/s", v)
	case m.Contains == metrics.Time:
		return fmt.Sprintf("%.2fms", v)
	case m.Contains == metrics.Data:
		return formatBytes(v)
	}
	return trimFloat(v)
}

func formatBytes(v float64) string {
	switch {
	case v >= 1<<20:
		return fmt.Sprintf("%.1fMB", v/(1<<20))
	case v >= 1<<10:
		return fmt.Sprintf("%.1fkB", v/(1<<10))
	}
	return fmt.Sprintf("%dB", int64(v))
}

func trimFloat(v float64) string {
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64)
}

func percent(passes, fails int64) string {
	total := passes + fails
	if total == 0 {
		return "0.00%"
	}
	return fmt.Sprintf("%.2f%%", float64(passes)*100/float64(total))
}

func pad(name string) string {
	if len(name) >= nameWidth {
		return name + " "
	}
	return name + strings.Repeat(".", nameWidth-len(name)) + ":"
}
