package engine

import (
	"encoding/json"
	"os"
	"time"

	"yqhp/load-harness/pkg/metrics"
	"yqhp/load-harness/pkg/types"
)

// Report is the final run summary: computed values per metric, per-check
// counters, threshold outcomes and the overall verdict.
type Report struct {
	RunID      string                  `json:"run_id,omitempty"`
	Scenario   string                  `json:"scenario,omitempty"`
	StartTime  time.Time               `json:"start_time"`
	Duration   time.Duration           `json:"duration"`
	Metrics    map[string]MetricReport `json:"metrics"`
	Checks     []CheckStat             `json:"checks"`
	Thresholds []types.ThresholdResult `json:"thresholds"`
	Passed     bool                    `json:"passed"`
	// Aborted is set when the run was interrupted before its schedule ended.
	Aborted bool `json:"aborted,omitempty"`
}

// MetricReport holds the computed aggregation of one metric.
type MetricReport struct {
	Type     metrics.MetricType `json:"type"`
	Contains metrics.ValueType  `json:"contains"`
	Values   map[string]float64 `json:"values"`
}

// Value returns a single aggregation, e.g. Value("http_req_duration", "p(95)").
func (r *Report) Value(metric, key string) (float64, bool) {
	m, ok := r.Metrics[metric]
	if !ok {
		return 0, false
	}
	v, ok := m.Values[key]
	return v, ok
}

// FailedThresholds returns only the thresholds that did not pass.
func (r *Report) FailedThresholds() []types.ThresholdResult {
	var failed []types.ThresholdResult
	for _, th := range r.Thresholds {
		if !th.Passed {
			failed = append(failed, th)
		}
	}
	return failed
}

// CheckTotals sums passes and fails across all checks.
func (r *Report) CheckTotals() (passes, fails int64) {
	for _, c := range r.Checks {
		passes += c.Passes
		fails += c.Fails
	}
	return passes, fails
}

// WriteJSON writes the report as indented JSON to path.
func (r *Report) WriteJSON(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
