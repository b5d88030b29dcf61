package summary

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/load-harness/internal/metrics/engine"
	"yqhp/load-harness/pkg/metrics"
	"yqhp/load-harness/pkg/types"
)

func sampleReport() *engine.Report {
	return &engine.Report{
		RunID:    "run-7",
		Scenario: "task.default",
		Duration: 2*time.Minute + 1500*time.Microsecond,
		Metrics: map[string]engine.MetricReport{
			metrics.HTTPReqsName: {
				Type: metrics.Counter, Contains: metrics.Default,
				Values: map[string]float64{"count": 1200, "rate": 10},
			},
			metrics.HTTPReqDurationName: {
				Type: metrics.Trend, Contains: metrics.Time,
				Values: map[string]float64{"avg": 120.5, "min": 3, "med": 100, "max": 900, "p(90)": 300, "p(95)": 410.25, "p(99)": 800},
			},
			metrics.HTTPReqFailedName: {
				Type: metrics.Rate, Contains: metrics.Default,
				Values: map[string]float64{"rate": 0.025, "passes": 30, "fails": 1170},
			},
			metrics.DataReceivedName: {
				Type: metrics.Counter, Contains: metrics.Data,
				Values: map[string]float64{"count": 2048, "rate": 17.07},
			},
			metrics.VUsName: {
				Type: metrics.Gauge, Contains: metrics.Default,
				Values: map[string]float64{"value": 0, "min": 0, "max": 10},
			},
			metrics.ChecksName: {
				Type: metrics.Rate, Contains: metrics.Default,
				Values: map[string]float64{"rate": 0.9},
			},
		},
		Checks: []engine.CheckStat{
			{Name: "create task status is 200", Passes: 90, Fails: 10},
			{Name: "get task has data", Passes: 100},
		},
		Thresholds: []types.ThresholdResult{
			{Metric: "http_req_duration", Condition: "p(95)<500", Passed: true, Value: 410.25},
			{Metric: "errors", Condition: "rate<0.1", Passed: false, Value: 0.125},
			{Metric: "custom_wait", Condition: "avg<10", Passed: true, Missing: true},
		},
		Passed: false,
	}
}

func TestWrite(t *testing.T) {
	var b strings.Builder
	require.NoError(t, Write(&b, sampleReport(), []Failure{
		{Method: "POST", Name: "/v1/scylla/tasks", Status: "400", Count: 12},
	}))
	out := b.String()

	assert.Contains(t, out, "scenario: task.default")
	assert.Contains(t, out, "run:      run-7")
	assert.Contains(t, out, "duration: 2m0.002s")

	assert.Contains(t, out, "✗ create task status is 200")
	assert.Contains(t, out, "↳  90%  ✓ 90 / ✗ 10")
	assert.Contains(t, out, "✓ get task has data")
	assert.Contains(t, out, "95.00% ✓ 190 ✗ 10")

	assert.Contains(t, out, "http_req_duration.......: avg=120.50ms min=3.00ms med=100.00ms max=900.00ms p(90)=300.00ms p(95)=410.25ms p(99)=800.00ms")
	assert.Contains(t, out, "http_reqs...............: count=1200 rate=10.00/s")
	assert.Contains(t, out, "http_req_failed.........: rate=2.50% passes=30 fails=1170")
	assert.Contains(t, out, "data_received...........: count=2048 rate=17.07/s")
	assert.Contains(t, out, "vus.....................: value=0 min=0 max=10")

	assert.Contains(t, out, "POST   /v1/scylla/tasks")
	assert.Contains(t, out, "✓ http_req_duration p(95)<500 (410.25)")
	assert.Contains(t, out, "✗ errors rate<0.1 (0.13)")
	assert.Contains(t, out, "✓ custom_wait avg<10 (no samples)")
	assert.Contains(t, out, "1 of 3 thresholds failed")
	assert.Contains(t, out, "result: failed")
}

func TestWrite_Verdicts(t *testing.T) {
	cases := []struct {
		passed, aborted bool
		want            string
	}{
		{true, false, "result: passed"},
		{false, false, "result: failed"},
		{true, true, "result: aborted (thresholds passed)"},
		{false, true, "result: aborted (thresholds failed)"},
	}
	for _, tc := range cases {
		var b strings.Builder
		require.NoError(t, Write(&b, &engine.Report{Passed: tc.passed, Aborted: tc.aborted}, nil))
		assert.Contains(t, b.String(), tc.want)
		assert.NotContains(t, b.String(), "thresholds:")
		assert.NotContains(t, b.String(), "failed requests:")
	}
}

func TestWrite_TruncatesFailures(t *testing.T) {
	failures := make([]Failure, maxFailures+5)
	for i := range failures {
		failures[i] = Failure{Method: "GET", Name: "/v1/scylla/tasks/{id}", Status: "404", Count: 1}
	}
	var b strings.Builder
	require.NoError(t, Write(&b, &engine.Report{Passed: true}, failures))
	assert.Contains(t, b.String(), "... 5 more")
	assert.Equal(t, maxFailures, strings.Count(b.String(), "/v1/scylla/tasks/{id}"))
}

func TestOutput_TracksFailedRequests(t *testing.T) {
	reg := metrics.NewRegistry()
	builtin := metrics.RegisterBuiltinMetrics(reg)

	o := New()
	require.NoError(t, o.Start())

	failed := func(v float64, method, name, status string) metrics.Sample {
		return metrics.Sample{
			Metric: builtin.HTTPReqFailed, Time: time.Now(), Value: v,
			Tags: map[string]string{"method": method, "name": name, "status": status},
		}
	}
	o.AddMetricSamples([]metrics.SampleContainer{metrics.Samples{
		failed(1, "GET", "/v1/scylla/tasks/{id}", "404"),
		failed(1, "GET", "/v1/scylla/tasks/{id}", "404"),
		failed(0, "GET", "/v1/scylla/tasks/{id}", "200"),
		failed(1, "POST", "/v1/scylla/persons", "400"),
		{Metric: builtin.HTTPReqs, Time: time.Now(), Value: 1, Tags: map[string]string{"status": "500"}},
	}})
	require.NoError(t, o.Stop())

	got := o.Failures()
	require.Len(t, got, 2)
	assert.Equal(t, Failure{Method: "GET", Name: "/v1/scylla/tasks/{id}", Status: "404", Count: 2}, got[0])
	assert.Equal(t, Failure{Method: "POST", Name: "/v1/scylla/persons", Status: "400", Count: 1}, got[1])
}
