package runner

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/load-harness/internal/config"
	"yqhp/load-harness/internal/history"
	"yqhp/load-harness/internal/metrics/engine"
	"yqhp/load-harness/internal/scenario"
	"yqhp/load-harness/internal/scenario/scylla"
	"yqhp/load-harness/internal/testutil/scyllastub"
	"yqhp/load-harness/pkg/controlsurface"
	"yqhp/load-harness/pkg/metrics"
	"yqhp/load-harness/pkg/output"
	_ "yqhp/load-harness/pkg/output/all"
	"yqhp/load-harness/pkg/types"
)

func resolve(t *testing.T, selector string) (scenario.Scenario, *scenario.Suite) {
	t.Helper()
	reg, err := scylla.NewRegistry()
	require.NoError(t, err)
	s, suite, err := reg.Resolve(selector)
	require.NoError(t, err)
	return s, suite
}

func iterationsConfig(baseURL string, vus int, iterations int64) *config.Config {
	cfg := config.DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.Run.VUs = vus
	cfg.Run.Iterations = iterations
	cfg.Run.GracefulStop = 2 * time.Second
	return cfg
}

func TestRun_PerVUIterations(t *testing.T) {
	stub := scyllastub.New()
	defer stub.Close()

	s, suite := resolve(t, "ping")
	cfg := iterationsConfig(stub.URL, 2, 3)
	cfg.Thresholds = config.ThresholdList{{Metric: metrics.HTTPReqFailedName, Condition: "rate<0.1"}}

	res, err := Run(context.Background(), Options{Config: cfg, Scenario: s, Suite: suite})
	require.NoError(t, err)

	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, output.StatusCompleted, res.Status)
	assert.Equal(t, res.RunID, res.Report.RunID)
	assert.Equal(t, "ping.default", res.Report.Scenario)
	assert.False(t, res.Report.StartTime.IsZero())
	assert.True(t, res.Report.Passed)
	assert.False(t, res.Report.Aborted)

	iterations, _ := res.Report.Value(metrics.IterationsName, "count")
	reqs, _ := res.Report.Value(metrics.HTTPReqsName, "count")
	assert.Equal(t, 6.0, iterations)
	assert.Equal(t, 6.0, reqs)
	assert.Equal(t, int64(6), stub.Requests())
	assert.Equal(t, 2, res.PeakVUs)

	passes, fails := res.Report.CheckTotals()
	assert.Equal(t, int64(6), passes)
	assert.Zero(t, fails)
	assert.Empty(t, res.Failures)
}

func TestRun_ThresholdFailure(t *testing.T) {
	stub := scyllastub.New()
	defer stub.Close()

	s, suite := resolve(t, "ping")
	cfg := iterationsConfig(stub.URL, 1, 2)
	cfg.Thresholds = config.ThresholdList{
		{Metric: metrics.HTTPReqDurationName, Condition: "max<0"},
		{Metric: metrics.HTTPReqFailedName, Condition: "rate<0.1"},
	}

	res, err := Run(context.Background(), Options{Config: cfg, Scenario: s, Suite: suite})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrThresholdsFailed)

	var tfe *ThresholdsFailedError
	require.True(t, errors.As(err, &tfe))
	require.Len(t, tfe.Failed, 1)
	assert.Equal(t, metrics.HTTPReqDurationName, tfe.Failed[0].Metric)
	assert.Equal(t, 2, tfe.Total)
	assert.Contains(t, err.Error(), "1/2 thresholds failed")

	require.NotNil(t, res)
	assert.Equal(t, output.StatusFailed, res.Status)
	assert.False(t, res.Report.Passed)
}

func TestRun_InvalidThreshold(t *testing.T) {
	s, suite := resolve(t, "ping")
	cfg := iterationsConfig("http://127.0.0.1:1", 1, 1)
	cfg.Thresholds = config.ThresholdList{{Metric: "no_such_metric", Condition: "count>0"}}

	_, err := Run(context.Background(), Options{Config: cfg, Scenario: s, Suite: suite})
	assert.ErrorIs(t, err, engine.ErrInvalidThreshold)
}

func TestRun_RequiresScenario(t *testing.T) {
	_, err := Run(context.Background(), Options{Config: config.DefaultConfig()})
	assert.Error(t, err)
	_, err = Run(context.Background(), Options{})
	assert.Error(t, err)
}

func TestRun_FailedRequestsAreTracked(t *testing.T) {
	stub := scyllastub.New()
	defer stub.Close()

	// 期望 404 的场景也会产生失败请求
	s, suite := resolve(t, "task.error-scenarios")
	cfg := iterationsConfig(stub.URL, 1, 2)

	res, err := Run(context.Background(), Options{Config: cfg, Scenario: s, Suite: suite})
	require.NoError(t, err)
	require.NotEmpty(t, res.Failures)
	for _, f := range res.Failures {
		assert.NotEmpty(t, f.Method)
		assert.NotEqual(t, "200", f.Status)
	}
}

func TestRun_SummaryExportAndHistory(t *testing.T) {
	stub := scyllastub.New()
	defer stub.Close()

	dir := t.TempDir()
	s, suite := resolve(t, "ping")
	cfg := iterationsConfig(stub.URL, 1, 2)
	cfg.SummaryExport = filepath.Join(dir, "summary.json")
	cfg.History.DBPath = filepath.Join(dir, "db", "history.db")
	ndjson := filepath.Join(dir, "samples.json")
	cfg.Outputs = []string{"json=" + ndjson}

	res, err := Run(context.Background(), Options{Config: cfg, Scenario: s, Suite: suite})
	require.NoError(t, err)

	raw, err := os.ReadFile(cfg.SummaryExport)
	require.NoError(t, err)
	var exported engine.Report
	require.NoError(t, json.Unmarshal(raw, &exported))
	assert.Equal(t, res.RunID, exported.RunID)
	assert.Contains(t, exported.Metrics, metrics.HTTPReqDurationName)

	store, err := history.Open(cfg.History.DBPath)
	require.NoError(t, err)
	defer store.Close()
	run, err := store.Get(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, "ping", run.Suite)
	assert.Equal(t, int64(2), run.Requests)
	assert.Equal(t, "passed", run.Status())

	f, err := os.Open(ndjson)
	require.NoError(t, err)
	defer f.Close()
	lines := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines++
	}
	assert.Greater(t, lines, 0)
}

func TestRun_StopFromControlSurface(t *testing.T) {
	stub := scyllastub.New(scyllastub.WithLatency(10 * time.Millisecond))
	defer stub.Close()

	s, suite := resolve(t, "ping")
	cfg := config.DefaultConfig()
	cfg.BaseURL = stub.URL
	cfg.Run.VUs = 2
	cfg.Run.Duration = time.Minute
	cfg.Run.GracefulStop = 2 * time.Second

	var statusBeforeStop *controlsurface.Status
	started := time.Now()
	res, err := Run(context.Background(), Options{
		Config:   cfg,
		Scenario: s,
		Suite:    suite,
		OnStart: func(cs *controlsurface.ControlSurface) {
			go func() {
				time.Sleep(300 * time.Millisecond)
				statusBeforeStop = cs.Status()
				_ = cs.Stop()
			}()
		},
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(started), 10*time.Second)

	require.NotNil(t, statusBeforeStop)
	assert.Equal(t, string(types.ModeConstantVUs), statusBeforeStop.Mode)
	assert.Equal(t, res.RunID, statusBeforeStop.RunID)
	assert.Equal(t, int64(2), statusBeforeStop.MaxVUs)

	assert.True(t, res.Report.Aborted)
	assert.Equal(t, output.StatusAborted, res.Status)
	reqs, _ := res.Report.Value(metrics.HTTPReqsName, "count")
	assert.Greater(t, reqs, 0.0)
}

func TestRun_ContextCancelAborts(t *testing.T) {
	stub := scyllastub.New()
	defer stub.Close()

	s, suite := resolve(t, "ping")
	cfg := config.DefaultConfig()
	cfg.BaseURL = stub.URL
	cfg.Run.Stages = []types.Stage{{Duration: 0, Target: 3}, {Duration: time.Minute, Target: 3}}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	var progressCalls atomic.Int32
	res, err := Run(ctx, Options{
		Config:       cfg,
		Scenario:     s,
		Suite:        suite,
		PollInterval: 50 * time.Millisecond,
		OnProgress: func(p Progress) {
			progressCalls.Add(1)
		},
	})
	require.NoError(t, err)
	assert.True(t, res.Report.Aborted)
	assert.Equal(t, output.StatusAborted, res.Status)
	assert.Greater(t, progressCalls.Load(), int32(0))
}

func TestOutputArgs(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Outputs = []string{"json=out.json"}
	assert.Equal(t, []string{"json=out.json"}, outputArgs(cfg))

	cfg.API.Addr = "127.0.0.1:6565"
	assert.Equal(t, []string{"json=out.json", "prometheus"}, outputArgs(cfg))

	cfg.Outputs = []string{"prometheus"}
	assert.Equal(t, []string{"prometheus"}, outputArgs(cfg))
	assert.Equal(t, []string{"prometheus"}, cfg.Outputs)
}
