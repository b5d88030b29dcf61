package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/load-harness/internal/history"
	"yqhp/load-harness/internal/testutil/scyllastub"
	"yqhp/load-harness/pkg/runner"
	"yqhp/load-harness/pkg/types"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitError, ExitCode(errors.New("boom")))

	wrapped := fmt.Errorf("run: %w", &runner.ThresholdsFailedError{
		Failed: []types.ThresholdResult{{Metric: "http_req_duration", Condition: "p(95)<1"}},
		Total:  2,
	})
	assert.Equal(t, ExitThresholdsFailed, ExitCode(wrapped))
	assert.Equal(t, ExitThresholdsFailed, ExitCode(runner.ErrThresholdsFailed))
}

func TestCmdArgs_OnlyChangedFlags(t *testing.T) {
	f := &runFlags{}
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	f.register(fs)

	require.NoError(t, fs.Parse([]string{
		"--base-url", "http://api:9000",
		"-u", "4",
		"--stage", "10s:5", "--stage", "20s:0",
		"--threshold", "http_req_duration=p(95)<300",
		"-o", "json=out.json",
		"--max-rps", "12.5",
	}))

	args := f.cmdArgs(fs)
	assert.Equal(t, map[string]string{
		"base_url":     "http://api:9000",
		"run.vus":      "4",
		"run.stages":   "10s:5,20s:0",
		"thresholds":   "http_req_duration=p(95)<300",
		"outputs":      "json=out.json",
		"http.max_rps": "12.5",
	}, args)
}

func TestCmdArgs_Empty(t *testing.T) {
	f := &runFlags{}
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	f.register(fs)
	require.NoError(t, fs.Parse(nil))

	assert.Empty(t, f.cmdArgs(fs))
}

func TestScenariosCommand(t *testing.T) {
	out, err := execute(t, "scenarios")
	require.NoError(t, err)

	assert.Contains(t, out, "套件:")
	assert.Contains(t, out, "task.default (默认)")
	assert.Contains(t, out, "* task.default")
	assert.Contains(t, out, "  ping.default")
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "load-harness version "+Version+"\n", out)
}

func TestRunCommand_Quiet(t *testing.T) {
	stub := scyllastub.New()
	defer stub.Close()

	dir := t.TempDir()
	export := filepath.Join(dir, "summary.json")
	db := filepath.Join(dir, "history.db")

	out, err := execute(t, "run", "ping", "-q",
		"--base-url", stub.URL,
		"-u", "2", "-i", "3",
		"--summary-export", export,
		"--history-db", db)
	require.NoError(t, err)

	assert.EqualValues(t, 6, stub.Requests())
	assert.NotContains(t, out, "Load Harness")
	assert.Contains(t, out, "scenario: ping.default")
	assert.Contains(t, out, "result: passed")

	raw, err := os.ReadFile(export)
	require.NoError(t, err)
	var report map[string]any
	require.NoError(t, json.Unmarshal(raw, &report))
	assert.Equal(t, "ping.default", report["scenario"])

	store, err := history.Open(db)
	require.NoError(t, err)
	defer store.Close()
	runs, err := store.List(context.Background(), history.ListOptions{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "ping", runs[0].Suite)
	assert.EqualValues(t, 6, runs[0].Iterations)
}

func TestRunCommand_ThresholdsFailed(t *testing.T) {
	stub := scyllastub.New(scyllastub.WithLatency(2 * time.Millisecond))
	defer stub.Close()

	out, err := execute(t, "run", "ping.default", "-q",
		"--base-url", stub.URL,
		"-i", "1",
		"--threshold", "http_req_duration=max<0")
	require.Error(t, err)

	assert.Equal(t, ExitThresholdsFailed, ExitCode(err))
	assert.Contains(t, out, "result: failed")
}

func TestRunCommand_UnknownScenario(t *testing.T) {
	_, err := execute(t, "run", "nope.missing", "-q")
	require.Error(t, err)
	assert.Equal(t, ExitError, ExitCode(err))
}

func TestRunCommand_InvalidConfig(t *testing.T) {
	_, err := execute(t, "run", "ping", "-q", "--vus=-1")
	require.Error(t, err)
	assert.Equal(t, ExitError, ExitCode(err))
}

func TestHistoryCommand(t *testing.T) {
	db := filepath.Join(t.TempDir(), "history.db")
	store, err := history.Open(db)
	require.NoError(t, err)
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(context.Background(), history.Run{
		ID: "run-a", Suite: "task", Scenario: "task.default", StartedAt: started,
		Duration: 90 * time.Second, Iterations: 40, Requests: 240, P95Ms: 12.34, Passed: true,
	}))
	require.NoError(t, store.Save(context.Background(), history.Run{
		ID: "run-b", Suite: "person", Scenario: "person.simple", StartedAt: started.Add(time.Hour),
		Duration: time.Minute, Iterations: 5, Requests: 10, Aborted: true,
	}))
	require.NoError(t, store.Close())

	out, err := execute(t, "history", "--history-db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "RUN")
	assert.Contains(t, out, "run-a")
	assert.Contains(t, out, "run-b")
	assert.Contains(t, out, "12.3ms")
	assert.Contains(t, out, "aborted")
	assert.Less(t, bytes.Index([]byte(out), []byte("run-b")), bytes.Index([]byte(out), []byte("run-a")))

	out, err = execute(t, "history", "--history-db", db, "--suite", "task")
	require.NoError(t, err)
	assert.Contains(t, out, "run-a")
	assert.NotContains(t, out, "run-b")
}

func TestHistoryCommand_NoDatabase(t *testing.T) {
	t.Setenv("LH_HISTORY_DB", "")
	_, err := execute(t, "history")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "未配置历史数据库")
}
