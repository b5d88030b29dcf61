package json

import (
	"context"
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/load-harness/pkg/metrics"
	"yqhp/load-harness/pkg/output"
)

func TestOutput_WritesNDJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "samples.json")
	out, err := output.Create(context.Background(), "json", output.Params{ConfigArgument: path})
	require.NoError(t, err)
	require.NoError(t, out.Start())

	reg := metrics.NewRegistry()
	dur := reg.MustNewMetric(metrics.HTTPReqDurationName, metrics.Trend, metrics.Time)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	out.AddMetricSamples([]metrics.SampleContainer{metrics.Samples{
		{Metric: dur, Time: now, Value: 12.5, Tags: map[string]string{"name": "/ping"}},
		{Metric: dur, Time: now, Value: 7},
	}})
	require.NoError(t, out.Stop())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 3)

	assert.Equal(t, "Metric", lines[0]["type"])
	assert.Equal(t, "trend", lines[0]["data"].(map[string]any)["type"])
	assert.Equal(t, "Point", lines[1]["type"])
	assert.Equal(t, metrics.HTTPReqDurationName, lines[1]["metric"])
	data := lines[1]["data"].(map[string]any)
	assert.Equal(t, 12.5, data["value"])
	assert.Equal(t, "/ping", data["tags"].(map[string]any)["name"])
	assert.Nil(t, lines[2]["data"].(map[string]any)["tags"])
}

func TestOutput_Description(t *testing.T) {
	out, err := New(output.Params{ConfigArgument: "x.json"})
	require.NoError(t, err)
	assert.Equal(t, "json (x.json)", out.Description())
	// 未启动时 Stop 是空操作
	assert.NoError(t, out.Stop())
}
