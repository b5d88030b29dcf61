package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/load-harness/internal/metrics/engine"
	"yqhp/load-harness/pkg/metrics"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func run(id, suite string, started time.Time, passed bool) Run {
	return Run{
		ID:           id,
		Suite:        suite,
		Scenario:     suite + ".default",
		StartedAt:    started,
		Duration:     2*time.Minute + 350*time.Millisecond,
		Iterations:   420,
		Requests:     2520,
		FailedRate:   0.01,
		P95Ms:        231.5,
		ChecksPassed: 2400,
		ChecksFailed: 12,
		Passed:       passed,
	}
}

func TestSaveAndGet(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	want := run("r1", "task", started, true)
	require.NoError(t, s.Save(ctx, want))

	got, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, got.StartedAt.Equal(started))
	got.StartedAt = want.StartedAt
	assert.Equal(t, want, got)
	assert.Equal(t, "passed", got.Status())
}

func TestGet_NotFound(t *testing.T) {
	s := openStore(t)
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSave_RequiresID(t *testing.T) {
	s := openStore(t)
	assert.Error(t, s.Save(context.Background(), Run{Suite: "task"}))
}

func TestSave_ReplacesSameID(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.Save(ctx, run("r1", "task", now, false)))
	require.NoError(t, s.Save(ctx, run("r1", "task", now, true)))

	runs, err := s.List(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].Passed)
}

func TestList_NewestFirstWithFilters(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.Save(ctx, run("a", "task", base, true)))
	require.NoError(t, s.Save(ctx, run("b", "person", base.Add(time.Hour), false)))
	require.NoError(t, s.Save(ctx, run("c", "task", base.Add(2*time.Hour), true)))

	all, err := s.List(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{all[0].ID, all[1].ID, all[2].ID})

	tasks, err := s.List(ctx, ListOptions{Suite: "task"})
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "c", tasks[0].ID)

	limited, err := s.List(ctx, ListOptions{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "c", limited[0].ID)
}

func TestReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, run("r1", "ping", time.Now().UTC(), true)))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	runs, err := s.List(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestFromReport(t *testing.T) {
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	report := &engine.Report{
		RunID:     "r9",
		Scenario:  "person.default",
		StartTime: started,
		Duration:  90 * time.Second,
		Metrics: map[string]engine.MetricReport{
			metrics.IterationsName:      {Type: metrics.Counter, Values: map[string]float64{"count": 30}},
			metrics.HTTPReqsName:        {Type: metrics.Counter, Values: map[string]float64{"count": 180}},
			metrics.HTTPReqFailedName:   {Type: metrics.Rate, Values: map[string]float64{"rate": 0.05}},
			metrics.HTTPReqDurationName: {Type: metrics.Trend, Values: map[string]float64{"p(95)": 480}},
		},
		Checks: []engine.CheckStat{
			{Name: "status is 200", Passes: 170, Fails: 10},
			{Name: "has data", Passes: 175, Fails: 5},
		},
		Passed:  false,
		Aborted: true,
	}

	r := FromReport(report, "person")
	assert.Equal(t, "r9", r.ID)
	assert.Equal(t, "person", r.Suite)
	assert.Equal(t, "person.default", r.Scenario)
	assert.Equal(t, int64(30), r.Iterations)
	assert.Equal(t, int64(180), r.Requests)
	assert.Equal(t, 0.05, r.FailedRate)
	assert.Equal(t, 480.0, r.P95Ms)
	assert.Equal(t, int64(345), r.ChecksPassed)
	assert.Equal(t, int64(15), r.ChecksFailed)
	assert.Equal(t, "aborted", r.Status())
}

func TestFromReport_NoSamples(t *testing.T) {
	r := FromReport(&engine.Report{RunID: "empty", Passed: true}, "")
	assert.Zero(t, r.Requests)
	assert.Zero(t, r.P95Ms)
	assert.Equal(t, "passed", r.Status())
}
