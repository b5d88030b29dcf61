package scylla

import (
	"context"
	"time"

	"yqhp/load-harness/internal/check"
	"yqhp/load-harness/internal/scenario"
	"yqhp/load-harness/pkg/metrics"
	"yqhp/load-harness/pkg/types"
)

const (
	listPause      = 100 * time.Millisecond
	iterationDelay = 100 * time.Millisecond
)

// DefaultStages ramps to 5 VUs, climbs to 10 over a minute and ramps down.
var DefaultStages = []types.Stage{
	{Duration: 30 * time.Second, Target: 5},
	{Duration: time.Minute, Target: 10},
	{Duration: 30 * time.Second, Target: 0},
}

// DefaultThresholds gate the staged task and person suites.
var DefaultThresholds = []types.Threshold{
	{Metric: metrics.HTTPReqDurationName, Condition: "p(95)<500"},
	{Metric: metrics.ErrorsName, Condition: "rate<0.1"},
	{Metric: metrics.HTTPReqFailedName, Condition: "rate<0.1"},
}

func stagedOptions() scenario.Options {
	return scenario.Options{
		Stages:         append([]types.Stage(nil), DefaultStages...),
		Thresholds:     append([]types.Threshold(nil), DefaultThresholds...),
		IterationDelay: iterationDelay,
	}
}

func smokeOptions() *scenario.Options {
	return &scenario.Options{VUs: 1, Duration: 10 * time.Second}
}

// Ping is the single-request smoke test.
func Ping(ctx context.Context, sc *scenario.Context) error {
	f := newFlow(ctx, sc)
	resp := f.get(pingPath)
	f.check(resp, c("status is 200", check.StatusIs(200)))
	return f.done()
}

// Register adds every scylla scenario and suite to r and makes
// task.default the registry default.
func Register(r *scenario.Registry) error {
	scenarios := []scenario.Scenario{
		{Name: "ping.default", Description: "GET /ping once per iteration", Fn: Ping, Options: smokeOptions()},

		{Name: "task.default", Description: "task lifecycle: health, create, get, update, list, delete", Fn: TaskDefault},
		{Name: "task.high-load", Description: "list flow five times with 100ms pauses", Fn: TaskHighLoad},
		{Name: "task.create-multiple", Description: "create three tasks", Fn: TaskCreateMultiple},
		{Name: "task.error-scenarios", Description: "invalid create and not-found lookup", Fn: TaskErrorScenarios},

		{Name: "person.default", Description: "create persons, list with filters, error cases", Fn: PersonDefault},
		{Name: "person.simple", Description: "single-user person smoke test", Fn: PersonSimple, Options: smokeOptions()},
		{Name: "person.error-scenarios", Description: "validation and malformed input", Fn: PersonErrorScenarios},
		{Name: "person.high-load", Description: "list flows five times with 100ms pauses", Fn: PersonHighLoad},
		{Name: "person.create-multiple", Description: "create three persons", Fn: PersonCreateMultiple},
		{Name: "person.filter-performance", Description: "five filter combinations under 500ms", Fn: PersonFilterPerformance},
		{Name: "person.data-validation", Description: "boundary payloads", Fn: PersonDataValidation},
	}
	for _, s := range scenarios {
		if err := r.RegisterScenario(s); err != nil {
			return err
		}
	}

	suites := []scenario.Suite{
		{Name: "ping", Description: "service health smoke test", Default: "ping.default", Options: *smokeOptions()},
		{Name: "task", Description: "task service load test", Default: "task.default", Options: stagedOptions()},
		{Name: "person", Description: "person service load test", Default: "person.default", Options: stagedOptions()},
	}
	for _, s := range suites {
		if err := r.RegisterSuite(s); err != nil {
			return err
		}
	}
	return r.SetDefault("task.default")
}

// NewRegistry returns a registry populated by Register.
func NewRegistry() (*scenario.Registry, error) {
	r := scenario.NewRegistry()
	if err := Register(r); err != nil {
		return nil, err
	}
	return r, nil
}
