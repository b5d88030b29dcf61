// Package scylla registers the load scenarios for the person and task
// services exposed under /v1/scylla.
package scylla

import (
	"context"
	"time"

	"go.uber.org/zap"

	"yqhp/load-harness/internal/check"
	"yqhp/load-harness/internal/httpclient"
	"yqhp/load-harness/internal/scenario"
)

const (
	pingPath    = "/ping"
	personsPath = "/v1/scylla/persons"
	tasksPath   = "/v1/scylla/tasks"
	taskPath    = "/v1/scylla/tasks/{id}"
)

// flow wraps one iteration. Transport errors never abort the flow, the
// first one is kept and returned at the end so the iteration is counted in
// iteration_errors.
type flow struct {
	ctx context.Context
	sc  *scenario.Context
	err error
}

func newFlow(ctx context.Context, sc *scenario.Context) *flow {
	return &flow{ctx: ctx, sc: sc}
}

func (f *flow) keep(resp *httpclient.Response, err error) *httpclient.Response {
	if err != nil && f.err == nil {
		f.err = err
	}
	return resp
}

func (f *flow) get(path string, opts ...httpclient.Option) *httpclient.Response {
	return f.keep(f.sc.Client.Get(f.ctx, path, opts...))
}

func (f *flow) post(path string, body any, opts ...httpclient.Option) *httpclient.Response {
	return f.keep(f.sc.Client.Post(f.ctx, path, body, opts...))
}

func (f *flow) patch(path string, body any, opts ...httpclient.Option) *httpclient.Response {
	return f.keep(f.sc.Client.Patch(f.ctx, path, body, opts...))
}

func (f *flow) del(path string, opts ...httpclient.Option) *httpclient.Response {
	return f.keep(f.sc.Client.Delete(f.ctx, path, opts...))
}

func (f *flow) check(resp *httpclient.Response, checks ...check.Check) bool {
	return f.sc.Check(resp, checks...)
}

// group checks and feeds the outcome into the errors rate.
func (f *flow) group(resp *httpclient.Response, msg string, checks ...check.Check) bool {
	ok := f.sc.Group(f.check(resp, checks...))
	if !ok {
		f.sc.Logger.Warn(msg, zap.Int("status", resp.Status), zap.ByteString("body", truncate(resp.Body)))
	}
	return ok
}

func (f *flow) sleep(d time.Duration) {
	if err := f.sc.Sleep(f.ctx, d); err != nil && f.err == nil {
		f.err = err
	}
}

func (f *flow) done() error {
	if f.err != nil {
		return f.err
	}
	return f.ctx.Err()
}

func c(name string, fn check.Func) check.Check {
	return check.Check{Name: name, Fn: fn}
}

func truncate(b []byte) []byte {
	const limit = 512
	if len(b) > limit {
		return b[:limit]
	}
	return b
}

func fasterThan(ms int) check.Func {
	return check.DurationBelow(time.Duration(ms) * time.Millisecond)
}

// healthCheck is shared by the task and person flows.
func (f *flow) healthCheck() {
	resp := f.get(pingPath)
	f.group(resp, "health check failed",
		c("Health check status is 200", check.StatusIs(200)),
		c("Health check response time < 200ms", fasterThan(200)),
		c("Health check returns pong", check.JSONEquals("message", "pong")),
	)
}
