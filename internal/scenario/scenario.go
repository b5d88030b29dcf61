// Package scenario holds the registry of named scenario functions and the
// per-iteration context handed to them.
package scenario

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"yqhp/load-harness/internal/check"
	"yqhp/load-harness/internal/httpclient"
	"yqhp/load-harness/pkg/types"
)

// Func is one scenario iteration. A returned error is logged and counted,
// it never stops the worker.
type Func func(ctx context.Context, sc *Context) error

// Scenario is a registered, named Func.
type Scenario struct {
	Name        string
	Description string
	Fn          Func
	// Options overrides the suite's recommended options when set.
	Options *Options
}

// Options are the run options a suite recommends. Zero fields mean "no
// recommendation".
type Options struct {
	VUs            int
	Duration       time.Duration
	Stages         []types.Stage
	Thresholds     []types.Threshold
	IterationDelay time.Duration
}

// Suite groups a default scenario and extras with recommended options.
type Suite struct {
	Name        string
	Description string
	// Default is the full scenario name run when the suite is selected.
	Default string
	Options Options
}

// Deps are the shared collaborators injected into every Context.
type Deps struct {
	Client  *httpclient.Client
	Checker *check.Checker
	Logger  *zap.Logger
}

// Context is per-iteration scratch state. It is created at iteration start
// and discarded at iteration end; it is never shared between VUs.
type Context struct {
	Scenario      string
	VU            int
	Iteration     int64
	CorrelationID string

	Client  *httpclient.Client
	Checker *check.Checker
	Logger  *zap.Logger
}

// NewContext creates the Context for one iteration with a fresh
// correlation id.
func NewContext(name string, deps Deps, vu int, iteration int64) *Context {
	id := uuid.NewString()
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Context{
		Scenario:      name,
		VU:            vu,
		Iteration:     iteration,
		CorrelationID: id,
		Client:        deps.Client,
		Checker:       deps.Checker,
		Logger: log.With(
			zap.String("scenario", name),
			zap.Int("vu", vu),
			zap.Int64("iteration", iteration),
			zap.String("correlation_id", id),
		),
	}
}

// Check is shorthand for sc.Checker.Check.
func (sc *Context) Check(resp *httpclient.Response, checks ...check.Check) bool {
	return sc.Checker.Check(resp, checks...)
}

// Group records the outcome of a check group in the errors rate and returns
// ok unchanged.
func (sc *Context) Group(ok bool) bool {
	sc.Checker.ErrorRate(!ok)
	return ok
}

// Sleep pauses for d or until ctx is done.
func (sc *Context) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Bind adapts s into the iteration function run by the scheduler.
func Bind(s Scenario, deps Deps) func(ctx context.Context, vu int, iteration int64) error {
	return func(ctx context.Context, vu int, iteration int64) error {
		sc := NewContext(s.Name, deps, vu, iteration)
		ctx = httpclient.WithCorrelationID(ctx, sc.CorrelationID)
		return s.Fn(ctx, sc)
	}
}
