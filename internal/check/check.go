// Package check evaluates named predicates against responses and records
// each outcome. A failing or panicking predicate never stops the iteration.
package check

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"yqhp/load-harness/internal/httpclient"
	"yqhp/load-harness/pkg/metrics"
	"yqhp/load-harness/pkg/types"
)

// Func is a predicate over an immutable response.
type Func func(resp *httpclient.Response) bool

// Check is one named predicate.
type Check struct {
	Name string
	Fn   Func
}

// Recorder receives check outcomes and custom metric samples.
type Recorder interface {
	RecordCheck(result types.CheckResult)
	AddSamples(containers ...metrics.SampleContainer)
}

// Checker records check results into a Recorder. It holds no mutable state
// and is safe for concurrent use.
type Checker struct {
	rec    Recorder
	errors *metrics.Metric
	log    *zap.Logger
}

// New creates a Checker. errorsMetric is the custom "errors" rate; nil
// disables ErrorRate.
func New(rec Recorder, errorsMetric *metrics.Metric, log *zap.Logger) *Checker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Checker{rec: rec, errors: errorsMetric, log: log}
}

// Check evaluates every predicate in order and returns their conjunction.
func (c *Checker) Check(resp *httpclient.Response, checks ...Check) bool {
	all := true
	now := time.Now()
	for _, chk := range checks {
		passed, perr := evaluate(chk.Fn, resp)
		if !passed {
			all = false
			fields := []zap.Field{zap.String("check", chk.Name)}
			if resp != nil {
				fields = append(fields,
					zap.String("method", resp.Method),
					zap.String("url", resp.URL),
					zap.Int("status", resp.Status))
			}
			if perr != nil {
				fields = append(fields, zap.Error(perr))
			}
			c.log.Debug("check failed", fields...)
		}
		if c.rec != nil {
			c.rec.RecordCheck(types.CheckResult{Name: chk.Name, Passed: passed, Timestamp: now})
		}
	}
	return all
}

// ErrorRate adds one sample to the custom errors rate; true means an error
// occurred in the check group.
func (c *Checker) ErrorRate(failed bool) {
	if c.rec == nil || c.errors == nil {
		return
	}
	v := 0.0
	if failed {
		v = 1
	}
	c.rec.AddSamples(metrics.Samples{{Metric: c.errors, Time: time.Now(), Value: v}})
}

func evaluate(fn Func, resp *httpclient.Response) (passed bool, err error) {
	if fn == nil {
		return false, fmt.Errorf("nil predicate")
	}
	defer func() {
		if r := recover(); r != nil {
			passed = false
			err = fmt.Errorf("predicate panic: %v", r)
		}
	}()
	return fn(resp), nil
}
