// Package controlsurface provides the ControlSurface type that exposes a
// running load test's state to the control API without the API importing
// the runner.
package controlsurface

import (
	"errors"
	"net/http"
	"sync"
	"time"
)

// ErrNotRunning is returned by Stop when no run is attached.
var ErrNotRunning = errors.New("no run in progress")

// Run states reported in Status.State.
const (
	StateStarting = "starting"
	StateRunning  = "running"
	StateStopping = "stopping"
	StateFinished = "finished"
)

// Status is the live state of the run.
type Status struct {
	RunID      string    `json:"run_id"`
	Scenario   string    `json:"scenario"`
	Mode       string    `json:"mode"`
	State      string    `json:"state"`
	Phase      string    `json:"phase"`
	Running    bool      `json:"running"`
	VUs        int64     `json:"vus"`
	TargetVUs  int64     `json:"target_vus"`
	MaxVUs     int64     `json:"max_vus"`
	Iterations int64     `json:"iterations"`
	StartTime  time.Time `json:"start_time"`
	ElapsedMs  int64     `json:"elapsed_ms"`
}

// LiveStats are interval statistics from the latest snapshot.
type LiveStats struct {
	Timestamp time.Time `json:"timestamp"`
	RPS       float64   `json:"rps"`
	ErrorRate float64   `json:"error_rate"`
	P50Ms     float64   `json:"p50_ms"`
	P90Ms     float64   `json:"p90_ms"`
	P95Ms     float64   `json:"p95_ms"`
	P99Ms     float64   `json:"p99_ms"`
	MaxMs     float64   `json:"max_ms"`
}

// Metrics is the aggregated view served by GET /v1/metrics.
type Metrics struct {
	ElapsedMs int64                         `json:"elapsed_ms"`
	Metrics   map[string]map[string]float64 `json:"metrics"`
	Live      *LiveStats                    `json:"live,omitempty"`
}

// ControlSurface provides access to a running test's internal state.
// The runner fills the function fields; nil fields are treated as absent.
type ControlSurface struct {
	mu sync.RWMutex

	GetStatus     func() *Status
	GetMetrics    func() *Metrics
	StopExecution func() error

	// MetricsHandler serves the Prometheus exposition, nil when no
	// prometheus output is attached.
	MetricsHandler http.Handler

	stopped bool
}

// Status returns the current status, or a finished placeholder.
func (cs *ControlSurface) Status() *Status {
	cs.mu.RLock()
	fn := cs.GetStatus
	cs.mu.RUnlock()
	if fn == nil {
		return &Status{State: StateFinished}
	}
	st := fn()
	if st == nil {
		return &Status{State: StateFinished}
	}
	if st.Running && cs.Stopped() {
		st.State = StateStopping
	}
	return st
}

// Metrics returns the aggregated metrics, or an empty view.
func (cs *ControlSurface) Metrics() *Metrics {
	cs.mu.RLock()
	fn := cs.GetMetrics
	cs.mu.RUnlock()
	if fn == nil {
		return &Metrics{Metrics: map[string]map[string]float64{}}
	}
	if m := fn(); m != nil {
		return m
	}
	return &Metrics{Metrics: map[string]map[string]float64{}}
}

// Stop requests a graceful stop. Calling it again after a successful stop
// is a no-op.
func (cs *ControlSurface) Stop() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.StopExecution == nil {
		return ErrNotRunning
	}
	if cs.stopped {
		return nil
	}
	if err := cs.StopExecution(); err != nil {
		return err
	}
	cs.stopped = true
	return nil
}

// Stopped reports whether Stop has succeeded.
func (cs *ControlSurface) Stopped() bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.stopped
}
