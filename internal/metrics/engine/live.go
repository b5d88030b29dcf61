package engine

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"yqhp/load-harness/pkg/metrics"
)

const (
	// 1µs .. 10min at 3 significant digits, in microseconds.
	liveLowest  = 1
	liveHighest = int64(10 * time.Minute / time.Microsecond)
	liveSigFigs = 3

	defaultSnapshotInterval = time.Second
)

// Snapshot captures interval statistics for the progress line and the control API.
// Latency percentiles come from an HDR histogram over the last interval only.
type Snapshot struct {
	Timestamp  time.Time `json:"timestamp"`
	ElapsedMs  int64     `json:"elapsed_ms"`
	ActiveVUs  int64     `json:"active_vus"`
	Iterations int64     `json:"iterations"`
	Requests   int64     `json:"requests"`
	RPS        float64   `json:"rps"`
	ErrorRate  float64   `json:"error_rate"`
	P50Ms      float64   `json:"p50_ms"`
	P90Ms      float64   `json:"p90_ms"`
	P95Ms      float64   `json:"p95_ms"`
	P99Ms      float64   `json:"p99_ms"`
	MaxMs      float64   `json:"max_ms"`
}

// liveWindow accumulates http_req_* samples between two rotations.
type liveWindow struct {
	mu      sync.Mutex
	hist    *hdrhistogram.Histogram
	failed  int64
	samples int64
	started time.Time
}

func newLiveWindow() *liveWindow {
	return &liveWindow{
		hist:    hdrhistogram.New(liveLowest, liveHighest, liveSigFigs),
		started: time.Now(),
	}
}

func (w *liveWindow) observe(s metrics.Sample) {
	switch s.Metric.Name {
	case metrics.HTTPReqDurationName:
		us := int64(s.Value * 1000)
		if us < liveLowest {
			us = liveLowest
		}
		if us > liveHighest {
			us = liveHighest
		}
		w.mu.Lock()
		_ = w.hist.RecordValue(us)
		w.mu.Unlock()
	case metrics.HTTPReqFailedName:
		w.mu.Lock()
		w.samples++
		if s.Value != 0 {
			w.failed++
		}
		w.mu.Unlock()
	}
}

// rotate drains the window into a Snapshot and starts a fresh one.
func (w *liveWindow) rotate(now time.Time) Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := Snapshot{Timestamp: now, Requests: w.hist.TotalCount()}
	if secs := now.Sub(w.started).Seconds(); secs > 0 {
		snap.RPS = float64(snap.Requests) / secs
	}
	if w.samples > 0 {
		snap.ErrorRate = float64(w.failed) / float64(w.samples)
	}
	if snap.Requests > 0 {
		snap.P50Ms = float64(w.hist.ValueAtQuantile(50)) / 1000
		snap.P90Ms = float64(w.hist.ValueAtQuantile(90)) / 1000
		snap.P95Ms = float64(w.hist.ValueAtQuantile(95)) / 1000
		snap.P99Ms = float64(w.hist.ValueAtQuantile(99)) / 1000
		snap.MaxMs = float64(w.hist.Max()) / 1000
	}

	w.hist.Reset()
	w.failed = 0
	w.samples = 0
	w.started = now
	return snap
}

// StartSnapshots rotates the live window every interval until StopSnapshots.
func (me *MetricsEngine) StartSnapshots(interval time.Duration, getVUs, getIterations func() int64) {
	if interval <= 0 {
		interval = defaultSnapshotInterval
	}

	me.snapshotMu.Lock()
	if me.snapshotStop != nil {
		me.snapshotMu.Unlock()
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	me.snapshotStop = stop
	me.snapshotDone = done
	me.snapshotMu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				me.takeSnapshot(now, getVUs, getIterations)
			case <-stop:
				return
			}
		}
	}()
}

// StopSnapshots stops the snapshot goroutine started by StartSnapshots.
func (me *MetricsEngine) StopSnapshots() {
	me.snapshotMu.Lock()
	stop, done := me.snapshotStop, me.snapshotDone
	me.snapshotStop, me.snapshotDone = nil, nil
	me.snapshotMu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}

func (me *MetricsEngine) takeSnapshot(now time.Time, getVUs, getIterations func() int64) Snapshot {
	snap := me.live.rotate(now)
	snap.ElapsedMs = now.Sub(me.startTime).Milliseconds()
	if getVUs != nil {
		snap.ActiveVUs = getVUs()
	}
	if getIterations != nil {
		snap.Iterations = getIterations()
	}

	me.snapshotMu.Lock()
	me.timeSeries = append(me.timeSeries, snap)
	me.snapshotMu.Unlock()
	return snap
}

// LatestSnapshot returns the most recent snapshot, if any.
func (me *MetricsEngine) LatestSnapshot() (Snapshot, bool) {
	me.snapshotMu.Lock()
	defer me.snapshotMu.Unlock()
	if len(me.timeSeries) == 0 {
		return Snapshot{}, false
	}
	return me.timeSeries[len(me.timeSeries)-1], true
}

// TimeSeries returns a copy of every snapshot taken so far.
func (me *MetricsEngine) TimeSeries() []Snapshot {
	me.snapshotMu.Lock()
	defer me.snapshotMu.Unlock()
	out := make([]Snapshot, len(me.timeSeries))
	copy(out, me.timeSeries)
	return out
}
