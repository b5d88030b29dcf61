package execution

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"yqhp/load-harness/pkg/metrics"
)

// worker is one running VU. A retiring worker exits at its next iteration
// boundary unless scale brings it back first.
type worker struct {
	id       int
	retiring bool
}

// vuPool runs VU goroutines and adjusts their count cooperatively: a VU
// is never interrupted mid-iteration by a ramp-down. Iterations share a
// context detached from the run context which is cancelled only when the
// graceful stop period expires.
type vuPool struct {
	cfg     *ModeConfig
	log     *zap.Logger
	maxIter int64 // 每个 VU 的迭代上限，0 表示不限

	iterCtx    context.Context
	cancelIter context.CancelFunc

	mu       sync.Mutex
	workers  map[int]*worker
	stopping bool
	peakVUs  int

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	iterations atomic.Int64
}

func newVUPool(ctx context.Context, cfg *ModeConfig, maxIter int64) *vuPool {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	iterCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &vuPool{
		cfg:        cfg,
		log:        log,
		maxIter:    maxIter,
		iterCtx:    iterCtx,
		cancelIter: cancel,
		workers:    make(map[int]*worker),
		stopCh:     make(chan struct{}),
	}
}

// scale moves the live (non-retiring) VU count to target. Retiring VUs are
// revived before new ones start; surplus VUs retire highest id first.
func (p *vuPool) scale(target int) {
	if target < 0 {
		target = 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopping {
		return
	}

	live := 0
	for _, w := range p.workers {
		if !w.retiring {
			live++
		}
	}

	if live < target {
		for _, w := range p.sortedWorkers(false) {
			if live == target {
				break
			}
			if w.retiring {
				w.retiring = false
				live++
			}
		}
		for live < target {
			p.startLocked(p.freeIDLocked())
			live++
		}
	}

	if live > target {
		for _, w := range p.sortedWorkers(true) {
			if live == target {
				break
			}
			if !w.retiring {
				w.retiring = true
				live--
			}
		}
	}
}

// sortedWorkers returns workers by id, descending when desc is set.
func (p *vuPool) sortedWorkers(desc bool) []*worker {
	out := make([]*worker, 0, len(p.workers))
	maxID := 0
	for id := range p.workers {
		if id > maxID {
			maxID = id
		}
	}
	for id := 1; id <= maxID; id++ {
		if w, ok := p.workers[id]; ok {
			out = append(out, w)
		}
	}
	if desc {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

// freeIDLocked returns the lowest VU id not in use, starting at 1.
func (p *vuPool) freeIDLocked() int {
	id := 1
	for {
		if _, used := p.workers[id]; !used {
			return id
		}
		id++
	}
}

func (p *vuPool) startLocked(id int) {
	w := &worker{id: id}
	p.workers[id] = w
	if n := len(p.workers); n > p.peakVUs {
		p.peakVUs = n
	}
	p.emitVUsLocked()
	p.wg.Add(1)
	go p.run(w)
}

func (p *vuPool) emitVUsLocked() {
	if p.cfg.Recorder == nil || p.cfg.Metrics == nil {
		return
	}
	p.cfg.Recorder.AddSamples(metrics.Samples{{
		Metric: p.cfg.Metrics.VUs,
		Time:   time.Now(),
		Value:  float64(len(p.workers)),
	}})
}

// recordMax emits vus_max once for the run.
func (p *vuPool) recordMax(n int) {
	if p.cfg.Recorder == nil || p.cfg.Metrics == nil {
		return
	}
	p.cfg.Recorder.AddSamples(metrics.Samples{{
		Metric: p.cfg.Metrics.VUsMax,
		Time:   time.Now(),
		Value:  float64(n),
	}})
}

// admit decides at an iteration boundary whether w runs another iteration.
// A worker that leaves is removed in the same critical section so scale
// cannot revive it afterwards.
func (p *vuPool) admit(w *worker, done int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.stopping && !w.retiring && (p.maxIter == 0 || done < p.maxIter) {
		return true
	}
	delete(p.workers, w.id)
	p.emitVUsLocked()
	return false
}

func (p *vuPool) run(w *worker) {
	defer p.wg.Done()
	if p.cfg.OnVUStart != nil {
		p.cfg.OnVUStart(w.id)
	}
	if p.cfg.OnVUStop != nil {
		defer p.cfg.OnVUStop(w.id)
	}

	var done int64
	for p.admit(w, done) {
		p.iterate(w.id, done)
		done++

		if p.cfg.IterationDelay > 0 && (p.maxIter == 0 || done < p.maxIter) {
			t := time.NewTimer(p.cfg.IterationDelay)
			select {
			case <-t.C:
			case <-p.stopCh:
				t.Stop()
			}
		}
	}
	p.log.Debug("VU 退出", zap.Int("vu", w.id), zap.Int64("iterations", done))
}

func (p *vuPool) iterate(vuID int, iteration int64) {
	start := time.Now()
	err := p.call(vuID, iteration)
	elapsed := time.Since(start)

	// 优雅停止超时后被取消的迭代不计入统计
	if p.iterCtx.Err() != nil {
		p.log.Debug("iteration interrupted", zap.Int("vu", vuID), zap.Int64("iteration", iteration))
		return
	}

	p.iterations.Add(1)
	if p.cfg.Recorder != nil && p.cfg.Metrics != nil {
		now := time.Now()
		samples := metrics.Samples{
			{Metric: p.cfg.Metrics.Iterations, Time: now, Value: 1},
			{Metric: p.cfg.Metrics.IterationDuration, Time: now, Value: float64(elapsed) / float64(time.Millisecond)},
		}
		if err != nil {
			samples = append(samples, metrics.Sample{Metric: p.cfg.Metrics.IterationErrors, Time: now, Value: 1})
		}
		p.cfg.Recorder.AddSamples(samples)
	}
	if err != nil {
		p.log.Warn("迭代失败", zap.Int("vu", vuID), zap.Int64("iteration", iteration), zap.Error(err))
	}
	if p.cfg.OnIterationComplete != nil {
		p.cfg.OnIterationComplete(vuID, iteration, elapsed, err)
	}
}

// call runs one iteration and turns a panic into an error.
func (p *vuPool) call(vuID int, iteration int64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("iteration panicked: %v", r)
		}
	}()
	return p.cfg.IterationFunc(p.iterCtx, vuID, iteration)
}

// wait returns a channel closed once every worker has exited.
func (p *vuPool) wait() <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(ch)
	}()
	return ch
}

// drain stops admitting iterations and waits for in-flight ones. After
// grace the iteration context is cancelled and drain waits for the rest.
func (p *vuPool) drain(grace time.Duration) {
	p.mu.Lock()
	p.stopping = true
	p.mu.Unlock()
	p.stopOnce.Do(func() { close(p.stopCh) })

	done := p.wait()
	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case <-done:
	case <-t.C:
		p.log.Warn("graceful stop expired, cancelling in-flight iterations",
			zap.Duration("graceful_stop", grace), zap.Int("vus", p.running()))
		p.cancelIter()
		<-done
	}
	p.cancelIter()
}

func (p *vuPool) running() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

func (p *vuPool) peak() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peakVUs
}

func (p *vuPool) iterationCount() int64 {
	return p.iterations.Load()
}
