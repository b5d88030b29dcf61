// Package runner provides the single execution entry point for a load run,
// following k6's cmd/run.go pattern.
//
// Pipeline: Scenario → execution.Mode → httpclient/check → MetricsEngine
//
//	→ samplesChan → output.Manager → [json, prometheus, summary]
package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"yqhp/load-harness/api/rest"
	"yqhp/load-harness/internal/check"
	"yqhp/load-harness/internal/config"
	"yqhp/load-harness/internal/execution"
	"yqhp/load-harness/internal/history"
	"yqhp/load-harness/internal/httpclient"
	"yqhp/load-harness/internal/metrics/engine"
	"yqhp/load-harness/internal/output/summary"
	"yqhp/load-harness/internal/scenario"
	"yqhp/load-harness/pkg/controlsurface"
	"yqhp/load-harness/pkg/output"
	"yqhp/load-harness/pkg/types"
)

// defaultPollInterval 进度回调与实时快照的默认周期
const defaultPollInterval = time.Second

// ErrThresholdsFailed is matched by errors.Is on a ThresholdsFailedError.
var ErrThresholdsFailed = errors.New("thresholds failed")

// ThresholdsFailedError is returned by Run when the run finished but at
// least one threshold did not pass.
type ThresholdsFailedError struct {
	Failed []types.ThresholdResult
	Total  int
}

func (e *ThresholdsFailedError) Error() string {
	names := make([]string, 0, len(e.Failed))
	for _, th := range e.Failed {
		names = append(names, th.Metric+" "+th.Condition)
	}
	return fmt.Sprintf("%d/%d thresholds failed: %s", len(e.Failed), e.Total, strings.Join(names, ", "))
}

func (e *ThresholdsFailedError) Unwrap() error { return ErrThresholdsFailed }

// Progress is passed to Options.OnProgress while the run is in progress.
type Progress struct {
	Elapsed    time.Duration
	Phase      execution.Phase
	VUs        int
	TargetVUs  int
	Iterations int64
	// Live is the latest interval snapshot; zero until the first one.
	Live engine.Snapshot
}

// Options configures a run.
type Options struct {
	// Config is the validated run configuration (required).
	Config *config.Config

	// Scenario to execute (required). Suite is the suite it was resolved
	// through, nil when selected by full name.
	Scenario scenario.Scenario
	Suite    *scenario.Suite

	Logger *zap.Logger

	// Modes defaults to execution.DefaultRegistry.
	Modes *execution.Registry

	// OnProgress is called every PollInterval until the scheduler finishes.
	OnProgress func(Progress)

	// PollInterval defaults to one second.
	PollInterval time.Duration

	// OnStart is called once the control surface is ready, before the first
	// iteration. Tests use it to drive the control API.
	OnStart func(cs *controlsurface.ControlSurface)
}

// Result contains the outcome of a run.
type Result struct {
	RunID    string
	Status   string
	Report   *engine.Report
	Failures []summary.Failure
	PeakVUs  int
}

// Run executes one scenario through the full pipeline and blocks until the
// scheduler has drained and every output is flushed. Cancelling ctx aborts
// the run gracefully; the partial report is still returned.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.Scenario.Fn == nil {
		return nil, fmt.Errorf("scenario is required")
	}
	cfg := opts.Config
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	modes := opts.Modes
	if modes == nil {
		modes = execution.DefaultRegistry
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}

	runID := uuid.NewString()
	log = log.With(zap.String("run_id", runID), zap.String("scenario", opts.Scenario.Name))

	me := engine.NewMetricsEngine(nil)
	if err := me.InitThresholds([]types.Threshold(cfg.Thresholds)); err != nil {
		return nil, fmt.Errorf("初始化阈值失败: %w", err)
	}

	mode, err := modes.GetOrDefault(cfg.Run.ExecutionMode())
	if err != nil {
		return nil, err
	}

	client, err := httpclient.New(httpclient.Config{
		BaseURL:            cfg.BaseURL,
		Timeout:            cfg.HTTP.Timeout,
		Backend:            cfg.HTTP.Backend,
		HTTP2:              cfg.HTTP.HTTP2,
		MaxRPS:             cfg.HTTP.MaxRPS,
		MaxConnsPerHost:    cfg.HTTP.MaxConnsPerHost,
		InsecureSkipVerify: cfg.HTTP.InsecureSkipVerify,
		UserAgent:          cfg.HTTP.UserAgent,
		Headers:            cfg.HTTP.Headers,
	}, me, me.Builtin)
	if err != nil {
		return nil, fmt.Errorf("创建 HTTP 客户端失败: %w", err)
	}
	defer client.Close()

	outs, err := output.CreateOutputs(ctx, outputArgs(cfg), output.Params{
		Logger:   log,
		RunID:    runID,
		Scenario: opts.Scenario.Name,
		Tags:     cfg.Tags,
	})
	if err != nil {
		return nil, err
	}
	sum := summary.New()
	outs = append(outs, sum)

	mgr := output.NewManager(outs, log)
	samples := output.NewSamplesChannel(0)
	_, finish, err := mgr.Start(samples)
	if err != nil {
		return nil, fmt.Errorf("启动输出失败: %w", err)
	}
	me.SetOutput(samples)

	modeCfg := &execution.ModeConfig{
		VUs:            cfg.Run.VUs,
		Duration:       cfg.Run.Duration,
		Iterations:     int(cfg.Run.EffectiveIterations()),
		Stages:         cfg.Run.Stages,
		IterationDelay: cfg.Run.IterationDelay,
		GracefulStop:   cfg.Run.GracefulStop,
		IterationFunc: scenario.Bind(opts.Scenario, scenario.Deps{
			Client:  client,
			Checker: check.New(me, me.Builtin.Errors, log),
			Logger:  log,
		}),
		Recorder: me,
		Metrics:  me.Builtin,
		Logger:   log,
	}
	maxVUs := cfg.Run.VUs
	if mode.Name() == types.ModeRampingVUs {
		maxVUs = types.MaxTarget(cfg.Run.Stages)
	}

	g, gctx := errgroup.WithContext(ctx)
	runCtx, stopRun := context.WithCancel(gctx)
	defer stopRun()
	done := make(chan struct{})

	var stopRequested atomic.Bool
	start := time.Now()
	me.MarkStart(start)

	cs := &controlsurface.ControlSurface{
		GetStatus: func() *controlsurface.Status {
			return statusOf(runID, opts.Scenario.Name, mode, maxVUs)
		},
		GetMetrics: func() *controlsurface.Metrics {
			return metricsOf(me, time.Since(start))
		},
		StopExecution: func() error {
			stopRequested.Store(true)
			stopRun()
			return nil
		},
	}
	if h, ok := mgr.Handler(); ok {
		cs.MetricsHandler = h.Handler()
	}

	if cfg.API.Addr != "" {
		apiCfg := rest.DefaultConfig()
		apiCfg.Address = cfg.API.Addr
		server := rest.NewServer(cs, apiCfg, log)
		apiCtx, stopAPI := context.WithCancel(gctx)
		go func() {
			<-done
			stopAPI()
		}()
		g.Go(func() error {
			log.Info("控制 API 已启动", zap.String("addr", cfg.API.Addr))
			return server.StartWithContext(apiCtx)
		})
	}

	me.StartSnapshots(poll, func() int64 {
		return int64(mode.GetState().ActiveVUs)
	}, func() int64 {
		return mode.GetState().CompletedIterations
	})

	if opts.OnProgress != nil {
		g.Go(func() error {
			reportProgress(done, poll, mode, me, opts.OnProgress)
			return nil
		})
	}

	if opts.OnStart != nil {
		opts.OnStart(cs)
	}

	log.Info("压测开始",
		zap.String("mode", string(mode.Name())),
		zap.String("base_url", cfg.BaseURL),
		zap.Int("max_vus", maxVUs))

	g.Go(func() error {
		defer close(done)
		return mode.Run(runCtx, modeCfg)
	})
	runErr := g.Wait()

	me.CloseOutput()
	duration := time.Since(start)
	report := me.Finalize(duration)
	report.RunID = runID
	report.Scenario = opts.Scenario.Name
	report.StartTime = start
	report.Aborted = ctx.Err() != nil || stopRequested.Load()

	state := mode.GetState()
	status := runStatus(report, runErr)
	finish(output.RunStatus{
		Duration:   duration.Seconds(),
		Iterations: state.CompletedIterations,
		VUs:        state.PeakVUs,
		Status:     status,
		Error:      runErr,
	})

	result := &Result{
		RunID:    runID,
		Status:   status,
		Report:   report,
		Failures: sum.Failures(),
		PeakVUs:  state.PeakVUs,
	}
	log.Info("压测结束",
		zap.String("status", status),
		zap.Duration("duration", duration),
		zap.Int64("iterations", state.CompletedIterations),
		zap.Bool("passed", report.Passed))

	if runErr != nil {
		return result, fmt.Errorf("执行失败: %w", runErr)
	}
	if err := persist(ctx, cfg, opts.Suite, report, log); err != nil {
		return result, err
	}
	if !report.Passed {
		return result, &ThresholdsFailedError{Failed: report.FailedThresholds(), Total: len(report.Thresholds)}
	}
	return result, nil
}

// outputArgs 返回 --out 列表；开启控制 API 时没有 prometheus 输出则自动追加一个
func outputArgs(cfg *config.Config) []string {
	args := append([]string(nil), cfg.Outputs...)
	if cfg.API.Addr == "" {
		return args
	}
	for _, a := range args {
		if typ, _, err := output.ParseArgument(a); err == nil && typ == "prometheus" {
			return args
		}
	}
	return append(args, "prometheus")
}

func runStatus(report *engine.Report, err error) string {
	switch {
	case report.Aborted:
		return output.StatusAborted
	case err != nil, !report.Passed:
		return output.StatusFailed
	default:
		return output.StatusCompleted
	}
}

// persist writes the summary export and the history row.
func persist(ctx context.Context, cfg *config.Config, suite *scenario.Suite, report *engine.Report, log *zap.Logger) error {
	if cfg.SummaryExport != "" {
		if err := report.WriteJSON(cfg.SummaryExport); err != nil {
			return fmt.Errorf("写入汇总报告失败: %w", err)
		}
		log.Info("汇总报告已写入", zap.String("path", cfg.SummaryExport))
	}

	if cfg.History.DBPath == "" {
		return nil
	}
	store, err := history.Open(cfg.History.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	suiteName := ""
	if suite != nil {
		suiteName = suite.Name
	} else if name, _, ok := strings.Cut(report.Scenario, "."); ok {
		suiteName = name
	}
	return store.Save(context.WithoutCancel(ctx), history.FromReport(report, suiteName))
}

func statusOf(runID, scenarioName string, mode execution.Mode, maxVUs int) *controlsurface.Status {
	st := mode.GetState()
	state := controlsurface.StateStarting
	switch {
	case st.Running:
		state = controlsurface.StateRunning
	case st.Phase.Kind == execution.PhaseCompleted:
		state = controlsurface.StateFinished
	}
	return &controlsurface.Status{
		RunID:      runID,
		Scenario:   scenarioName,
		Mode:       string(mode.Name()),
		State:      state,
		Phase:      st.Phase.String(),
		Running:    st.Running,
		VUs:        int64(st.ActiveVUs),
		TargetVUs:  int64(st.TargetVUs),
		MaxVUs:     int64(maxVUs),
		Iterations: st.CompletedIterations,
		StartTime:  st.StartTime,
		ElapsedMs:  st.ElapsedTime.Milliseconds(),
	}
}

func metricsOf(me *engine.MetricsEngine, elapsed time.Duration) *controlsurface.Metrics {
	m := &controlsurface.Metrics{
		ElapsedMs: elapsed.Milliseconds(),
		Metrics:   me.GetAggregatedStats(elapsed),
	}
	if snap, ok := me.LatestSnapshot(); ok {
		m.Live = &controlsurface.LiveStats{
			Timestamp: snap.Timestamp,
			RPS:       snap.RPS,
			ErrorRate: snap.ErrorRate,
			P50Ms:     snap.P50Ms,
			P90Ms:     snap.P90Ms,
			P95Ms:     snap.P95Ms,
			P99Ms:     snap.P99Ms,
			MaxMs:     snap.MaxMs,
		}
	}
	return m
}

func reportProgress(done <-chan struct{}, interval time.Duration, mode execution.Mode, me *engine.MetricsEngine, fn func(Progress)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			st := mode.GetState()
			p := Progress{
				Elapsed:    st.ElapsedTime,
				Phase:      st.Phase,
				VUs:        st.ActiveVUs,
				TargetVUs:  st.TargetVUs,
				Iterations: st.CompletedIterations,
			}
			if snap, ok := me.LatestSnapshot(); ok {
				p.Live = snap
			}
			fn(p)
		}
	}
}
