package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"yqhp/load-harness/internal/config"
	"yqhp/load-harness/internal/output/summary"
	"yqhp/load-harness/internal/scenario"
	"yqhp/load-harness/internal/scenario/scylla"
	"yqhp/load-harness/pkg/logger"
	"yqhp/load-harness/pkg/runner"
)

// runFlags 是 run 命令的 flags
type runFlags struct {
	baseURL       string
	vus           int
	duration      time.Duration
	iterations    int64
	stages        []string
	thresholds    []string
	delay         time.Duration
	gracefulStop  time.Duration
	mode          string
	backend       string
	http2         bool
	maxRPS        float64
	timeout       time.Duration
	outputs       []string
	apiAddr       string
	historyDB     string
	summaryExport string
}

func newRunCmd() *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run [suite|scenario]",
		Short: "执行压测场景",
		Long: `执行一个压测套件或场景。不指定时运行默认场景 task.default。

支持的执行模式：
  - ramping-vus: 按阶段调整虚拟用户数（套件默认）
  - constant-vus: 固定虚拟用户数持续一段时间
  - per-vu-iterations: 每个 VU 执行固定迭代次数

配置优先级：默认值 < 套件推荐 < 配置文件 < LH_* 环境变量 < 命令行参数`,
		Example: `  # 运行 task 套件（默认阶段 30s:5, 1m:10, 30s:0）
  load-harness run task

  # 指定单个场景和目标地址
  load-harness run person.simple --base-url http://localhost:8080

  # 固定 10 个 VU 运行 30 秒
  load-harness run task -u 10 -d 30s

  # 自定义阶段和阈值
  load-harness run person --stage 10s:5 --stage 20s:0 --threshold 'http_req_duration=p(95)<300'

  # 输出样本并开启控制 API
  load-harness run task --out json=samples.json --api-addr :6565`,
		Args: cobra.MaximumNArgs(1),
		RunE: f.run,
	}
	f.register(cmd.Flags())
	return cmd
}

func (f *runFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.baseURL, "base-url", "", "被测服务地址 (默认 http://localhost:8080)")
	fs.IntVarP(&f.vus, "vus", "u", 0, "虚拟用户数")
	fs.DurationVarP(&f.duration, "duration", "d", 0, "测试持续时间")
	fs.Int64VarP(&f.iterations, "iterations", "i", 0, "每个 VU 的迭代次数")
	fs.StringArrayVar(&f.stages, "stage", nil, "加压阶段 duration:target，可多次指定")
	fs.StringArrayVar(&f.thresholds, "threshold", nil, "阈值 metric=expression，可多次指定")
	fs.DurationVar(&f.delay, "delay", 0, "每次迭代结束后的等待时间")
	fs.DurationVar(&f.gracefulStop, "graceful-stop", 0, "停止后等待进行中迭代的最长时间")
	fs.StringVar(&f.mode, "mode", "", "执行模式 (ramping-vus, constant-vus, per-vu-iterations)")
	fs.StringVar(&f.backend, "backend", "", "HTTP 客户端实现 (std, fasthttp)")
	fs.BoolVar(&f.http2, "http2", false, "std 客户端启用 HTTP/2")
	fs.Float64Var(&f.maxRPS, "max-rps", 0, "全局每秒请求数上限，0 表示不限制")
	fs.DurationVar(&f.timeout, "timeout", 0, "单个请求超时时间")
	fs.StringArrayVarP(&f.outputs, "out", "o", nil, "指标输出目标 type=arg，可多次指定 (json, prometheus)")
	fs.StringVar(&f.apiAddr, "api-addr", "", "控制 API 监听地址，为空时不启动")
	fs.StringVar(&f.historyDB, "history-db", "", "运行历史 sqlite 数据库路径")
	fs.StringVar(&f.summaryExport, "summary-export", "", "把最终报告写入 JSON 文件")
}

// cmdArgs 把显式设置的 flag 转换为配置路径覆盖
func (f *runFlags) cmdArgs(fs *pflag.FlagSet) map[string]string {
	args := make(map[string]string)
	set := func(flag, key, value string) {
		if fs.Changed(flag) {
			args[key] = value
		}
	}
	set("base-url", "base_url", f.baseURL)
	set("vus", "run.vus", strconv.Itoa(f.vus))
	set("duration", "run.duration", f.duration.String())
	set("iterations", "run.iterations", strconv.FormatInt(f.iterations, 10))
	set("stage", "run.stages", strings.Join(f.stages, ","))
	set("delay", "run.iteration_delay", f.delay.String())
	set("graceful-stop", "run.graceful_stop", f.gracefulStop.String())
	set("mode", "run.mode", f.mode)
	set("backend", "http.backend", f.backend)
	set("http2", "http.http2", strconv.FormatBool(f.http2))
	set("max-rps", "http.max_rps", strconv.FormatFloat(f.maxRPS, 'f', -1, 64))
	set("timeout", "http.timeout", f.timeout.String())
	set("threshold", "thresholds", strings.Join(f.thresholds, ","))
	set("out", "outputs", strings.Join(f.outputs, ","))
	set("api-addr", "api.addr", f.apiAddr)
	set("history-db", "history.db_path", f.historyDB)
	set("summary-export", "summary_export", f.summaryExport)
	set("quiet", "quiet", strconv.FormatBool(quiet))
	if debug {
		args["logging.level"] = "debug"
	}
	return args
}

func (f *runFlags) run(cmd *cobra.Command, args []string) error {
	reg, err := scylla.NewRegistry()
	if err != nil {
		return err
	}
	selector := ""
	if len(args) > 0 {
		selector = args[0]
	}
	s, suite, err := reg.Resolve(selector)
	if err != nil {
		return err
	}

	cfg, err := config.NewLoader().
		WithSuiteOptions(scenario.RecommendedOptions(s, suite)).
		WithConfigPath(cfgFile).
		WithCmdArgs(f.cmdArgs(cmd.Flags())).
		Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logCfg := cfg.Logging
	if cfg.Quiet && !debug {
		logCfg.Level = "warn"
	}
	logger.Init(&logCfg)
	defer logger.Sync()

	// 创建可取消的上下文
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 处理关闭信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	out := cmd.OutOrStdout()
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(out, "\n正在中止测试，等待进行中的迭代结束...")
			cancel()
		case <-ctx.Done():
		}
	}()

	opts := runner.Options{
		Config:   cfg,
		Scenario: s,
		Suite:    suite,
		Logger:   logger.Named("runner"),
	}

	var printer *progressPrinter
	if !cfg.Quiet {
		printRunInfo(out, cfg, s)
		printer = &progressPrinter{w: out}
		opts.OnProgress = printer.update
	}

	res, runErr := runner.Run(ctx, opts)
	if printer != nil {
		printer.clear()
	}
	if res != nil {
		if err := summary.Write(out, res.Report, res.Failures); err != nil {
			return err
		}
	}
	return runErr
}

func printRunInfo(w io.Writer, cfg *config.Config, s scenario.Scenario) {
	fmt.Fprintf(w, Banner, Version)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  场景: %s\n", s.Name)
	if s.Description != "" {
		fmt.Fprintf(w, "  描述: %s\n", s.Description)
	}
	fmt.Fprintf(w, "  目标: %s\n", cfg.BaseURL)
	fmt.Fprintf(w, "  执行模式: %s\n", cfg.Run.ExecutionMode())
	switch {
	case len(cfg.Run.Stages) > 0:
		stages := make([]string, len(cfg.Run.Stages))
		for i, st := range cfg.Run.Stages {
			stages[i] = st.String()
		}
		fmt.Fprintf(w, "  阶段: %s\n", strings.Join(stages, ", "))
	case cfg.Run.Duration > 0:
		fmt.Fprintf(w, "  虚拟用户数: %d  持续时间: %s\n", cfg.Run.VUs, cfg.Run.Duration)
	default:
		fmt.Fprintf(w, "  虚拟用户数: %d  迭代次数: %d\n", cfg.Run.VUs, cfg.Run.EffectiveIterations())
	}
	if len(cfg.Thresholds) > 0 {
		fmt.Fprintf(w, "  阈值: %d 项\n", len(cfg.Thresholds))
	}
	if cfg.API.Addr != "" {
		fmt.Fprintf(w, "  控制 API: %s\n", cfg.API.Addr)
	}
	fmt.Fprintln(w)
}

// progressPrinter 在同一行刷新运行进度
type progressPrinter struct {
	w       io.Writer
	printed bool
}

func (p *progressPrinter) update(pr runner.Progress) {
	line := fmt.Sprintf("  %-8s %-12s VUs %d/%d  迭代 %d",
		pr.Elapsed.Round(time.Second), pr.Phase, pr.VUs, pr.TargetVUs, pr.Iterations)
	if pr.Live.Requests > 0 {
		line += fmt.Sprintf("  RPS %.1f  p95 %.1fms  失败 %.1f%%", pr.Live.RPS, pr.Live.P95Ms, pr.Live.ErrorRate*100)
	}
	fmt.Fprintf(p.w, "\r\033[K%s", line)
	p.printed = true
}

func (p *progressPrinter) clear() {
	if !p.printed {
		return
	}
	fmt.Fprint(p.w, "\r\033[K")
	p.printed = false
}
