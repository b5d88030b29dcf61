// Package cmd 提供 load-harness CLI 的命令实现
package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"yqhp/load-harness/pkg/runner"

	// 导入所有输出插件
	_ "yqhp/load-harness/pkg/output/all"
)

const (
	// Version 是当前版本号
	Version = "0.1.0"
	// Banner 是启动时显示的 ASCII 艺术
	Banner = `
          /\      |‾‾| Load Harness %s
     /\  /  \     |  |
    /  \/    \    |  |
   /          \   |  |
  / __________ \  |__|
`
)

// 退出码
const (
	ExitOK               = 0
	ExitError            = 1
	ExitThresholdsFailed = 99
)

var (
	// 全局配置
	cfgFile string
	debug   bool
	quiet   bool
)

// rootCmd 是根命令
var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "load-harness",
		Short: "HTTP API 压测工具",
		Long: `load-harness 对 scylla 风格的 HTTP API 执行负载测试，
支持阶梯式加压、检查断言、阈值判定以及 json / prometheus 指标输出。`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// 全局 flags
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件路径")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "启用调试日志")
	root.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "静默模式，不输出 banner 和进度")

	// 禁用默认的 completion 命令
	root.CompletionOptions.DisableDefaultCmd = true

	// 自定义版本模板
	root.SetVersionTemplate(fmt.Sprintf(Banner, Version) + "\n")

	root.AddCommand(newRunCmd(), newScenariosCmd(), newHistoryCmd(), newVersionCmd())
	return root
}

// Execute 执行根命令并按错误类型退出
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(ExitCode(err))
	}
}

// ExitCode maps a command error to the process exit status: 99 when
// thresholds failed, 1 otherwise.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, runner.ErrThresholdsFailed):
		return ExitThresholdsFailed
	default:
		return ExitError
	}
}

// GetRootCmd 返回根命令（用于测试）
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "显示版本信息",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "load-harness version %s\n", Version)
}
