package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"yqhp/load-harness/internal/config"
	"yqhp/load-harness/internal/history"
)

func newHistoryCmd() *cobra.Command {
	var (
		dbPath string
		suite  string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "列出历史运行记录",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dbPath == "" {
				cfg, err := config.NewLoader().WithConfigPath(cfgFile).Load()
				if err != nil {
					return err
				}
				dbPath = cfg.History.DBPath
			}
			if dbPath == "" {
				return fmt.Errorf("未配置历史数据库: 使用 --history-db 或 LH_HISTORY_DB")
			}

			store, err := history.Open(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.List(cmd.Context(), history.ListOptions{Suite: suite, Limit: limit})
			if err != nil {
				return err
			}
			printHistory(cmd.OutOrStdout(), runs)
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "history-db", "", "运行历史 sqlite 数据库路径")
	cmd.Flags().StringVar(&suite, "suite", "", "只显示指定套件")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "最多显示的记录数，0 表示全部")
	return cmd
}

func printHistory(w io.Writer, runs []history.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "没有历史记录")
		return
	}
	fmt.Fprintf(w, "%-36s  %-20s  %-26s  %10s  %10s  %10s  %10s  %s\n",
		"RUN", "STARTED", "SCENARIO", "DURATION", "ITERATIONS", "REQUESTS", "P95", "STATUS")
	for _, r := range runs {
		fmt.Fprintf(w, "%-36s  %-20s  %-26s  %10s  %10d  %10d  %8.1fms  %s\n",
			r.ID,
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Scenario,
			r.Duration.Round(time.Second),
			r.Iterations,
			r.Requests,
			r.P95Ms,
			r.Status())
	}
}
