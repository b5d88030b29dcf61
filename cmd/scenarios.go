package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"yqhp/load-harness/internal/scenario"
	"yqhp/load-harness/internal/scenario/scylla"
)

func newScenariosCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "scenarios",
		Aliases: []string{"ls"},
		Short:   "列出所有套件和场景",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := scylla.NewRegistry()
			if err != nil {
				return err
			}
			printScenarios(cmd.OutOrStdout(), reg)
			return nil
		},
	}
}

func printScenarios(w io.Writer, reg *scenario.Registry) {
	fmt.Fprintln(w, "套件:")
	for _, s := range reg.Suites() {
		fmt.Fprintf(w, "  %-10s %-28s %s\n", s.Name, s.Default+" (默认)", describeOptions(s.Options))
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "场景:")
	def := reg.DefaultName()
	for _, s := range reg.List() {
		marker := " "
		if s.Name == def {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %-28s %s\n", marker, s.Name, s.Description)
	}
}

func describeOptions(o scenario.Options) string {
	var parts []string
	switch {
	case len(o.Stages) > 0:
		stages := make([]string, len(o.Stages))
		for i, st := range o.Stages {
			stages[i] = st.String()
		}
		parts = append(parts, "stages "+strings.Join(stages, ","))
	case o.VUs > 0:
		parts = append(parts, fmt.Sprintf("%d VU", o.VUs))
		if o.Duration > 0 {
			parts = append(parts, o.Duration.String())
		}
	}
	if len(o.Thresholds) > 0 {
		parts = append(parts, fmt.Sprintf("%d thresholds", len(o.Thresholds)))
	}
	return strings.Join(parts, ", ")
}
