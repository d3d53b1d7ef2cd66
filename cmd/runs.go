package cmd

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/fakeyudi/aiop/internal/config"
	"github.com/fakeyudi/aiop/internal/export"
	"github.com/fakeyudi/aiop/internal/index"
)

var runsPipeline string

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List exported runs from the index",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig(cmd)
		if err != nil {
			return &exitError{code: export.ExitCode(err, nil), err: err}
		}
		mgr := &index.Manager{Dir: export.IndexDir(cfg)}
		runs, err := mgr.Runs(runsPipeline)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no runs recorded")
			return nil
		}

		tw := table.NewWriter()
		tw.SetOutputMirror(cmd.OutOrStdout())
		tw.SetStyle(table.StyleRounded)
		tw.AppendHeader(table.Row{"Timestamp", "Session", "Pipeline", "Status", "Manifest", "Report"})
		tw.SetColumnConfigs([]table.ColumnConfig{
			{Number: 4, Align: text.AlignCenter, AlignHeader: text.AlignCenter},
		})
		for _, r := range runs {
			tw.AppendRow(table.Row{r.Timestamp, r.SessionID, orDash(r.PipelineName), r.Status, shortHash(r.ManifestHash), r.CorePath})
		}
		tw.Render()
		return nil
	},
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	addConfigFlags(runsCmd.Flags(), config.KeyOutputDir, config.KeyIndexDir)
	runsCmd.Flags().StringVar(&runsPipeline, "pipeline", "", "only runs of this pipeline")
	rootCmd.AddCommand(runsCmd)
}
