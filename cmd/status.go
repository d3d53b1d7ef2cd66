package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/aiop/internal/config"
	"github.com/fakeyudi/aiop/internal/export"
	"github.com/fakeyudi/aiop/internal/index"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the most recently exported run",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig(cmd)
		if err != nil {
			return &exitError{code: export.ExitCode(err, nil), err: err}
		}
		mgr := &index.Manager{Dir: export.IndexDir(cfg)}
		r, err := mgr.Latest()
		if err != nil {
			if errors.Is(err, index.ErrNoRuns) {
				fmt.Fprintln(cmd.OutOrStdout(), "no runs recorded")
				return nil
			}
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Session: %s\n", r.SessionID)
		fmt.Fprintf(out, "Pipeline: %s\n", orDash(r.PipelineName))
		fmt.Fprintf(out, "Status: %s\n", r.Status)
		fmt.Fprintf(out, "Exported: %s\n", r.Timestamp)
		fmt.Fprintf(out, "Manifest: %s\n", r.ManifestHash)
		fmt.Fprintf(out, "Report: %s\n", r.CorePath)
		return nil
	},
}

func init() {
	addConfigFlags(statusCmd.Flags(), config.KeyOutputDir, config.KeyIndexDir)
	rootCmd.AddCommand(statusCmd)
}
