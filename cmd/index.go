package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/aiop/internal/config"
	"github.com/fakeyudi/aiop/internal/export"
	"github.com/fakeyudi/aiop/internal/index"
)

var migrateDryRun bool

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Maintain the run index",
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Normalize prefixed manifest hashes in index files",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig(cmd)
		if err != nil {
			return &exitError{code: export.ExitCode(err, nil), err: err}
		}
		rep, err := index.Migrate(export.IndexDir(cfg), migrateDryRun)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, f := range rep.Files {
			if f.Modified == 0 && f.Skipped == 0 {
				continue
			}
			fmt.Fprintf(out, "%s: %d of %d lines", f.Path, f.Modified, f.Lines)
			if f.Skipped > 0 {
				fmt.Fprintf(out, " (%d undecodable, left as is)", f.Skipped)
			}
			fmt.Fprintln(out)
		}
		verb := "modified"
		if rep.DryRun {
			verb = "would be modified"
		}
		fmt.Fprintf(out, "%d lines in %d files %s\n", rep.Modified, len(rep.Files), verb)
		return nil
	},
}

func init() {
	addConfigFlags(migrateCmd.Flags(), config.KeyOutputDir, config.KeyIndexDir)
	migrateCmd.Flags().BoolVar(&migrateDryRun, "dry-run", false, "report changes without writing")
	indexCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(indexCmd)
}
