package cmd

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fakeyudi/aiop/internal/config"
	"github.com/fakeyudi/aiop/internal/export"
)

var outputPath string

var exportCmd = &cobra.Command{
	Use:   "export <session-dir>",
	Short: "Export a session directory as an AIOP report",
	Long: `Export reads events.jsonl, metrics.jsonl and artifacts/ from a session
directory and writes one bounded, redacted report.

Exit codes: 0 ok, 1 failure, 2 session not found, 3 config error,
4 report truncated, 5 parse error, 6 redaction failure.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig(cmd)
		if err != nil {
			return &exitError{code: export.ExitCode(err, nil), err: err}
		}
		res, err := exportOnce(cmd.Context(), cmd, args[0], cfg)
		if code := export.ExitCode(err, res); code != export.ExitOK {
			return &exitError{code: code, err: err}
		}
		return nil
	},
}

// exportOnce runs one export with its own export_id and prints the report
// path on success.
func exportOnce(ctx context.Context, cmd *cobra.Command, dir string, cfg *config.Resolved) (*export.Result, error) {
	logger := log.With().
		Str("export_id", uuid.New().String()).
		Str("session_dir", dir).
		Logger()
	res, err := export.Run(ctx, export.Options{
		SessionDir: dir,
		Config:     cfg,
		OutputPath: outputPath,
		Observer:   export.LogObserver{Logger: logger},
	})
	if res != nil {
		fmt.Fprintln(cmd.OutOrStdout(), res.CorePath)
	}
	return res, err
}

func init() {
	addConfigFlags(exportCmd.Flags(), config.Keys...)
	exportCmd.Flags().StringVarP(&outputPath, "output", "o", "", "core report path (default <output dir>/<session id>/aiop.<format>)")
	rootCmd.AddCommand(exportCmd)
}
