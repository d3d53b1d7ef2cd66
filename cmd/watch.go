package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fakeyudi/aiop/internal/config"
	"github.com/fakeyudi/aiop/internal/export"
	"github.com/fakeyudi/aiop/internal/session"
	"github.com/fakeyudi/aiop/internal/watch"
)

var watchDebounce time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch <session-dir>",
	Short: "Re-export a session every time its logs change",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := args[0]
		cfg, err := resolveConfig(cmd)
		if err != nil {
			return &exitError{code: export.ExitCode(err, nil), err: err}
		}
		if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
			err = fmt.Errorf("%w: %s", session.ErrSessionNotFound, dir)
			return &exitError{code: export.ExitNotFound, err: err}
		}

		w := &watch.Watcher{
			Dir:      dir,
			Debounce: watchDebounce,
			Run: func(ctx context.Context) error {
				_, err := exportOnce(ctx, cmd, dir, cfg)
				return err
			},
			OnError: func(err error) {
				log.Warn().Err(err).Str("session_dir", dir).Msg("watch")
			},
		}
		log.Info().Str("session_dir", dir).Msg("watching session, interrupt to stop")
		return w.Watch(cmd.Context())
	},
}

func init() {
	addConfigFlags(watchCmd.Flags(), config.Keys...)
	watchCmd.Flags().StringVarP(&outputPath, "output", "o", "", "core report path (default <output dir>/<session id>/aiop.<format>)")
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", watch.DefaultDebounce, "quiet period before re-exporting")
	rootCmd.AddCommand(watchCmd)
}
