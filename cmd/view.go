package cmd

import (
	"fmt"
	"os"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"github.com/fakeyudi/aiop/internal/aiop"
	"github.com/fakeyudi/aiop/internal/export"
	"github.com/fakeyudi/aiop/internal/tui"
)

var plainOutput bool

var viewCmd = &cobra.Command{
	Use:   "view <file>",
	Short: "View an AIOP report (JSON or Markdown)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]

		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return &exitError{code: export.ExitNotFound, err: fmt.Errorf("file not found: %s", path)}
			}
			return err
		}

		doc, err := aiop.ParserFor(data).Parse(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		if plainOutput || !term.IsTerminal(os.Stdout.Fd()) {
			fmt.Fprint(cmd.OutOrStdout(), tui.Plain(doc, path))
			return nil
		}
		return tui.Run(doc, path)
	},
}

func init() {
	viewCmd.Flags().BoolVar(&plainOutput, "plain", false, "plain text output instead of TUI")
	rootCmd.AddCommand(viewCmd)
}
