package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/remotelaunch/internal/tui"
)

func newWatchCmd(ctx *context) *cobra.Command {
	var refresh time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Launch the interactive entry table",
		Long: "Launch the interactive entry table.\n\n" +
			"Keys: s start, S start with arguments, x stop, / filter, q quit.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !supportsInteractiveOutput(cmd) {
				return fmt.Errorf("watch requires an interactive terminal")
			}
			ui := tui.New(ctx.client(), tui.WithRefresh(refresh))
			return ui.Run(cmd.Context())
		},
	}
	cmd.Flags().DurationVar(&refresh, "refresh", time.Second, "How often to poll the supervisor")
	return cmd
}
