package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	apihttp "github.com/Paintersrp/remotelaunch/internal/api/http"
)

func (c *context) client() *apihttp.Client {
	return apihttp.NewClient(c.apiAddr, nil)
}

func parseEntryID(value string) (uint, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(value), 10, 0)
	if err != nil {
		return 0, fmt.Errorf("invalid entry id %q", value)
	}
	return uint(id), nil
}

func newStartCmd(ctx *context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start ID [ARGS...]",
		Short: "Start an entry on a running supervisor",
		Long: "Start an entry on a running supervisor. Extra arguments are joined with spaces\n" +
			"and appended to the entry's command; arguments containing '&' or ';' are dropped.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseEntryID(args[0])
			if err != nil {
				return err
			}
			extra := strings.Join(args[1:], " ")
			if err := ctx.client().Start(cmd.Context(), id, extra); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "started entry %d\n", id)
			return nil
		},
	}
	cmd.Flags().SetInterspersed(false)
	return cmd
}

func newStopCmd(ctx *context) *cobra.Command {
	return &cobra.Command{
		Use:   "stop ID",
		Short: "Stop an entry and every process it spawned",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseEntryID(args[0])
			if err != nil {
				return err
			}
			if err := ctx.client().Stop(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stopped entry %d\n", id)
			return nil
		},
	}
}
