package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/remotelaunch/internal/status"
	"github.com/Paintersrp/remotelaunch/internal/tui"
)

func newStatusCmd(ctx *context) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Display the entries of a running supervisor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := ctx.client().Status(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}
			writeStatusTable(out, snap, time.Now())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw snapshot as JSON")
	return cmd
}

func writeStatusTable(out io.Writer, snap *status.Snapshot, now time.Time) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATE\tPID\tUPTIME\tWORKDIR\tCOMMAND")
	for _, entry := range snap.Entries {
		state := "Stopped"
		pid := "-"
		uptime := "-"
		if entry.Running {
			state = "Running"
			if entry.Pid > 0 {
				pid = fmt.Sprintf("%d", entry.Pid)
			}
			if entry.StartedAt != nil {
				uptime = tui.FormatUptime(now.Sub(*entry.StartedAt))
			}
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			entry.ID, entry.Name, state, pid, uptime, entry.WorkingDirectory, entry.Command)
	}
	_ = w.Flush()
	fmt.Fprintf(out, "%d of %d running\n", snap.Running(), len(snap.Entries))
}
