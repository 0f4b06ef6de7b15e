package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// NewHistoryCommand prints the audit journal, newest first.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent executions, clock corrections and resets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return NewExitError(ExitCommandError, "--limit must be positive")
			}
			a, err := openApp(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			entries, err := a.Components().Store.RecentAudit(cmd.Context(), limit)
			if err != nil {
				return WrapExitError(ExitCommandError, "read audit journal", err)
			}
			if rootOpts.Format == "json" {
				return output{"json", cmd.OutOrStdout()}.emit(nil, entries)
			}

			var sb strings.Builder
			tw := tabwriter.NewWriter(&sb, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tEVENT\tCLOCK\tOK\tRUN\tDETAIL")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\t%s\n",
					e.At.Local().Format(time.DateTime), e.Event, e.Clock, e.OK, e.RunID, e.Detail)
			}
			_ = tw.Flush()
			_, err = fmt.Fprint(cmd.OutOrStdout(), sb.String())
			return err
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries")
	return cmd
}
