package cli

import (
	"strings"
	"time"

	"github.com/spf13/cobra"

	"dailytask/internal/console"
	"dailytask/internal/datetime"
)

type replyJSON struct {
	Received string `json:"received"`
	Parsed   string `json:"parsed,omitempty"`
	Verdict  string `json:"verdict"`
	Error    string `json:"error,omitempty"`
}

// NewSetTimeCommand applies one clock correction, the same way a line on the
// daemon's stdin does.
func NewSetTimeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set-time [YYYY-MM-DD HH:MM:SS]",
		Short: "Set the clock (host local time when no argument is given)",
		Long: `Set the clock and reconcile the ledger. Without an argument the host's
local time is used. The date and time may be passed as one quoted argument
or as two.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			line := strings.Join(args, " ")
			if line == "" {
				line = datetime.FromTime(time.Now()).String()
			}

			a, err := openApp(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			reply, rerr := a.Loop().Correct(cmd.Context(), line)
			a.Flush(cmd.Context())

			v := replyJSON{Received: reply.Received, Verdict: reply.Verdict.String()}
			if reply.HasParsed {
				v.Parsed = reply.Parsed.String()
			}
			if reply.Err != nil {
				v.Error = reply.Err.Error()
			}
			if err := (output{rootOpts.Format, cmd.OutOrStdout()}).emit(reply.Lines(), v); err != nil {
				return err
			}

			switch {
			case reply.Verdict == console.BadFormat:
				return WrapExitError(ExitCommandError, "bad date-time", reply.Err)
			case reply.Verdict != console.OK:
				return WrapExitError(ExitFailure, "clock refused", reply.Err)
			case rerr != nil:
				return WrapExitError(ExitFailure, "clock set", rerr)
			}
			return nil
		},
	}
}
