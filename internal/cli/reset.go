package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"dailytask/internal/datetime"
	"dailytask/internal/eventbus"
)

// NewResetCommand marks a date as not yet executed.
func NewResetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset [YYYY-MM-DD]",
		Short: "Make the task due again on the given date (default: clock's today)",
		Long: `Rewrite the ledger so the given date reads as not executed. The stored
record becomes midnight of the day before. Without an argument the clock's
current date is used, which requires a trusted reading.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			var target datetime.DateTime
			if len(args) == 0 {
				r := a.Components().Clock.Now()
				if !r.Trusted {
					return NewExitError(ExitFailure, "clock reading is untrusted; pass a date or set-time first")
				}
				target = r.At
			} else {
				target, err = parseResetTarget(strings.Join(args, " "))
				if err != nil {
					return WrapExitError(ExitCommandError, "bad date", err)
				}
			}

			if err := a.Components().Ledger.ForceResetTo(cmd.Context(), target); err != nil {
				return WrapExitError(ExitFailure, "reset ledger", err)
			}
			a.Bus().Publish(eventbus.Event{Type: eventbus.LedgerReset, Clock: target.String(), OK: true, Detail: "operator reset"})
			a.Flush(cmd.Context())

			line := fmt.Sprintf("Ledger reset: %s reads as not executed", target.DateString())
			return output{rootOpts.Format, cmd.OutOrStdout()}.emit([]string{line}, map[string]string{"reset": target.DateString()})
		},
	}
}

// parseResetTarget accepts a bare date or a full date-time.
func parseResetTarget(s string) (datetime.DateTime, error) {
	s = strings.TrimSpace(s)
	if !strings.ContainsAny(s, " T:") {
		s += " 00:00:00"
	}
	return datetime.Parse(s)
}
