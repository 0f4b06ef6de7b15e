package cli

import (
	"github.com/spf13/cobra"

	"dailytask/internal/rtc"
)

type statusJSON struct {
	Now           string     `json:"now"`
	Trusted       bool       `json:"trusted"`
	LastExecution string     `json:"last_execution,omitempty"`
	ExecutedToday bool       `json:"executed_today"`
	Clock         rtc.Health `json:"clock"`
}

// NewStatusCommand prints the status block once.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the clock reading and today's execution state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.Loop().Status(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "read ledger", err)
			}
			v := statusJSON{
				Now:           st.Now.String(),
				Trusted:       st.Trusted,
				ExecutedToday: st.ExecutedToday,
				Clock:         st.Health,
			}
			if at, ok := st.Last.At(); ok {
				v.LastExecution = at.String()
			}
			return output{rootOpts.Format, cmd.OutOrStdout()}.emit(st.Lines(), v)
		},
	}
}
