// Package cli is the dailytask command line: the daemon and the one-shot
// operator commands that share its config.
package cli

import (
	"fmt"
	"io"
	"slices"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"dailytask/internal/app"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Format     string // "text" | "json"

	// fs and stdin are overridden by tests.
	fs    afero.Fs
	stdin io.Reader
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

const DefaultConfigPath = "./dailytask.yaml"

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dailytask",
		Short: "Run one task per calendar day off a guarded real-time clock",
		Long: `dailytask polls a battery-backed clock, performs its configured action
at most once per calendar day and records each execution in non-volatile
storage. Operators correct the clock with one date-time per line on stdin
or with set-time.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", DefaultConfigPath, "path to config (yaml or json)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewSetTimeCommand(opts))
	cmd.AddCommand(NewResetCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))

	return cmd
}

// openApp builds the app for a one-shot command. Nothing is started.
func openApp(opts *RootOptions, cmd *cobra.Command) (*app.App, error) {
	a, err := app.New(opts.ConfigPath, app.Options{Fs: opts.fs, Out: cmd.OutOrStdout()})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "startup", err)
	}
	return a, nil
}

// Execute runs the root command and returns the process exit code.
func Execute(args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return GetExitCode(err)
	}
	return ExitSuccess
}
