package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"dailytask/internal/app"
)

const shutdownTimeout = 10 * time.Second

// NewRunCommand creates the daemon command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler until SIGINT or SIGTERM",
		Long: `Run the scheduler loop. Status is printed on every poll and each line read
from stdin is applied as a clock correction (or "status").`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return runDaemon(ctx, rootOpts, cmd)
		},
	}
}

func runDaemon(ctx context.Context, opts *RootOptions, cmd *cobra.Command) error {
	in := opts.stdin
	if in == nil {
		in = cmd.InOrStdin()
	}
	a, err := app.New(opts.ConfigPath, app.Options{Fs: opts.fs, In: in, Out: cmd.OutOrStdout()})
	if err != nil {
		return WrapExitError(ExitCommandError, "startup", err)
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Close()
		return WrapExitError(ExitCommandError, "start", err)
	}

	select {
	case <-ctx.Done():
	case <-a.Done():
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err = a.Stop(stopCtx)
	if errors.Is(err, context.DeadlineExceeded) {
		a.Logger().Warn("shutdown timed out")
	}
	if err != nil {
		return WrapExitError(ExitFailure, "stopped with error", err)
	}
	return nil
}
