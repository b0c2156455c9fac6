package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/mason/internal/hold"
	"github.com/roach88/mason/internal/store"
)

// ReleaseResult is the release command's output payload.
type ReleaseResult struct {
	ExecutionID string       `json:"execution_id"`
	Status      store.Status `json:"status"`
}

func (r ReleaseResult) String() string {
	return fmt.Sprintf("%s released, status %s", r.ExecutionID, r.Status)
}

// NewReleaseCommand creates the release command.
func NewReleaseCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "release <execution-id>",
		Short: "Explicitly release a held execution",
		Long: `Clear an execution's hold and set it active. This is the only path
that clears a manual pause; holds with other reasons also clear here
without waiting for the reactor.

Example:
  mason release exec-0192f3a1`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelease(cmd.Context(), rootOpts, cmd, args[0])
		},
	}
	return cmd
}

func runRelease(ctx context.Context, opts *RootOptions, cmd *cobra.Command, executionID string) error {
	out := &Formatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "open database", err)
	}
	defer st.Close()
	clock, err := seedClock(ctx, st)
	if err != nil {
		return WrapExitError(ExitCommandError, "seed clock", err)
	}

	protocol := hold.NewProtocol(st, nil)
	if err := protocol.Release(ctx, executionID, clock.Next()); err != nil {
		return WrapExitError(ExitFailure, "release hold", err)
	}

	e, err := st.GetExecution(ctx, executionID)
	if err != nil {
		return WrapExitError(ExitCommandError, "load execution", err)
	}
	return out.Success(ReleaseResult{ExecutionID: executionID, Status: e.Status})
}
