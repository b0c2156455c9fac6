package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/mason/internal/complete"
	"github.com/roach88/mason/internal/store"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	World string
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify <execution-id>",
		Short: "Run one completion check against the world",
		Long: `Verify every completed module's witness against the world and advance
the stability counter. Two consecutive passing checks on a finished plan
mark the execution completed; a failing check on a completed execution
reopens it with a repair package.

Exit codes:
  0 - check passed
  1 - check failed
  2 - command error`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd.Context(), opts, cmd, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.World, "world", "", "path to JSON world file (required)")
	_ = cmd.MarkFlagRequired("world")

	return cmd
}

func runVerify(ctx context.Context, opts *VerifyOptions, cmd *cobra.Command, executionID string) error {
	out := &Formatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	wf, err := LoadWorldFile(opts.World)
	if err != nil {
		return WrapExitError(ExitCommandError, "load world", err)
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "open database", err)
	}
	defer st.Close()
	clock, err := seedClock(ctx, st)
	if err != nil {
		return WrapExitError(ExitCommandError, "seed clock", err)
	}

	verifier := complete.NewVerifier(st, wf, clock)
	res, err := verifier.Check(ctx, executionID)
	if err != nil {
		return WrapExitError(ExitCommandError, "completion check", err)
	}

	if opts.Format != "json" {
		line := fmt.Sprintf("score %d%%, %d consecutive pass(es)", res.Score, res.ConsecutivePasses)
		switch {
		case res.Completed:
			line = "completed: " + line
		case res.Reopened:
			line = fmt.Sprintf("regressed, reopened with %d repair op(s): %s", len(res.Repair), line)
		case res.Passed:
			line = "pass: " + line
		default:
			line = "fail: " + line
		}
		if err := out.Success(line); err != nil {
			return err
		}
	} else if err := out.Success(res); err != nil {
		return err
	}

	if !res.Passed {
		return NewExitError(ExitFailure, "completion check failed")
	}
	return nil
}
