package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/mason/internal/hold"
	"github.com/roach88/mason/internal/store"
)

// PauseOptions holds flags for the pause command.
type PauseOptions struct {
	*RootOptions
	Reason string
	Hints  []string
}

// PauseResult is the pause command's output payload.
type PauseResult struct {
	ExecutionID  string           `json:"execution_id"`
	Reason       store.HoldReason `json:"reason"`
	ModuleCursor int64            `json:"module_cursor"`
	Verified     bool             `json:"verified"`
}

func (r PauseResult) String() string {
	return fmt.Sprintf("%s held (%s), cursor %d, verified=%t",
		r.ExecutionID, r.Reason, r.ModuleCursor, r.Verified)
}

var pauseReasons = []store.HoldReason{
	store.ReasonManualPause,
	store.ReasonMissingMaterials,
	store.ReasonThreat,
	store.ReasonDriftDetected,
}

// NewPauseCommand creates the pause command.
func NewPauseCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PauseOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "pause <execution-id>",
		Short: "Hold an active execution",
		Long: `Write a hold for an active execution so no further work runs on it
until the hold clears. A manual pause (the default reason) is a hard
wall: only "mason release" clears it. Other reasons are reviewed by the
reactor and clear when their blocking condition resolves.

Examples:
  mason pause exec-0192f3a1
  mason pause exec-0192f3a1 --reason missing_materials --hint "need 40 stone"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPause(cmd.Context(), opts, cmd, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Reason, "reason", string(store.ReasonManualPause),
		"hold reason (manual_pause|missing_materials|threat|drift_detected)")
	cmd.Flags().StringArrayVar(&opts.Hints, "hint", nil, "resume hint, repeatable")

	return cmd
}

func runPause(ctx context.Context, opts *PauseOptions, cmd *cobra.Command, executionID string) error {
	out := &Formatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	reason := store.HoldReason(opts.Reason)
	if !validPauseReason(reason) {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid reason %q", opts.Reason))
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

	e, err := st.GetExecution(ctx, executionID)
	if err != nil {
		return WrapExitError(ExitCommandError, "load execution", err)
	}
	if e.Status != store.StatusActive {
		return NewExitError(ExitFailure,
			fmt.Sprintf("execution is %s, only active executions pause", e.Status))
	}

	// No module is running in this process, so there is no boundary to
	// push toward. The hold captures the last persisted cursor.
	protocol := hold.NewProtocol(st, nil)
	h, err := protocol.SafeStop(ctx, e, reason, opts.Hints, clock.Next(), nil)
	if err != nil {
		return WrapExitError(ExitFailure, "apply hold", err)
	}

	return out.Success(PauseResult{
		ExecutionID:  executionID,
		Reason:       h.Reason,
		ModuleCursor: h.Witness.ModuleCursor,
		Verified:     h.Witness.Verified,
	})
}

func validPauseReason(r store.HoldReason) bool {
	for _, v := range pauseReasons {
		if v == r {
			return true
		}
	}
	return false
}
