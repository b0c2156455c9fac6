package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/mason/internal/complete"
	"github.com/roach88/mason/internal/store"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	// Check also runs the illegal-state detector over the whole store.
	Check bool
}

// StatusResult is the status command's output payload.
type StatusResult struct {
	ExecutionID    string                 `json:"execution_id"`
	GoalInstanceID string                 `json:"goal_instance_id"`
	GoalKey        string                 `json:"goal_key"`
	Phase          store.Phase            `json:"phase"`
	Aliases        []string               `json:"aliases,omitempty"`
	Status         store.Status           `json:"status"`
	GoalStatus     complete.GoalStatus    `json:"goal_status"`
	ModuleCursor   int64                  `json:"module_cursor"`
	ModulesTotal   int                    `json:"modules_total"`
	Completed      []string               `json:"completed"`
	UnconfirmedOps int                    `json:"unconfirmed_ops"`
	Hold           *store.Hold            `json:"hold,omitempty"`
	Completion     *store.CompletionState `json:"completion,omitempty"`
	Violations     []store.Violation      `json:"violations,omitempty"`
}

func (r StatusResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  goal=%s  phase=%s  status=%s  goal-status=%s\n",
		r.ExecutionID, r.GoalInstanceID, r.Phase, r.Status, r.GoalStatus)
	fmt.Fprintf(&b, "  cursor %d/%d, completed [%s], %d unconfirmed ops",
		r.ModuleCursor, r.ModulesTotal, strings.Join(r.Completed, " "), r.UnconfirmedOps)
	if r.Hold != nil {
		fmt.Fprintf(&b, "\n  held: %s, next review %d", r.Hold.Reason, r.Hold.NextReviewUnix)
	}
	if r.Completion != nil {
		fmt.Fprintf(&b, "\n  completion: %d consecutive passes", r.Completion.ConsecutivePasses)
	}
	for _, v := range r.Violations {
		fmt.Fprintf(&b, "\n  VIOLATION %s: %s", v.ExecutionID, v.Detail)
	}
	return b.String()
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status <execution-id>",
		Short: "Show the persisted state of an execution",
		Long: `Reconstruct an execution record from the store and print it: goal
binding, module cursor, completed modules, unconfirmed operations, hold
and completion state.

With --check, also run the illegal-state detector over the whole store
and report any violation (exit 1 if one is found).`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), opts, cmd, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.Check, "check", false, "run the illegal-state detector")

	return cmd
}

func runStatus(ctx context.Context, opts *StatusOptions, cmd *cobra.Command, executionID string) error {
	out := &Formatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "open database", err)
	}
	defer st.Close()

	rec, err := st.RecoverExecution(ctx, executionID)
	if err != nil {
		return WrapExitError(ExitCommandError, "recover execution", err)
	}
	unconfirmed, err := st.ListUnconfirmed(ctx, executionID)
	if err != nil {
		return WrapExitError(ExitCommandError, "list unconfirmed ops", err)
	}

	result := StatusResult{
		ExecutionID:    rec.Execution.ID,
		GoalInstanceID: rec.Binding.GoalInstanceID,
		GoalKey:        rec.Binding.Key,
		Phase:          rec.Binding.Phase,
		Aliases:        rec.Binding.Aliases,
		Status:         rec.Execution.Status,
		GoalStatus:     complete.GoalStatusFor(rec.Execution, rec.Completion),
		ModuleCursor:   rec.Execution.ModuleCursor,
		ModulesTotal:   len(rec.Execution.Plan.Modules),
		Completed:      rec.Execution.Completed,
		UnconfirmedOps: len(unconfirmed),
		Hold:           rec.Hold,
		Completion:     rec.Completion,
	}

	if opts.Check {
		violations, err := st.CheckIllegalStates(ctx, complete.StabilityWindow)
		if err != nil {
			return WrapExitError(ExitCommandError, "check illegal states", err)
		}
		result.Violations = violations
	}

	if err := out.Success(result); err != nil {
		return err
	}
	if len(result.Violations) > 0 {
		return NewExitError(ExitFailure,
			fmt.Sprintf("%d illegal state violation(s)", len(result.Violations)))
	}
	return nil
}
