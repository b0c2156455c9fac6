package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/mason/internal/exec"
	"github.com/roach88/mason/internal/resume"
	"github.com/roach88/mason/internal/store"
	"github.com/roach88/mason/internal/witness"
)

// ResumeOptions holds flags for the resume command.
type ResumeOptions struct {
	*RootOptions
	World string
	// PlanOnly reports the decision without acting on it.
	PlanOnly bool
}

// ResumeResult is the resume command's output payload.
type ResumeResult struct {
	Outcome          resume.Outcome `json:"outcome"`
	ModulesCompleted int            `json:"modules_completed"`
	Status           string         `json:"status"`
}

func (r ResumeResult) String() string {
	return fmt.Sprintf("%s (%s): %d modules done, status %s",
		r.Outcome.Decision, r.Outcome.Classification, r.ModulesCompleted, r.Status)
}

// NewResumeCommand creates the resume command.
func NewResumeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResumeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "resume <execution-id>",
		Short: "Recover an execution and act on the resume decision",
		Long: `Recover an execution record from the store, reconcile any in-flight
operation against the world, classify drift at the cursor module, and act:
advance, apply the repair package, re-execute the module, or fail out to a
full replan.

Exit codes:
  0 - resumed (or nothing to do)
  1 - site invalid, a fresh top-level plan is required
  2 - command error

Examples:
  mason resume exec-0192f3a1 --world world.json
  mason resume exec-0192f3a1 --world world.json --plan-only`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResume(cmd.Context(), opts, cmd, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.World, "world", "", "path to JSON world file (required)")
	_ = cmd.MarkFlagRequired("world")
	cmd.Flags().BoolVar(&opts.PlanOnly, "plan-only", false, "report the decision without executing")

	return cmd
}

func runResume(ctx context.Context, opts *ResumeOptions, cmd *cobra.Command, executionID string) error {
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

	rec, err := st.RecoverExecution(ctx, executionID)
	if err != nil {
		return WrapExitError(ExitCommandError, "recover execution", err)
	}
	if rec.Hold != nil {
		out.Logf("held (%s), clearing before resume", rec.Hold.Reason)
		if err := st.ClearHold(ctx, executionID, clock.Next()); err != nil {
			if errors.Is(err, store.ErrManualHold) {
				return NewExitError(ExitFailure,
					"execution is manually paused; release the hold explicitly first")
			}
			return WrapExitError(ExitCommandError, "clear hold", err)
		}
	}

	planner := resume.NewPlanner(st, wf, clock)
	outcome, err := planner.Plan(ctx, rec)
	if err != nil {
		return WrapExitError(ExitFailure, "plan resume", err)
	}
	out.Logf("decision %s, classification %s, reconciled %d",
		outcome.Decision, outcome.Classification, outcome.Reconciled)

	result := ResumeResult{Outcome: outcome}
	e, err := st.GetExecution(ctx, executionID)
	if err != nil {
		return WrapExitError(ExitCommandError, "load execution", err)
	}

	if opts.PlanOnly {
		result.ModulesCompleted = len(e.Completed)
		result.Status = string(e.Status)
		return out.Success(result)
	}

	e, actErr := actOnOutcome(ctx, st, wf, clock, e, outcome, out)
	result.ModulesCompleted = len(e.Completed)
	result.Status = string(e.Status)
	if saveErr := wf.Save(); saveErr != nil && actErr == nil {
		actErr = saveErr
	}
	if actErr != nil {
		if printErr := out.Error(actErr.Error()); printErr != nil {
			return printErr
		}
		return WrapExitError(ExitFailure, "resume stopped", actErr)
	}
	return out.Success(result)
}

// actOnOutcome executes the planner's decision and then runs the plan
// forward to the end.
func actOnOutcome(ctx context.Context, st *store.Store, wf *WorldFile, clock *exec.Clock, e store.Execution, outcome resume.Outcome, out *Formatter) (store.Execution, error) {
	executor := newExecutor(st, wf, clock, exec.NewControlQueue())

	switch outcome.Decision {
	case resume.DecisionAdvance:
		// The cursor module is already built in the world. Checkpoint it
		// straight from the boundary verify; re-running its ops would
		// duplicate their side effects.
		if outcome.ModuleID != "" {
			mod := e.Plan.Module(outcome.ModuleID)
			if mod == nil {
				return e, fmt.Errorf("advance target %s not in plan", outcome.ModuleID)
			}
			w, err := st.GetWitness(ctx, e.ID, mod.ID)
			if err != nil {
				return e, fmt.Errorf("witness for %s: %w", mod.ID, err)
			}
			cp, err := executor.AdvanceBoundary(ctx, e, e.GoalInstanceID, *mod, w)
			if err != nil {
				return e, fmt.Errorf("advance %s: %w", mod.ID, err)
			}
			out.Logf("advanced past %s (cursor %d)", mod.ID, cp.ModuleCursor)
			e, err = st.GetExecution(ctx, e.ID)
			if err != nil {
				return e, err
			}
		}

	case resume.DecisionRepair:
		mod := e.Plan.Module(outcome.ModuleID)
		if mod == nil {
			return e, fmt.Errorf("repair target %s not in plan", outcome.ModuleID)
		}
		w, err := st.GetWitness(ctx, e.ID, mod.ID)
		if err != nil {
			return e, fmt.Errorf("witness for %s: %w", mod.ID, err)
		}
		if _, err := executor.RunOps(ctx, e, e.GoalInstanceID, *mod, outcome.Repair, w); err != nil {
			return e, fmt.Errorf("apply repair: %w", err)
		}
		out.Logf("repaired %s with %d ops", mod.ID, len(outcome.Repair))
		e, err = st.GetExecution(ctx, e.ID)
		if err != nil {
			return e, err
		}

	case resume.DecisionRegenerateModule:
		mod := e.Plan.Module(outcome.ModuleID)
		if mod == nil {
			return e, fmt.Errorf("regenerate target %s not in plan", outcome.ModuleID)
		}
		w, err := st.GetWitness(ctx, e.ID, mod.ID)
		if err != nil {
			return e, fmt.Errorf("witness for %s: %w", mod.ID, err)
		}
		if _, err := executor.RunModule(ctx, e, e.GoalInstanceID, *mod, w); err != nil {
			return e, fmt.Errorf("regenerate %s: %w", mod.ID, err)
		}
		out.Logf("regenerated %s", mod.ID)
		e, err = st.GetExecution(ctx, e.ID)
		if err != nil {
			return e, err
		}

	case resume.DecisionReplanBuild:
		if err := st.AbandonExecution(ctx, e.ID, clock.Next()); err != nil {
			return e, fmt.Errorf("abandon execution: %w", err)
		}
		e.Status = store.StatusAbandoned
		return e, fmt.Errorf("site invalid, execution abandoned; a fresh top-level plan is required")
	}

	e, err := executeModules(ctx, st, executor, e, out)
	if err != nil {
		return e, err
	}
	// An exhausted plan that is still active was reopened by a regression.
	// Fix completed modules in place; the next completion checks re-earn
	// the stability window.
	if e.Plan.ModuleAt(int(e.ModuleCursor)) == nil && e.Status == store.StatusActive {
		if err := repairRegressed(ctx, st, wf, e, out); err != nil {
			return e, err
		}
	}
	return e, nil
}

// repairRegressed re-verifies every completed module and applies the
// literal diff repair for any that no longer satisfies its witness. These
// modules are behind the checkpoint cursor, so repairs go straight through
// the runner; the checkpoint chain already records them as done.
func repairRegressed(ctx context.Context, st *store.Store, wf *WorldFile, e store.Execution, out *Formatter) error {
	verifier := witness.NewVerifier(wf)
	for _, modID := range e.Completed {
		w, err := st.GetWitness(ctx, e.ID, modID)
		if err != nil {
			return fmt.Errorf("witness for %s: %w", modID, err)
		}
		diff, err := verifier.Verify(ctx, w)
		if err != nil {
			return fmt.Errorf("verify %s: %w", modID, err)
		}
		if diff.Empty() {
			continue
		}
		ops := resume.BuildRepair(e.Site, diff)
		for _, op := range ops {
			if err := wf.Run(ctx, op, e.Site.WorldPos(op.Offset)); err != nil {
				return fmt.Errorf("repair %s: %w", modID, err)
			}
		}
		out.Logf("repaired regressed module %s with %d ops", modID, len(ops))
	}
	return nil
}
