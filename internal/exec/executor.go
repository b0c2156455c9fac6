package exec

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/mason/internal/checkpoint"
	"github.com/roach88/mason/internal/plan"
	"github.com/roach88/mason/internal/store"
	"github.com/roach88/mason/internal/witness"
	"github.com/roach88/mason/internal/world"
)

// OpRunner realizes one atomic op in the world: place or remove a block at
// an absolute position. The runner blocks until the effect lands or fails;
// it never returns with the op in an unknown state it could have resolved.
type OpRunner interface {
	Run(ctx context.Context, op plan.Op, pos world.Pos) error
}

// DefaultMaxStepsPerModule bounds op executions per module attempt.
// Generously above any sane module size so only a repair loop trips it.
const DefaultMaxStepsPerModule = 256

// Executor steps through modules op by op against one store and runner.
type Executor struct {
	store    *store.Store
	runner   OpRunner
	verifier *witness.Verifier
	cpm      *checkpoint.Manager
	clock    *Clock
	controls *ControlQueue
	maxSteps int
}

// NewExecutor creates an executor. controls may be shared with the callers
// that preempt it.
func NewExecutor(s *store.Store, runner OpRunner, verifier *witness.Verifier, cpm *checkpoint.Manager, clock *Clock, controls *ControlQueue) *Executor {
	return &Executor{
		store:    s,
		runner:   runner,
		verifier: verifier,
		cpm:      cpm,
		clock:    clock,
		controls: controls,
		maxSteps: DefaultMaxStepsPerModule,
	}
}

// SetMaxSteps overrides the per-module step quota. Tests use small values
// to exercise the quota path.
func (e *Executor) SetMaxSteps(n int) {
	e.maxSteps = n
}

// Clock exposes the executor's logical clock for callers that stamp their
// own records (hold protocol, completion verifier).
func (e *Executor) Clock() *Clock {
	return e.clock
}

// RunModule executes every op of mod, verifies the module witness at the
// boundary, and checkpoints on a clean diff.
//
// Each op is marked started in the ledger before the runner is invoked and
// confirmed after it returns. Control messages are honored between ops
// only; an op in flight always runs to completion or failure.
//
// A dirty boundary diff returns VerifyFailedError carrying the diff; the
// caller hands it to the resume planner rather than retrying here.
func (e *Executor) RunModule(ctx context.Context, exec store.Execution, goalInstanceID string, mod plan.Module, w witness.Witness) (store.Checkpoint, error) {
	if missing := unmetDependencies(mod, exec.Completed); len(missing) > 0 {
		return store.Checkpoint{}, fmt.Errorf("module %s has unmet dependencies %v", mod.ID, missing)
	}

	quota := NewStepQuota(e.maxSteps)
	for i, op := range mod.Ops {
		if err := ctx.Err(); err != nil {
			return store.Checkpoint{}, err
		}
		if c, ok := e.controls.TryDequeue(); ok {
			return store.Checkpoint{}, &PreemptedError{
				ExecutionID: exec.ID,
				ModuleID:    mod.ID,
				OpIndex:     i,
				Reason:      controlReason(c),
				Hints:       c.Hints,
			}
		}
		if err := quota.Check(mod.ID); err != nil {
			return store.Checkpoint{}, err
		}
		if err := e.runOp(ctx, exec, mod, i, op); err != nil {
			return store.Checkpoint{}, err
		}
	}

	return e.verifyBoundary(ctx, exec, goalInstanceID, mod, w)
}

// AdvanceBoundary verifies the module witness and checkpoints without
// running any op. The resume planner calls this for a module classified
// intact: its effects are already in the world, and re-issuing confirmed
// ops would duplicate side effects.
func (e *Executor) AdvanceBoundary(ctx context.Context, exec store.Execution, goalInstanceID string, mod plan.Module, w witness.Witness) (store.Checkpoint, error) {
	return e.verifyBoundary(ctx, exec, goalInstanceID, mod, w)
}

// FinishModule runs only the ops of mod the ledger has not confirmed, up
// to opBudget, then verifies the boundary like RunModule. The hold
// protocol uses this to reach a module boundary during a safe stop:
// confirmed ops are never re-issued, and exceeding the budget aborts so
// the caller falls back to an emergency hold. Control messages are not
// honored here; the executor is already stopping.
func (e *Executor) FinishModule(ctx context.Context, exec store.Execution, goalInstanceID string, mod plan.Module, w witness.Witness, opBudget int) (store.Checkpoint, error) {
	ledger, err := e.store.ListModuleLedger(ctx, exec.ID, mod.ID)
	if err != nil {
		return store.Checkpoint{}, err
	}
	confirmed := make(map[int]bool, len(ledger))
	for _, entry := range ledger {
		if entry.State == store.OpConfirmed {
			confirmed[entry.OpIndex] = true
		}
	}

	quota := NewStepQuota(opBudget)
	for i, op := range mod.Ops {
		if confirmed[i] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return store.Checkpoint{}, err
		}
		if err := quota.Check(mod.ID); err != nil {
			return store.Checkpoint{}, err
		}
		if err := e.runOp(ctx, exec, mod, i, op); err != nil {
			return store.Checkpoint{}, err
		}
	}

	return e.verifyBoundary(ctx, exec, goalInstanceID, mod, w)
}

// RunOps executes a repair subset of a module's ops, identified by their
// op indexes, then verifies the boundary like RunModule. The resume
// planner feeds this with the diff re-expressed as ops.
func (e *Executor) RunOps(ctx context.Context, exec store.Execution, goalInstanceID string, mod plan.Module, ops []plan.Op, w witness.Witness) (store.Checkpoint, error) {
	quota := NewStepQuota(e.maxSteps)
	for i, op := range ops {
		if err := ctx.Err(); err != nil {
			return store.Checkpoint{}, err
		}
		if c, ok := e.controls.TryDequeue(); ok {
			return store.Checkpoint{}, &PreemptedError{
				ExecutionID: exec.ID,
				ModuleID:    mod.ID,
				OpIndex:     i,
				Reason:      controlReason(c),
				Hints:       c.Hints,
			}
		}
		if err := quota.Check(mod.ID); err != nil {
			return store.Checkpoint{}, err
		}
		// Repair ops index past the module's own op list so their ledger
		// identity never collides with the original ops.
		if err := e.runOp(ctx, exec, mod, len(mod.Ops)+i, op); err != nil {
			return store.Checkpoint{}, err
		}
	}

	return e.verifyBoundary(ctx, exec, goalInstanceID, mod, w)
}

func (e *Executor) runOp(ctx context.Context, exec store.Execution, mod plan.Module, index int, op plan.Op) error {
	opID, err := op.ID(mod.ID, index)
	if err != nil {
		return fmt.Errorf("op id: %w", err)
	}

	entry := store.LedgerEntry{
		ExecutionID: exec.ID,
		ModuleID:    mod.ID,
		OpID:        opID,
		OpIndex:     index,
		Seq:         e.clock.Next(),
	}
	if err := e.store.MarkOpStarted(ctx, entry); err != nil {
		return err
	}

	pos := exec.Site.WorldPos(op.Offset)
	if err := e.runner.Run(ctx, op, pos); err != nil {
		return &OpFailedError{ModuleID: mod.ID, OpIndex: index, OpID: opID, Err: err}
	}

	entry.Seq = e.clock.Next()
	if err := e.store.MarkOpConfirmed(ctx, entry); err != nil {
		return err
	}

	slog.Debug("op confirmed",
		"execution_id", exec.ID,
		"module_id", mod.ID,
		"op_id", opID,
		"op_index", index)
	return nil
}

func (e *Executor) verifyBoundary(ctx context.Context, exec store.Execution, goalInstanceID string, mod plan.Module, w witness.Witness) (store.Checkpoint, error) {
	diff, err := e.verifier.Verify(ctx, w)
	if err != nil {
		return store.Checkpoint{}, fmt.Errorf("boundary verification: %w", err)
	}
	if !diff.Empty() {
		return store.Checkpoint{}, &VerifyFailedError{ModuleID: mod.ID, Diff: diff}
	}
	return e.cpm.Take(ctx, exec, goalInstanceID, mod, w, diff, e.clock.Next())
}

func unmetDependencies(mod plan.Module, completed []string) []string {
	done := make(map[string]bool, len(completed))
	for _, id := range completed {
		done[id] = true
	}
	var missing []string
	for _, dep := range mod.DependsOn {
		if !done[dep] {
			missing = append(missing, dep)
		}
	}
	return missing
}

func controlReason(c Control) store.HoldReason {
	if c.Kind == ControlStop {
		return store.ReasonManualPause
	}
	if c.Reason != "" {
		return c.Reason
	}
	return store.ReasonPreempted
}
