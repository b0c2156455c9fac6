// Package complete declares executions permanently done, and takes it
// back. Completion is a hysteretic predicate: one passing check is never
// enough, and a previously completed execution that stops verifying is
// reopened with a repair package for exactly what regressed.
package complete

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/mason/internal/exec"
	"github.com/roach88/mason/internal/plan"
	"github.com/roach88/mason/internal/resume"
	"github.com/roach88/mason/internal/store"
	"github.com/roach88/mason/internal/witness"
	"github.com/roach88/mason/internal/world"
)

const (
	verifierID        = "witness-satisfaction"
	definitionVersion = 1

	// StabilityWindow is how many consecutive passes completion requires.
	StabilityWindow = 2

	// footprintMargin bounds every completion probe to the site footprint
	// plus this many blocks.
	footprintMargin = 2
)

// Result is the outcome of one completion check.
type Result struct {
	// Passed means every completed module's witness is fully satisfied.
	Passed bool `json:"passed"`
	// Score is the percentage of expected placements currently satisfied.
	Score int64 `json:"score"`
	// ConsecutivePasses is the counter after this check.
	ConsecutivePasses int `json:"consecutive_passes"`
	// Completed means this check crossed the stability window and marked
	// the execution completed.
	Completed bool `json:"completed"`
	// Reopened means a completed execution failed and was reopened.
	Reopened bool `json:"reopened"`
	// Repair is set on reopen: ops re-expressing exactly the failing diff.
	Repair []plan.Op `json:"repair,omitempty"`
	// Diff is the merged failing diff across completed modules.
	Diff witness.Diff `json:"diff,omitempty"`
	// GoalStatus is the strategic status Reduce derives from this check's
	// execution transition.
	GoalStatus GoalStatus `json:"goal_status"`
}

// Verifier runs completion checks against one store and oracle.
type Verifier struct {
	store    *store.Store
	verifier *witness.Verifier
	clock    *exec.Clock
}

// NewVerifier creates a completion verifier.
func NewVerifier(s *store.Store, oracle world.Oracle, clock *exec.Clock) *Verifier {
	return &Verifier{store: s, verifier: witness.NewVerifier(oracle), clock: clock}
}

// Check verifies every completed module's witness against the world and
// advances or resets the stability counter. The check is bounded: a
// witness position outside the site footprint plus margin is an invariant
// violation, not a probe.
func (v *Verifier) Check(ctx context.Context, executionID string) (Result, error) {
	rec, err := v.store.RecoverExecution(ctx, executionID)
	if err != nil {
		return Result{}, fmt.Errorf("completion check: %w", err)
	}
	e := rec.Execution

	diff, total, err := v.verifyCompleted(ctx, rec)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Passed: diff.Empty(),
		Score:  score(diff, total),
		Diff:   diff,
	}

	cs := store.CompletionState{
		ExecutionID:       executionID,
		VerifierID:        verifierID,
		DefinitionVersion: definitionVersion,
	}
	if rec.Completion != nil &&
		rec.Completion.VerifierID == verifierID &&
		rec.Completion.DefinitionVersion == definitionVersion {
		// A changed verifier definition restarts the window.
		cs.ConsecutivePasses = rec.Completion.ConsecutivePasses
	}

	if res.Passed {
		cs.ConsecutivePasses++
		cs.LastPass = true
	} else {
		cs.ConsecutivePasses = 0
		cs.LastPass = false
	}
	res.ConsecutivePasses = cs.ConsecutivePasses
	if err := v.store.PutCompletionState(ctx, cs); err != nil {
		return Result{}, err
	}

	to := e.Status
	switch {
	case res.Passed && e.Status == store.StatusActive &&
		cs.ConsecutivePasses >= StabilityWindow && planExhausted(e):
		if err := v.store.CompleteExecution(ctx, executionID, v.clock.Next()); err != nil {
			return Result{}, err
		}
		res.Completed = true
		to = store.StatusCompleted
		slog.Info("execution completed",
			"execution_id", executionID,
			"goal_instance_id", e.GoalInstanceID,
			"consecutive_passes", cs.ConsecutivePasses)

	case !res.Passed && e.Status == store.StatusCompleted:
		if err := v.store.ReopenExecution(ctx, executionID, v.clock.Next()); err != nil {
			return Result{}, err
		}
		res.Reopened = true
		res.Repair = resume.BuildRepair(e.Site, diff)
		to = store.StatusActive
		slog.Warn("regression detected, execution reopened",
			"execution_id", executionID,
			"goal_instance_id", e.GoalInstanceID,
			"repair_ops", len(res.Repair))
	}
	res.GoalStatus = Reduce(TaskTransition{From: e.Status, To: to, VerifierPassed: res.Passed})

	return res, nil
}

// verifyCompleted merges the diffs of every completed module and counts
// the expected placements they declare.
func (v *Verifier) verifyCompleted(ctx context.Context, rec store.Record) (witness.Diff, int, error) {
	bounds := rec.Execution.Site.Footprint.Expand(footprintMargin)
	var merged witness.Diff
	total := 0

	for _, modID := range rec.Execution.Completed {
		w, ok := rec.Witnesses[modID]
		if !ok {
			return witness.Diff{}, 0, fmt.Errorf("completed module %s has no witness", modID)
		}
		for _, p := range w.DeclaredPositions() {
			if !bounds.Contains(p) {
				return witness.Diff{}, 0, fmt.Errorf(
					"witness for %s declares %s outside bounded region", modID, p)
			}
		}
		d, err := v.verifier.Verify(ctx, w)
		if err != nil {
			return witness.Diff{}, 0, fmt.Errorf("verify %s: %w", modID, err)
		}
		merged.Missing = append(merged.Missing, d.Missing...)
		merged.Wrong = append(merged.Wrong, d.Wrong...)
		merged.Unexpected = append(merged.Unexpected, d.Unexpected...)
		total += len(w.ExpectedPlacements)
	}
	return merged, total, nil
}

func score(d witness.Diff, total int) int64 {
	if total == 0 {
		return 100
	}
	unsatisfied := len(d.Missing) + len(d.Wrong)
	if unsatisfied > total {
		unsatisfied = total
	}
	return int64(total-unsatisfied) * 100 / int64(total)
}

func planExhausted(e store.Execution) bool {
	return e.Plan != nil && int(e.ModuleCursor) >= len(e.Plan.Modules)
}
