package complete

import "github.com/roach88/mason/internal/store"

// GoalStatus is the strategic-layer view of a goal. The strategic layer
// never asserts one of these on its own; it only reads what Reduce
// derives from execution transitions.
type GoalStatus string

const (
	GoalActive    GoalStatus = "active"
	GoalSuspended GoalStatus = "suspended"
	GoalCompleted GoalStatus = "completed"
	GoalFailed    GoalStatus = "failed"
)

// TaskTransition is one execution status change, plus whether the
// completion verifier had passed when the transition happened.
type TaskTransition struct {
	From           store.Status
	To             store.Status
	VerifierPassed bool
}

// GoalStatusFor derives the strategic status of a goal at rest from its
// execution's persisted state, treated as a self-transition carrying the
// last recorded verifier verdict.
func GoalStatusFor(e store.Execution, cs *store.CompletionState) GoalStatus {
	passed := cs != nil && cs.LastPass
	return Reduce(TaskTransition{From: e.Status, To: e.Status, VerifierPassed: passed})
}

// Reduce maps an execution transition to the goal status it implies.
// Strictly one-directional: a completed execution whose verifier did not
// pass stays strategically active, it is never promoted on status alone.
func Reduce(tr TaskTransition) GoalStatus {
	switch tr.To {
	case store.StatusPaused:
		return GoalSuspended
	case store.StatusCompleted:
		if tr.VerifierPassed {
			return GoalCompleted
		}
		return GoalActive
	case store.StatusAbandoned:
		return GoalFailed
	default:
		return GoalActive
	}
}
