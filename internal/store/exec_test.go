package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/mason/internal/testutil"
	"github.com/roach88/mason/internal/witness"
)

func TestCreateExecution_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	exec, b := newExecution(1)
	site := testutil.DefaultSite()
	mod := exec.Plan.Modules[0]
	w, err := witness.Generate(mod, site)
	require.NoError(t, err)

	require.NoError(t, s.CreateExecution(ctx, exec, b, []witness.Witness{w}))

	got, err := s.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	require.Equal(t, exec.GoalInstanceID, got.GoalInstanceID)
	require.Equal(t, StatusActive, got.Status)
	require.Equal(t, exec.TemplateDigest, got.TemplateDigest)
	require.Equal(t, len(exec.Plan.Modules), len(got.Plan.Modules))

	byGoal, err := s.GetExecutionByGoal(ctx, exec.GoalInstanceID)
	require.NoError(t, err)
	require.Equal(t, exec.ID, byGoal.ID)

	gotW, err := s.GetWitness(ctx, exec.ID, mod.ID)
	require.NoError(t, err)
	require.Equal(t, w.Digest, gotW.Digest)
	require.Equal(t, w.ExpectedPlacements, gotW.ExpectedPlacements)

	events, err := s.ListEvents(ctx, exec.GoalInstanceID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, EventExecutionCreated, events[0].Kind)
}

func TestGetExecution_NotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetExecution(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

// Two executions for the same live goal key cannot coexist. The second
// create fails with ErrKeyConflict and leaves no partial rows behind.
func TestCreateExecution_LiveKeyConflict(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	mustCreate(t, s, 1)

	exec2, b2 := newExecution(2)
	b2.Key = "key-1"
	err := s.CreateExecution(ctx, exec2, b2, nil)
	require.ErrorIs(t, err, ErrKeyConflict)

	_, err = s.GetExecution(ctx, exec2.ID)
	require.ErrorIs(t, err, ErrNotFound, "conflicting create must roll back the execution row")
}

// A terminal execution releases its goal key: the partial unique index only
// covers live bindings, so a fresh execution may claim the key afterwards.
func TestCreateExecution_TerminalReleasesKey(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	exec1, _ := mustCreate(t, s, 1)
	require.NoError(t, s.AbandonExecution(ctx, exec1.ID, 10))

	exec2, b2 := newExecution(2)
	b2.Key = "key-1"
	require.NoError(t, s.CreateExecution(ctx, exec2, b2, nil))
}

func TestCompleteExecution_FlipsTerminalMirror(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	exec, b := mustCreate(t, s, 1)
	require.NoError(t, s.CompleteExecution(ctx, exec.ID, 20))

	got, err := s.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, got.Status)
	require.Equal(t, int64(20), got.UpdatedSeq)

	binding, err := s.GetBinding(ctx, b.GoalInstanceID)
	require.NoError(t, err)
	require.True(t, binding.Terminal)

	events, err := s.ListEvents(ctx, b.GoalInstanceID)
	require.NoError(t, err)
	require.Equal(t, EventExecutionCompleted, events[len(events)-1].Kind)
}

func TestReopenExecution_ResetsCompletionCounter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	exec, b := mustCreate(t, s, 1)
	require.NoError(t, s.PutCompletionState(ctx, CompletionState{
		ExecutionID:       exec.ID,
		VerifierID:        "witness-coverage",
		DefinitionVersion: 1,
		ConsecutivePasses: 2,
		LastPass:          true,
	}))
	require.NoError(t, s.CompleteExecution(ctx, exec.ID, 20))

	require.NoError(t, s.ReopenExecution(ctx, exec.ID, 30))

	got, err := s.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	require.Equal(t, StatusActive, got.Status)

	binding, err := s.GetBinding(ctx, b.GoalInstanceID)
	require.NoError(t, err)
	require.False(t, binding.Terminal, "reopening clears the terminal mirror")

	cs, err := s.GetCompletionState(ctx, exec.ID)
	require.NoError(t, err)
	require.Zero(t, cs.ConsecutivePasses)
	require.False(t, cs.LastPass)

	events, err := s.ListEvents(ctx, b.GoalInstanceID)
	require.NoError(t, err)
	require.Equal(t, EventRegressionDetected, events[len(events)-1].Kind)
}

func TestReplacePlan_RewritesPlanAndWitnesses(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	exec, _ := mustCreate(t, s, 1)
	site := testutil.DefaultSite()

	oldW, err := witness.Generate(exec.Plan.Modules[0], site)
	require.NoError(t, err)
	require.NoError(t, s.ReplacePlan(ctx, exec, []witness.Witness{oldW}))

	// Replan to a longer chain: cursor resets, witnesses regenerate.
	newPlan := testutil.Chain(5, 2)
	exec.Plan = newPlan
	exec.TemplateDigest = newPlan.TemplateDigest
	exec.ModuleCursor = 0
	exec.Completed = nil
	exec.UpdatedSeq = 40

	var newWs []witness.Witness
	for _, mod := range newPlan.Modules {
		w, err := witness.Generate(mod, site)
		require.NoError(t, err)
		newWs = append(newWs, w)
	}
	require.NoError(t, s.ReplacePlan(ctx, exec, newWs))

	got, err := s.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	require.Equal(t, newPlan.TemplateDigest, got.TemplateDigest)
	require.Len(t, got.Plan.Modules, 5)

	ws, err := s.ListWitnesses(ctx, exec.ID)
	require.NoError(t, err)
	require.Len(t, ws, 5)
}
