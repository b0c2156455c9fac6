package resume

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/mason/internal/exec"
	"github.com/roach88/mason/internal/plan"
	"github.com/roach88/mason/internal/store"
	"github.com/roach88/mason/internal/testutil"
	"github.com/roach88/mason/internal/witness"
	"github.com/roach88/mason/internal/world"
)

type fixture struct {
	store   *store.Store
	oracle  *testutil.FakeOracle
	exec    store.Execution
	binding store.Binding
	clock   *exec.Clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "mason.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	oracle := testutil.NewFakeOracle()
	macro := testutil.Chain(3, 3)
	site := testutil.DefaultSite()

	ex := store.Execution{
		ID:             "exec-1",
		GoalInstanceID: "goal-1",
		Status:         store.StatusActive,
		Completed:      []string{},
		TemplateDigest: macro.TemplateDigest,
		Site:           site,
		Plan:           macro,
		CreatedSeq:     1,
		UpdatedSeq:     1,
	}
	b := store.Binding{
		GoalInstanceID: "goal-1",
		ExecutionID:    "exec-1",
		GoalType:       "build_shelter",
		Key:            "key-1",
		Phase:          store.PhaseA,
		CreatedSeq:     1,
	}

	var ws []witness.Witness
	for _, mod := range macro.Modules {
		w, err := witness.Generate(mod, site)
		require.NoError(t, err)
		ws = append(ws, w)
	}
	require.NoError(t, s.CreateExecution(context.Background(), ex, b, ws))

	return &fixture{store: s, oracle: oracle, exec: ex, binding: b, clock: exec.NewClockAt(100)}
}

func (f *fixture) planner() *Planner {
	return NewPlanner(f.store, f.oracle, f.clock)
}

// completeModule simulates a finished, checkpointed module: its ops applied
// to the world, confirmed in the ledger, cursor advanced.
func (f *fixture) completeModule(t *testing.T, index int) {
	t.Helper()
	ctx := context.Background()
	mod := f.exec.Plan.Modules[index]
	testutil.ApplyModule(f.oracle, mod, f.exec.Site)
	for i, op := range mod.Ops {
		opID, err := op.ID(mod.ID, i)
		require.NoError(t, err)
		require.NoError(t, f.store.MarkOpConfirmed(ctx, store.LedgerEntry{
			ExecutionID: f.exec.ID,
			ModuleID:    mod.ID,
			OpID:        opID,
			OpIndex:     i,
			Seq:         f.clock.Next(),
		}))
	}
	require.NoError(t, f.store.AppendCheckpoint(ctx, f.binding.GoalInstanceID, store.Checkpoint{
		ID:               "cp-" + mod.ID,
		ExecutionID:      f.exec.ID,
		ModuleCursor:     int64(index + 1),
		Completed:        append(append([]string{}, f.exec.Completed...), mod.ID),
		InventorySummary: map[string]int64{},
		SavedAtSeq:       f.clock.Next(),
	}))
	f.exec.Completed = append(f.exec.Completed, mod.ID)
	f.exec.ModuleCursor = int64(index + 1)
}

// markOp writes a started mark, optionally applying the op's effect to the
// world, simulating a crash at various points of the started/effect/
// confirmed sequence.
func (f *fixture) markOp(t *testing.T, modIndex, opIndex int, applied bool) {
	t.Helper()
	mod := f.exec.Plan.Modules[modIndex]
	op := mod.Ops[opIndex]
	opID, err := op.ID(mod.ID, opIndex)
	require.NoError(t, err)
	require.NoError(t, f.store.MarkOpStarted(context.Background(), store.LedgerEntry{
		ExecutionID: f.exec.ID,
		ModuleID:    mod.ID,
		OpID:        opID,
		OpIndex:     opIndex,
		Seq:         f.clock.Next(),
	}))
	if applied {
		f.oracle.Set(f.exec.Site.WorldPos(op.Offset), op.Content)
	}
}

func (f *fixture) recover(t *testing.T) store.Record {
	t.Helper()
	rec, err := f.store.RecoverExecution(context.Background(), f.exec.ID)
	require.NoError(t, err)
	return rec
}

// Crash mid-module-2 of a three-module build: one op landed but was never
// confirmed, one op never ran. Resume confirms the landed op and plans a
// repair of exactly the absent one.
func TestPlan_MidModuleCrash(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.completeModule(t, 0)
	mod := f.exec.Plan.Modules[1]
	f.markOp(t, 1, 0, true) // confirmed-equivalent: started and landed
	f.markOp(t, 1, 1, true) // crashed between effect and confirm
	// op 2 never started

	out, err := f.planner().Plan(ctx, f.recover(t))
	require.NoError(t, err)

	require.Equal(t, DecisionRepair, out.Decision)
	require.Equal(t, ClassPartiallyCompleted, out.Classification)
	require.Equal(t, mod.ID, out.ModuleID)
	require.Equal(t, 2, out.Reconciled)

	require.Len(t, out.Repair, 1)
	require.Equal(t, plan.OpPlace, out.Repair[0].Kind)
	require.Equal(t, mod.Ops[2].Offset, out.Repair[0].Offset)
	require.Equal(t, mod.Ops[2].Content, out.Repair[0].Content)

	unconfirmed, err := f.store.ListUnconfirmed(ctx, f.exec.ID)
	require.NoError(t, err)
	require.Empty(t, unconfirmed, "landed ops must be confirmed by reconciliation")
}

// A module whose every op landed just before the crash advances without
// re-executing anything.
func TestPlan_IntactAdvances(t *testing.T) {
	f := newFixture(t)

	f.completeModule(t, 0)
	mod := f.exec.Plan.Modules[1]
	testutil.ApplyModule(f.oracle, mod, f.exec.Site)
	for i := range mod.Ops {
		f.markOp(t, 1, i, false) // effects already applied above
	}

	out, err := f.planner().Plan(context.Background(), f.recover(t))
	require.NoError(t, err)
	require.Equal(t, DecisionAdvance, out.Decision)
	require.Equal(t, ClassIntact, out.Classification)
	require.Empty(t, out.Repair)
	require.Equal(t, len(mod.Ops), out.Reconciled)
}

// Planning is idempotent: a second pass over the same world reaches the
// same decision with nothing further to reconcile.
func TestPlan_Idempotent(t *testing.T) {
	f := newFixture(t)

	f.completeModule(t, 0)
	f.markOp(t, 1, 0, true)

	p := f.planner()
	first, err := p.Plan(context.Background(), f.recover(t))
	require.NoError(t, err)
	second, err := p.Plan(context.Background(), f.recover(t))
	require.NoError(t, err)

	require.Equal(t, first.Decision, second.Decision)
	require.Equal(t, first.Classification, second.Classification)
	require.Equal(t, first.Repair, second.Repair)
	require.Zero(t, second.Reconciled, "everything was reconciled on the first pass")
}

// Wrong content at an expected position classifies as drift; the repair
// removes the intruder and re-places the expected content at the same
// offset.
func TestPlan_DriftedRepairsInPlace(t *testing.T) {
	f := newFixture(t)

	f.completeModule(t, 0)
	mod := f.exec.Plan.Modules[1]
	testutil.ApplyModule(f.oracle, mod, f.exec.Site)
	driftPos := f.exec.Site.WorldPos(mod.Ops[1].Offset)
	f.oracle.Set(driftPos, "gravel")

	out, err := f.planner().Plan(context.Background(), f.recover(t))
	require.NoError(t, err)
	require.Equal(t, DecisionRepair, out.Decision)
	require.Equal(t, ClassDrifted, out.Classification)

	require.Len(t, out.Repair, 2)
	require.Equal(t, plan.OpRemove, out.Repair[0].Kind)
	require.Equal(t, mod.Ops[1].Offset, out.Repair[0].Offset)
	require.Equal(t, plan.OpPlace, out.Repair[1].Kind)
	require.Equal(t, mod.Ops[1].Offset, out.Repair[1].Offset)
	require.Equal(t, mod.Ops[1].Content, out.Repair[1].Content)
}

// Coverage above the destroyed threshold regenerates the module instead of
// patching it block by block.
func TestPlan_DestroyedRegenerates(t *testing.T) {
	f := newFixture(t)

	f.completeModule(t, 0)
	// Module 2 never materialized at all: 100% of placements missing.
	out, err := f.planner().Plan(context.Background(), f.recover(t))
	require.NoError(t, err)
	require.Equal(t, DecisionRegenerateModule, out.Decision)
	require.Equal(t, ClassDestroyed, out.Classification)
	require.Empty(t, out.Repair)
}

// failingOracle refuses all reads, standing in for an unloaded or
// unrecognizable region.
type failingOracle struct{}

func (failingOracle) BlockAt(context.Context, world.Pos) (world.ContentID, error) {
	return world.Empty, errors.New("region not loaded")
}

func (failingOracle) InventorySnapshot(context.Context) (map[string]int64, error) {
	return nil, errors.New("region not loaded")
}

func TestPlan_SiteInvalidReplans(t *testing.T) {
	f := newFixture(t)

	p := NewPlanner(f.store, failingOracle{}, f.clock)
	out, err := p.Plan(context.Background(), f.recover(t))
	require.NoError(t, err)
	require.Equal(t, DecisionReplanBuild, out.Decision)
	require.Equal(t, ClassSiteInvalid, out.Classification)
}

// A plan past its last module advances straight to completion.
func TestPlan_ExhaustedPlanAdvances(t *testing.T) {
	f := newFixture(t)

	for i := range f.exec.Plan.Modules {
		f.completeModule(t, i)
	}

	out, err := f.planner().Plan(context.Background(), f.recover(t))
	require.NoError(t, err)
	require.Equal(t, DecisionAdvance, out.Decision)
	require.Empty(t, out.ModuleID)
}

func TestBuildRepair_OrderedAndInverted(t *testing.T) {
	site := world.Site{
		Facing:          world.FacingEast,
		ReferenceCorner: world.Pos{X: 10, Y: 64, Z: 10},
		Footprint: world.Bounds{
			Min: world.Pos{X: 0, Y: 48, Z: 0},
			Max: world.Pos{X: 32, Y: 96, Z: 32},
		},
	}
	wrong := witness.Placement{Pos: site.WorldPos(world.Pos{X: 2, Y: 0, Z: 0}), Content: "stone"}
	missing := witness.Placement{Pos: site.WorldPos(world.Pos{X: 1, Y: 0, Z: 0}), Content: "stone"}
	unexpected := site.WorldPos(world.Pos{X: 0, Y: 1, Z: 0})

	ops := BuildRepair(site, witness.Diff{
		Missing:    []witness.Placement{missing},
		Wrong:      []witness.Placement{wrong},
		Unexpected: []world.Pos{unexpected},
	})

	require.Len(t, ops, 4)
	// Removes lead, and every offset is back in the authoring frame.
	require.Equal(t, plan.OpRemove, ops[0].Kind)
	require.Equal(t, plan.OpRemove, ops[1].Kind)
	require.Equal(t, plan.OpPlace, ops[2].Kind)
	require.Equal(t, plan.OpPlace, ops[3].Kind)

	offsets := map[world.Pos]bool{}
	for _, op := range ops {
		offsets[op.Offset] = true
	}
	require.True(t, offsets[world.Pos{X: 2, Y: 0, Z: 0}])
	require.True(t, offsets[world.Pos{X: 1, Y: 0, Z: 0}])
	require.True(t, offsets[world.Pos{X: 0, Y: 1, Z: 0}])
}
