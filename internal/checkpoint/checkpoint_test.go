package checkpoint

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/mason/internal/store"
	"github.com/roach88/mason/internal/testutil"
	"github.com/roach88/mason/internal/witness"
)

func setup(t *testing.T) (*Manager, *store.Store, *testutil.FakeOracle, store.Execution, store.Binding) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "mason.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	oracle := testutil.NewFakeOracle()
	oracle.SetInventory("stone", 64)

	macro := testutil.Chain(3, 2)
	exec := store.Execution{
		ID:             "exec-1",
		GoalInstanceID: "goal-1",
		Status:         store.StatusActive,
		Completed:      []string{},
		TemplateDigest: macro.TemplateDigest,
		Site:           testutil.DefaultSite(),
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
	require.NoError(t, s.CreateExecution(context.Background(), exec, b, nil))
	return NewManager(s, oracle), s, oracle, exec, b
}

// realize puts every op effect of mod into the world so the boundary
// invariants see a clean module.
func realize(t *testing.T, oracle *testutil.FakeOracle, exec store.Execution, modIndex int) witness.Witness {
	t.Helper()
	mod := exec.Plan.Modules[modIndex]
	for _, op := range mod.Ops {
		oracle.Set(exec.Site.WorldPos(op.Offset), op.Content)
	}
	w, err := witness.Generate(mod, exec.Site)
	require.NoError(t, err)
	return w
}

func TestTake_AdvancesAndSnapshots(t *testing.T) {
	m, s, oracle, exec, b := setup(t)
	ctx := context.Background()

	w := realize(t, oracle, exec, 0)
	cp, err := m.Take(ctx, exec, b.GoalInstanceID, exec.Plan.Modules[0], w, witness.Diff{}, 10)
	require.NoError(t, err)
	require.Equal(t, int64(1), cp.ModuleCursor)
	require.Equal(t, []string{exec.Plan.Modules[0].ID}, cp.Completed)
	require.Equal(t, int64(64), cp.InventorySummary["stone"])

	got, err := s.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), got.ModuleCursor)

	cps, err := s.ListCheckpoints(ctx, exec.ID)
	require.NoError(t, err)
	require.Len(t, cps, 1)
	require.Equal(t, cp.InvariantResults, cps[0].InvariantResults)
}

// Every checkpoint runs the fixed invariant set and persists the results;
// a boundary record with no invariant outcomes never exists.
func TestTake_RunsBoundaryInvariants(t *testing.T) {
	m, s, oracle, exec, b := setup(t)
	ctx := context.Background()

	w := realize(t, oracle, exec, 0)
	cp, err := m.Take(ctx, exec, b.GoalInstanceID, exec.Plan.Modules[0], w, witness.Diff{}, 10)
	require.NoError(t, err)

	var names []string
	for _, r := range cp.InvariantResults {
		names = append(names, r.Name)
		require.True(t, r.Passed, "invariant %s: %s", r.Name, r.Detail)
	}
	require.Equal(t, []string{
		"access_clear", "footprint_respected", "stations_reachable", "witness_satisfied",
	}, names)

	cps, err := s.ListCheckpoints(ctx, exec.ID)
	require.NoError(t, err)
	require.NotEmpty(t, cps[0].InvariantResults)
}

// A boundary whose witness the world does not satisfy still persists a
// record when the caller accepted the deltas, and the invariant results
// carry the failure.
func TestTake_RecordsFailedInvariant(t *testing.T) {
	m, _, oracle, exec, b := setup(t)
	ctx := context.Background()

	mod := exec.Plan.Modules[0]
	w, err := witness.Generate(mod, exec.Site)
	require.NoError(t, err)
	// Only the first op realized, the rest missing.
	oracle.Set(exec.Site.WorldPos(mod.Ops[0].Offset), mod.Ops[0].Content)

	cp, err := m.Take(ctx, exec, b.GoalInstanceID, mod, w, witness.Diff{}, 10)
	require.NoError(t, err)

	byName := make(map[string]bool, len(cp.InvariantResults))
	for _, r := range cp.InvariantResults {
		byName[r.Name] = r.Passed
	}
	require.True(t, byName["access_clear"])
	require.False(t, byName["witness_satisfied"])
}

// Replaying the same module boundary yields the same content-addressed ID
// and exactly one stored record.
func TestTake_BoundaryReplayConverges(t *testing.T) {
	m, s, oracle, exec, b := setup(t)
	ctx := context.Background()

	mod := exec.Plan.Modules[0]
	w := realize(t, oracle, exec, 0)
	cp1, err := m.Take(ctx, exec, b.GoalInstanceID, mod, w, witness.Diff{}, 10)
	require.NoError(t, err)
	cp2, err := m.Take(ctx, exec, b.GoalInstanceID, mod, w, witness.Diff{}, 11)
	require.NoError(t, err)
	require.Equal(t, cp1.ID, cp2.ID)

	cps, err := s.ListCheckpoints(ctx, exec.ID)
	require.NoError(t, err)
	require.Len(t, cps, 1)
}

func TestTake_SequentialBoundaries(t *testing.T) {
	m, s, oracle, exec, b := setup(t)
	ctx := context.Background()

	var ids []string
	for i := range exec.Plan.Modules {
		mod := exec.Plan.Modules[i]
		w := realize(t, oracle, exec, i)
		cp, err := m.Take(ctx, exec, b.GoalInstanceID, mod, w, witness.Diff{}, 10+exec.ModuleCursor)
		require.NoError(t, err)
		ids = append(ids, cp.ID)

		// The executor reloads the execution after each boundary.
		var errGet error
		exec, errGet = s.GetExecution(ctx, exec.ID)
		require.NoError(t, errGet)
	}

	require.Equal(t, int64(3), exec.ModuleCursor)
	require.Len(t, exec.Completed, 3)
	for i := range ids {
		for j := i + 1; j < len(ids); j++ {
			require.NotEqual(t, ids[i], ids[j], fmt.Sprintf("checkpoint %d and %d must differ", i, j))
		}
	}
}
