package witness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mason/internal/plan"
	"github.com/roach88/mason/internal/testutil"
	"github.com/roach88/mason/internal/world"
)

// TestGenerate_Deterministic verifies the same module and site produce the
// same digest across independent runs.
func TestGenerate_Deterministic(t *testing.T) {
	mod := testutil.Row("mod-1", 6)
	site := testutil.DefaultSite()

	first, err := Generate(mod, site)
	require.NoError(t, err)
	require.NotEmpty(t, first.Digest)

	for i := 0; i < 5; i++ {
		again, err := Generate(mod, site)
		require.NoError(t, err)
		assert.Equal(t, first.Digest, again.Digest)
	}
}

// TestGenerate_LastOpWins verifies a position written twice keeps only the
// final op's content in the witness.
func TestGenerate_LastOpWins(t *testing.T) {
	mod := plan.Module{
		ID: "mod-1",
		Ops: []plan.Op{
			{Kind: plan.OpPlace, Offset: world.Pos{X: 0, Y: 0, Z: 0}, Content: "dirt"},
			{Kind: plan.OpPlace, Offset: world.Pos{X: 0, Y: 0, Z: 0}, Content: "stone"},
			{Kind: plan.OpPlace, Offset: world.Pos{X: 1, Y: 0, Z: 0}, Content: "stone"},
			{Kind: plan.OpRemove, Offset: world.Pos{X: 1, Y: 0, Z: 0}},
		},
	}
	site := testutil.DefaultSite()

	w, err := Generate(mod, site)
	require.NoError(t, err)

	require.Len(t, w.ExpectedPlacements, 1)
	assert.Equal(t, world.ContentID("stone"), w.ExpectedPlacements[0].Content)
	require.Len(t, w.RequiredEmpty, 1)
	assert.Equal(t, site.WorldPos(world.Pos{X: 1, Y: 0, Z: 0}), w.RequiredEmpty[0])
}

// TestGenerate_OpeningsBecomeRequiredEmpty verifies declared openings join
// the required-empty set and may not collide with op positions.
func TestGenerate_OpeningsBecomeRequiredEmpty(t *testing.T) {
	mod := testutil.Row("mod-1", 2)
	mod.Openings = []world.Pos{{X: 0, Y: 1, Z: 0}}
	site := testutil.DefaultSite()

	w, err := Generate(mod, site)
	require.NoError(t, err)
	require.Len(t, w.RequiredEmpty, 1)

	// Colliding opening is a plan authoring error.
	mod.Openings = []world.Pos{{X: 0, Y: 0, Z: 0}}
	_, err = Generate(mod, site)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collides")
}

// TestGenerate_FacingRotatesPositions verifies witness positions move with
// the site facing while the instance identity (digest) changes with them.
func TestGenerate_FacingRotatesPositions(t *testing.T) {
	mod := testutil.Row("mod-1", 2)
	north := testutil.DefaultSite()
	east := north
	east.Facing = world.FacingEast

	wn, err := Generate(mod, north)
	require.NoError(t, err)
	we, err := Generate(mod, east)
	require.NoError(t, err)

	assert.NotEqual(t, wn.Digest, we.Digest)
	assert.NotEqual(t, wn.ExpectedPlacements[1].Pos, we.ExpectedPlacements[1].Pos)
}

// TestVerify_DiffClassification covers satisfied, missing, wrong, and
// unexpected positions in one pass.
func TestVerify_DiffClassification(t *testing.T) {
	mod := testutil.Row("mod-1", 3)
	mod.Openings = []world.Pos{{X: 0, Y: 1, Z: 0}}
	site := testutil.DefaultSite()
	w, err := Generate(mod, site)
	require.NoError(t, err)

	oracle := testutil.NewFakeOracle()
	oracle.Set(site.WorldPos(world.Pos{X: 0, Y: 0, Z: 0}), "stone")  // satisfied
	oracle.Set(site.WorldPos(world.Pos{X: 1, Y: 0, Z: 0}), "gravel") // wrong
	// X:2 left missing
	oracle.Set(site.WorldPos(world.Pos{X: 0, Y: 1, Z: 0}), "cobblestone") // unexpected

	diff, err := NewVerifier(oracle).Verify(context.Background(), w)
	require.NoError(t, err)

	assert.False(t, diff.Empty())
	require.Len(t, diff.Missing, 1)
	assert.Equal(t, site.WorldPos(world.Pos{X: 2, Y: 0, Z: 0}), diff.Missing[0].Pos)
	require.Len(t, diff.Wrong, 1)
	assert.Equal(t, site.WorldPos(world.Pos{X: 1, Y: 0, Z: 0}), diff.Wrong[0].Pos)
	require.Len(t, diff.Unexpected, 1)
}

// TestVerify_Bounded asserts verification queries only declared positions,
// regardless of how much of the world is populated.
func TestVerify_Bounded(t *testing.T) {
	mod := testutil.Row("mod-1", 4)
	site := testutil.DefaultSite()
	w, err := Generate(mod, site)
	require.NoError(t, err)

	oracle := testutil.NewFakeOracle()
	// Populate a large unrelated region.
	for x := int64(100); x < 200; x++ {
		oracle.Set(world.Pos{X: x, Y: 64, Z: 100}, "stone")
	}
	testutil.ApplyModule(oracle, mod, site)
	oracle.ResetQueries()

	diff, err := NewVerifier(oracle).Verify(context.Background(), w)
	require.NoError(t, err)
	assert.True(t, diff.Empty())
	assert.Equal(t, len(w.DeclaredPositions()), oracle.Queries(),
		"each declared position queried exactly once, nothing else")
}

// TestVerify_CacheDoesNotOutlivePass verifies drift is observable on the
// next verification pass (no cross-pass caching).
func TestVerify_CacheDoesNotOutlivePass(t *testing.T) {
	mod := testutil.Row("mod-1", 2)
	site := testutil.DefaultSite()
	w, err := Generate(mod, site)
	require.NoError(t, err)

	oracle := testutil.NewFakeOracle()
	testutil.ApplyModule(oracle, mod, site)
	v := NewVerifier(oracle)

	diff, err := v.Verify(context.Background(), w)
	require.NoError(t, err)
	require.True(t, diff.Empty())

	oracle.Clear(site.WorldPos(world.Pos{X: 1, Y: 0, Z: 0}))

	diff, err = v.Verify(context.Background(), w)
	require.NoError(t, err)
	require.Len(t, diff.Missing, 1)
}

// TestDiff_Coverage verifies the integer-percent coverage computation that
// drives the destroyed threshold.
func TestDiff_Coverage(t *testing.T) {
	d := Diff{
		Missing: []Placement{{}, {}, {}},
		Wrong:   []Placement{{}},
	}
	assert.Equal(t, int64(80), d.Coverage(5))
	assert.Equal(t, int64(40), d.Coverage(10))
	assert.Equal(t, int64(0), Diff{}.Coverage(5))
	assert.Equal(t, int64(0), Diff{}.Coverage(0))
}
