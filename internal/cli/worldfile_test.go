package cli

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/mason/internal/plan"
	"github.com/roach88/mason/internal/world"
)

func TestWorldFile_MissingFileIsEmptyWorld(t *testing.T) {
	w, err := LoadWorldFile(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)

	c, err := w.BlockAt(context.Background(), world.Pos{X: 1, Y: 2, Z: 3})
	require.NoError(t, err)
	require.Equal(t, world.Empty, c)
}

func TestWorldFile_RunAndRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "world.json")
	ctx := context.Background()
	pos := world.Pos{X: 4, Y: 64, Z: -2}

	w, err := LoadWorldFile(path)
	require.NoError(t, err)
	require.NoError(t, w.Run(ctx, plan.Op{Kind: plan.OpPlace, Content: "stone"}, pos))
	w.Inventory["stone"] = 12
	require.NoError(t, w.Save())

	reloaded, err := LoadWorldFile(path)
	require.NoError(t, err)
	c, err := reloaded.BlockAt(ctx, pos)
	require.NoError(t, err)
	require.Equal(t, world.ContentID("stone"), c)

	inv, err := reloaded.InventorySnapshot(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 12, inv["stone"])

	require.NoError(t, reloaded.Run(ctx, plan.Op{Kind: plan.OpRemove}, pos))
	c, err = reloaded.BlockAt(ctx, pos)
	require.NoError(t, err)
	require.Equal(t, world.Empty, c)
}

func TestParsePos(t *testing.T) {
	p, err := parsePos("10, -3,64")
	require.NoError(t, err)
	require.Equal(t, world.Pos{X: 10, Y: -3, Z: 64}, p)

	_, err = parsePos("10,64")
	require.Error(t, err)
	_, err = parsePos("a,b,c")
	require.Error(t, err)
}
