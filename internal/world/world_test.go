package world

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestFacing_Rotate verifies the four cardinal rotations of a north-relative
// offset. A full cycle of quarter turns must return to the original offset.
func TestFacing_Rotate(t *testing.T) {
	offset := Pos{X: 2, Y: 1, Z: 3}

	assert.Equal(t, Pos{X: 2, Y: 1, Z: 3}, FacingNorth.Rotate(offset))
	assert.Equal(t, Pos{X: -3, Y: 1, Z: 2}, FacingEast.Rotate(offset))
	assert.Equal(t, Pos{X: -2, Y: 1, Z: -3}, FacingSouth.Rotate(offset))
	assert.Equal(t, Pos{X: 3, Y: 1, Z: -2}, FacingWest.Rotate(offset))
}

// TestFacing_RotatePreservesY verifies rotation never touches Y.
func TestFacing_RotatePreservesY(t *testing.T) {
	for _, f := range []Facing{FacingNorth, FacingEast, FacingSouth, FacingWest} {
		got := f.Rotate(Pos{X: 5, Y: 42, Z: -7})
		assert.Equal(t, int64(42), got.Y, "facing %s", f)
	}
}

// TestBounds_Contains covers interior, boundary, and exterior points.
func TestBounds_Contains(t *testing.T) {
	b := Bounds{Min: Pos{X: 0, Y: 60, Z: 0}, Max: Pos{X: 10, Y: 70, Z: 10}}

	assert.True(t, b.Contains(Pos{X: 5, Y: 65, Z: 5}))
	assert.True(t, b.Contains(Pos{X: 0, Y: 60, Z: 0}), "min corner is inclusive")
	assert.True(t, b.Contains(Pos{X: 10, Y: 70, Z: 10}), "max corner is inclusive")
	assert.False(t, b.Contains(Pos{X: 11, Y: 65, Z: 5}))
	assert.False(t, b.Contains(Pos{X: 5, Y: 59, Z: 5}))
}

// TestBounds_Expand verifies the margin grows every axis symmetrically.
func TestBounds_Expand(t *testing.T) {
	b := Bounds{Min: Pos{X: 0, Y: 0, Z: 0}, Max: Pos{X: 4, Y: 4, Z: 4}}
	e := b.Expand(3)

	assert.Equal(t, Pos{X: -3, Y: -3, Z: -3}, e.Min)
	assert.Equal(t, Pos{X: 7, Y: 7, Z: 7}, e.Max)
}

// TestPos_Less verifies the lexicographic ordering used for deterministic
// witness serialization.
func TestPos_Less(t *testing.T) {
	assert.True(t, Pos{X: 0, Y: 9, Z: 9}.Less(Pos{X: 1, Y: 0, Z: 0}))
	assert.True(t, Pos{X: 1, Y: 2, Z: 9}.Less(Pos{X: 1, Y: 3, Z: 0}))
	assert.True(t, Pos{X: 1, Y: 2, Z: 3}.Less(Pos{X: 1, Y: 2, Z: 4}))
	assert.False(t, Pos{X: 1, Y: 2, Z: 3}.Less(Pos{X: 1, Y: 2, Z: 3}))
}

// TestPos_ChebyshevDistance verifies horizontal king-move distance.
func TestPos_ChebyshevDistance(t *testing.T) {
	assert.Equal(t, int64(7), Pos{X: 0, Y: 0, Z: 0}.ChebyshevDistance(Pos{X: 7, Y: 100, Z: 3}))
	assert.Equal(t, int64(9), Pos{X: -2, Y: 0, Z: 5}.ChebyshevDistance(Pos{X: 1, Y: 0, Z: -4}))
}

// TestFacing_UnrotateInvertsRotate verifies the round trip for every facing
// and a spread of offsets.
func TestFacing_UnrotateInvertsRotate(t *testing.T) {
	offsets := []Pos{
		{X: 0, Y: 0, Z: 0},
		{X: 3, Y: 1, Z: -2},
		{X: -5, Y: 7, Z: 11},
	}
	for _, f := range []Facing{FacingNorth, FacingEast, FacingSouth, FacingWest} {
		for _, o := range offsets {
			assert.Equal(t, o, f.Unrotate(f.Rotate(o)), "facing %s offset %s", f, o)
		}
	}
}

// TestSite_OffsetInvertsWorldPos verifies repair coordinate re-expression.
func TestSite_OffsetInvertsWorldPos(t *testing.T) {
	site := Site{
		Facing:          FacingEast,
		ReferenceCorner: Pos{X: 100, Y: 64, Z: -40},
		Footprint: Bounds{
			Min: Pos{X: 80, Y: 48, Z: -60},
			Max: Pos{X: 120, Y: 96, Z: -20},
		},
	}
	offset := Pos{X: 4, Y: 2, Z: -3}
	assert.Equal(t, offset, site.Offset(site.WorldPos(offset)))
}
