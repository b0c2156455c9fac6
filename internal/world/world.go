// Package world defines the spatial types and the World State Oracle
// interface mason consumes. The oracle is an external collaborator: mason
// only ever issues point or bounded queries against it, never full-world
// scans.
package world

import (
	"context"
	"fmt"

	"github.com/roach88/mason/internal/ir"
)

// ContentID identifies the content of one block position.
// The empty string means the position holds nothing.
type ContentID string

// Empty is the ContentID of an unoccupied position.
const Empty ContentID = ""

// Pos is an absolute or relative block position. Coordinates are int64 -
// there are no float types anywhere in mason's data model.
type Pos struct {
	X int64 `json:"x"`
	Y int64 `json:"y"`
	Z int64 `json:"z"`
}

// Add returns p translated by d.
func (p Pos) Add(d Pos) Pos {
	return Pos{X: p.X + d.X, Y: p.Y + d.Y, Z: p.Z + d.Z}
}

// Sub returns p translated by -d.
func (p Pos) Sub(d Pos) Pos {
	return Pos{X: p.X - d.X, Y: p.Y - d.Y, Z: p.Z - d.Z}
}

// Less orders positions lexicographically (X, then Y, then Z).
// Used wherever a deterministic position ordering is required.
func (p Pos) Less(q Pos) bool {
	if p.X != q.X {
		return p.X < q.X
	}
	if p.Y != q.Y {
		return p.Y < q.Y
	}
	return p.Z < q.Z
}

// String formats the position as "(x,y,z)".
func (p Pos) String() string {
	return fmt.Sprintf("(%d,%d,%d)", p.X, p.Y, p.Z)
}

// IR returns the canonical object form of the position for digesting.
func (p Pos) IR() ir.Object {
	return ir.Object{"x": ir.Int(p.X), "y": ir.Int(p.Y), "z": ir.Int(p.Z)}
}

// ChebyshevDistance returns the Chebyshev (king-move) distance between two
// positions on the horizontal plane. Used for bounded proximity checks -
// mason never does pathfinding reachability.
func (p Pos) ChebyshevDistance(q Pos) int64 {
	dx := abs64(p.X - q.X)
	dz := abs64(p.Z - q.Z)
	if dx > dz {
		return dx
	}
	return dz
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// Bounds is an inclusive axis-aligned box.
type Bounds struct {
	Min Pos `json:"min"`
	Max Pos `json:"max"`
}

// Contains reports whether p lies inside the box.
func (b Bounds) Contains(p Pos) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// Expand returns the box grown by margin blocks on every axis.
func (b Bounds) Expand(margin int64) Bounds {
	return Bounds{
		Min: Pos{X: b.Min.X - margin, Y: b.Min.Y - margin, Z: b.Min.Z - margin},
		Max: Pos{X: b.Max.X + margin, Y: b.Max.Y + margin, Z: b.Max.Z + margin},
	}
}

// Facing is a cardinal orientation. Offsets in plans are authored relative
// to north and rotated into world space at witness-generation time.
type Facing string

const (
	FacingNorth Facing = "north"
	FacingEast  Facing = "east"
	FacingSouth Facing = "south"
	FacingWest  Facing = "west"
)

// Valid reports whether f is one of the four cardinal facings.
func (f Facing) Valid() bool {
	switch f {
	case FacingNorth, FacingEast, FacingSouth, FacingWest:
		return true
	}
	return false
}

// Rotate rotates a north-relative offset into the facing's frame.
// Y is never affected.
func (f Facing) Rotate(offset Pos) Pos {
	switch f {
	case FacingEast:
		return Pos{X: -offset.Z, Y: offset.Y, Z: offset.X}
	case FacingSouth:
		return Pos{X: -offset.X, Y: offset.Y, Z: -offset.Z}
	case FacingWest:
		return Pos{X: offset.Z, Y: offset.Y, Z: -offset.X}
	default:
		return offset
	}
}

// Unrotate inverts Rotate: it maps a world-frame offset back into the
// north-relative authoring frame.
func (f Facing) Unrotate(offset Pos) Pos {
	switch f {
	case FacingEast:
		return Pos{X: offset.Z, Y: offset.Y, Z: -offset.X}
	case FacingSouth:
		return Pos{X: -offset.X, Y: offset.Y, Z: -offset.Z}
	case FacingWest:
		return Pos{X: -offset.Z, Y: offset.Y, Z: offset.X}
	default:
		return offset
	}
}

// Oracle is the World State Oracle consumed by mason.
//
// Both methods must be point/bounded queries. BlockAt returns Empty for an
// unoccupied position. Implementations are expected to reflect the live
// world - mason relies on re-querying to observe drift.
type Oracle interface {
	BlockAt(ctx context.Context, p Pos) (ContentID, error)
	InventorySnapshot(ctx context.Context) (map[string]int64, error)
}
