package world

import "fmt"

// Site is the immutable spatial anchor for one build: set once during
// bootstrap, read-only afterwards. Every witness, invariant probe, and
// Phase B goal key is derived from it.
type Site struct {
	// Position is where the build was requested.
	Position Pos `json:"position"`
	// Facing orients all north-relative plan offsets.
	Facing Facing `json:"facing"`
	// ReferenceCorner is the origin that plan offsets translate from.
	ReferenceCorner Pos `json:"reference_corner"`
	// Footprint bounds the entire build. No verification or invariant
	// probe may touch a position outside Footprint plus a small margin.
	Footprint Bounds `json:"footprint"`
}

// Validate checks internal consistency of the signature.
func (s Site) Validate() error {
	if !s.Facing.Valid() {
		return fmt.Errorf("invalid facing %q", s.Facing)
	}
	if !s.Footprint.Contains(s.ReferenceCorner) {
		return fmt.Errorf("reference corner %s outside footprint", s.ReferenceCorner)
	}
	return nil
}

// WorldPos translates a north-relative plan offset into world space:
// rotate by the site facing, then translate from the reference corner.
func (s Site) WorldPos(offset Pos) Pos {
	return s.ReferenceCorner.Add(s.Facing.Rotate(offset))
}

// Offset inverts WorldPos: it maps an absolute world position back into a
// north-relative plan offset. Repair generation uses this to re-express
// observed deltas in plan coordinates.
func (s Site) Offset(p Pos) Pos {
	return s.Facing.Unrotate(p.Sub(s.ReferenceCorner))
}
