// Package witness implements witness generation and module verification.
//
// A witness is the deterministic, content-addressed description of a
// module's expected end-state: the positions that must hold specific
// content and the positions that must be empty. It is generated once at
// plan time and never mutated; it is the sole authority for "done".
//
// Verification is strictly bounded: only the witness's declared positions
// are ever queried, so cost scales with plan size, never world size.
package witness

import (
	"fmt"
	"sort"

	"github.com/roach88/mason/internal/ir"
	"github.com/roach88/mason/internal/plan"
	"github.com/roach88/mason/internal/world"
)

// Placement is one expected (position, content) pair in world space.
type Placement struct {
	Pos     world.Pos       `json:"pos"`
	Content world.ContentID `json:"content"`
}

// Witness describes a module's expected end-state.
type Witness struct {
	ModuleID        string       `json:"module_id"`
	ReferenceCorner world.Pos    `json:"reference_corner"`
	Facing          world.Facing `json:"facing"`
	// ExpectedPlacements is sorted by position; for a position written
	// multiple times by the module, the last op wins.
	ExpectedPlacements []Placement `json:"expected_placements"`
	// RequiredEmpty is sorted by position.
	RequiredEmpty []world.Pos `json:"required_empty"`
	// Digest is the content address of the two lists; a cheap equality
	// check for "same expected end-state" across sessions.
	Digest string `json:"digest"`
}

// Generate builds the witness for a module at a site. The result is
// deterministic: same module and site produce the same digest on every run.
func Generate(mod plan.Module, site world.Site) (Witness, error) {
	// Last op wins per position: replay the op list into a map, then sort.
	final := make(map[world.Pos]world.ContentID, len(mod.Ops))
	for _, op := range mod.Ops {
		p := site.WorldPos(op.Offset)
		switch op.Kind {
		case plan.OpPlace:
			final[p] = op.Content
		case plan.OpRemove:
			final[p] = world.Empty
		default:
			return Witness{}, fmt.Errorf("module %s: unknown op kind %q", mod.ID, op.Kind)
		}
	}

	w := Witness{
		ModuleID:        mod.ID,
		ReferenceCorner: site.ReferenceCorner,
		Facing:          site.Facing,
	}

	for p, content := range final {
		if content == world.Empty {
			w.RequiredEmpty = append(w.RequiredEmpty, p)
		} else {
			w.ExpectedPlacements = append(w.ExpectedPlacements, Placement{Pos: p, Content: content})
		}
	}
	for _, opening := range mod.Openings {
		p := site.WorldPos(opening)
		if _, claimed := final[p]; claimed {
			return Witness{}, fmt.Errorf("module %s: opening %s collides with an op position", mod.ID, p)
		}
		w.RequiredEmpty = append(w.RequiredEmpty, p)
	}

	sort.Slice(w.ExpectedPlacements, func(i, j int) bool {
		return w.ExpectedPlacements[i].Pos.Less(w.ExpectedPlacements[j].Pos)
	})
	sort.Slice(w.RequiredEmpty, func(i, j int) bool {
		return w.RequiredEmpty[i].Less(w.RequiredEmpty[j])
	})

	digest, err := ir.WitnessDigest(w.irBody())
	if err != nil {
		return Witness{}, fmt.Errorf("witness digest for module %s: %w", mod.ID, err)
	}
	w.Digest = digest
	return w, nil
}

// irBody returns the canonical form fed to the digest. Lists are already
// sorted by Generate, so the digest is position-order independent of the
// module's op ordering.
func (w Witness) irBody() ir.Object {
	placements := make(ir.Array, len(w.ExpectedPlacements))
	for i, pl := range w.ExpectedPlacements {
		placements[i] = ir.Object{
			"pos":     pl.Pos.IR(),
			"content": ir.String(string(pl.Content)),
		}
	}
	empties := make(ir.Array, len(w.RequiredEmpty))
	for i, p := range w.RequiredEmpty {
		empties[i] = p.IR()
	}
	return ir.Object{
		"module_id":           ir.String(w.ModuleID),
		"reference_corner":    w.ReferenceCorner.IR(),
		"facing":              ir.String(string(w.Facing)),
		"expected_placements": placements,
		"required_empty":      empties,
	}
}

// DeclaredPositions returns every position the witness is allowed to query,
// in deterministic order. Verification never touches anything else.
func (w Witness) DeclaredPositions() []world.Pos {
	out := make([]world.Pos, 0, len(w.ExpectedPlacements)+len(w.RequiredEmpty))
	for _, pl := range w.ExpectedPlacements {
		out = append(out, pl.Pos)
	}
	out = append(out, w.RequiredEmpty...)
	return out
}
