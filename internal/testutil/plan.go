package testutil

import (
	"fmt"

	"github.com/roach88/mason/internal/plan"
	"github.com/roach88/mason/internal/world"
)

// DefaultSite is a north-facing site at the origin with a generous
// footprint. Most scenarios only need a stable anchor.
func DefaultSite() world.Site {
	return world.Site{
		Position:        world.Pos{X: 0, Y: 64, Z: 0},
		Facing:          world.FacingNorth,
		ReferenceCorner: world.Pos{X: 0, Y: 64, Z: 0},
		Footprint: world.Bounds{
			Min: world.Pos{X: -16, Y: 48, Z: -16},
			Max: world.Pos{X: 16, Y: 96, Z: 16},
		},
	}
}

// Row builds a module of n stone placements in a row along X at height 0.
func Row(id string, n int, deps ...string) plan.Module {
	ops := make([]plan.Op, n)
	for i := range ops {
		ops[i] = plan.Op{
			Kind:    plan.OpPlace,
			Offset:  world.Pos{X: int64(i), Y: 0, Z: 0},
			Content: "stone",
		}
	}
	return plan.Module{ID: id, Ops: ops, DependsOn: deps}
}

// Chain builds a macro plan where each module depends on the previous one.
// Module IDs are "mod-1" ... "mod-n"; each has opsPerModule placements.
func Chain(n, opsPerModule int) *plan.Macro {
	macro := &plan.Macro{Name: "chain"}
	for i := 0; i < n; i++ {
		var deps []string
		if i > 0 {
			deps = []string{macro.Modules[i-1].ID}
		}
		mod := Row(moduleID(i), opsPerModule, deps...)
		mod.Seq = i
		// Separate rows along Z so modules never overlap.
		for j := range mod.Ops {
			mod.Ops[j].Offset.Z = int64(i)
		}
		macro.Modules = append(macro.Modules, mod)
	}
	macro.TemplateDigest = "tpl-" + macro.Name
	return macro
}

func moduleID(i int) string {
	return fmt.Sprintf("mod-%d", i+1)
}

// ApplyModule writes the net effect of a module's ops into the oracle,
// simulating a fully built module.
func ApplyModule(o *FakeOracle, mod plan.Module, site world.Site) {
	final := make(map[world.Pos]world.ContentID)
	for _, op := range mod.Ops {
		p := site.WorldPos(op.Offset)
		if op.Kind == plan.OpPlace {
			final[p] = op.Content
		} else {
			final[p] = world.Empty
		}
	}
	for p, c := range final {
		o.Set(p, c)
	}
}
