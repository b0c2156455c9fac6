// Package plan defines build plans: macro plans (ordered modules with
// dependency edges) and micro plans (the atomic operation list of one
// module). Plans are compiled from CUE template files and are immutable once
// compiled - a module is only ever superseded by a full or partial replan.
package plan

import (
	"fmt"

	"github.com/roach88/mason/internal/ir"
	"github.com/roach88/mason/internal/world"
)

// OpKind distinguishes atomic operation kinds.
type OpKind string

const (
	// OpPlace places Content at Offset.
	OpPlace OpKind = "place"
	// OpRemove clears whatever occupies Offset.
	OpRemove OpKind = "remove"
)

// Op is one atomic operation, the unit of checkpointing and resume.
// Offsets are north-relative to the module's reference corner; they are
// rotated and translated into world space at witness-generation time.
type Op struct {
	Kind    OpKind          `json:"kind"`
	Offset  world.Pos       `json:"offset"`
	Content world.ContentID `json:"content,omitempty"`
}

// IR returns the canonical object form of the op for digesting.
func (o Op) IR() ir.Object {
	body := ir.Object{
		"kind": ir.String(string(o.Kind)),
		"offset": ir.Object{
			"x": ir.Int(o.Offset.X),
			"y": ir.Int(o.Offset.Y),
			"z": ir.Int(o.Offset.Z),
		},
	}
	if o.Content != "" {
		body["content"] = ir.String(string(o.Content))
	}
	return body
}

// ID computes the content-addressed identity of the op at index within
// module moduleID. Index participation keeps repeated identical placements
// distinct.
func (o Op) ID(moduleID string, index int) (string, error) {
	return ir.OpID(moduleID, int64(index), o.IR())
}

// Module is one structural unit of a build. Immutable once compiled.
type Module struct {
	// ID is unique within the macro plan.
	ID string `json:"id"`
	// Seq is the module's position in macro-plan order.
	Seq int `json:"seq"`
	// Ops is the ordered atomic operation list (the micro plan).
	Ops []Op `json:"ops"`
	// DependsOn lists module IDs that must complete first.
	DependsOn []string `json:"depends_on,omitempty"`
	// Openings are offsets that must remain empty when the module is done
	// (doorways, corridors). They become the witness's required-empty set.
	Openings []world.Pos `json:"openings,omitempty"`
}

// IR returns the canonical object form of the module for digesting.
func (m Module) IR() ir.Object {
	ops := make(ir.Array, len(m.Ops))
	for i, op := range m.Ops {
		ops[i] = op.IR()
	}
	deps := make(ir.Array, len(m.DependsOn))
	for i, d := range m.DependsOn {
		deps[i] = ir.String(d)
	}
	openings := make(ir.Array, len(m.Openings))
	for i, p := range m.Openings {
		openings[i] = p.IR()
	}
	return ir.Object{
		"id":         ir.String(m.ID),
		"seq":        ir.Int(int64(m.Seq)),
		"ops":        ops,
		"depends_on": deps,
		"openings":   openings,
	}
}

// Macro is a compiled macro plan: ordered modules with dependency edges and
// a content-addressed template digest.
type Macro struct {
	Name           string   `json:"name"`
	TemplateDigest string   `json:"template_digest"`
	Modules        []Module `json:"modules"`
}

// Module returns the module with the given ID, or nil.
func (m *Macro) Module(id string) *Module {
	for i := range m.Modules {
		if m.Modules[i].ID == id {
			return &m.Modules[i]
		}
	}
	return nil
}

// ModuleAt returns the module at the given cursor position, or nil when the
// cursor is past the end of the plan.
func (m *Macro) ModuleAt(cursor int) *Module {
	if cursor < 0 || cursor >= len(m.Modules) {
		return nil
	}
	return &m.Modules[cursor]
}

// Ready returns the modules whose dependencies are all in completed, in
// macro-plan order, excluding modules already completed. The executor always
// takes the first ready module, so execution order is deterministic.
func (m *Macro) Ready(completed map[string]bool) []Module {
	var ready []Module
	for _, mod := range m.Modules {
		if completed[mod.ID] {
			continue
		}
		ok := true
		for _, dep := range mod.DependsOn {
			if !completed[dep] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, mod)
		}
	}
	return ready
}

// validateDependencies checks every dependency edge references a known
// module and that the dependency graph is acyclic. Unlike rule engines where
// cycles may be intentional, a cyclic build plan can never make progress, so
// cycles are hard errors here.
func validateDependencies(modules []Module) error {
	byID := make(map[string]*Module, len(modules))
	for i := range modules {
		if _, dup := byID[modules[i].ID]; dup {
			return fmt.Errorf("duplicate module ID %q", modules[i].ID)
		}
		byID[modules[i].ID] = &modules[i]
	}

	for _, mod := range modules {
		for _, dep := range mod.DependsOn {
			if _, ok := byID[dep]; !ok {
				return fmt.Errorf("module %q depends on unknown module %q", mod.ID, dep)
			}
		}
	}

	// Three-color DFS for cycle detection with path reporting.
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(modules))

	var visit func(id string, path []string) error
	visit = func(id string, path []string) error {
		color[id] = gray
		path = append(path, id)
		for _, dep := range byID[id].DependsOn {
			switch color[dep] {
			case gray:
				return fmt.Errorf("dependency cycle: %v -> %s", path, dep)
			case white:
				if err := visit(dep, path); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}

	for _, mod := range modules {
		if color[mod.ID] == white {
			if err := visit(mod.ID, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// computeTemplateDigest digests the full module list in plan order.
func computeTemplateDigest(modules []Module) (string, error) {
	list := make(ir.Array, len(modules))
	for i, mod := range modules {
		list[i] = mod.IR()
	}
	return ir.TemplateDigest(list)
}
