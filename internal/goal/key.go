// Package goal implements two-phase goal identity: provisional Phase A
// keys over intent parameters and a coarse spatial cell, anchored Phase B
// keys over the committed site, and the resolver that collapses duplicate
// intents onto existing executions.
package goal

import (
	"github.com/roach88/mason/internal/ir"
	"github.com/roach88/mason/internal/world"
)

// coarseCell is the edge length of the Phase A spatial grid. Requests for
// the same goal type from anywhere inside one cell collapse to one key,
// which is what makes "build a shelter near here" idempotent before a site
// exists.
const coarseCell = 64

// KeyA computes the provisional Phase A key: goal type, canonical intent
// params, and the requester's coarse grid cell.
func KeyA(goalType string, params ir.Object, requester world.Pos) (string, error) {
	return ir.GoalKeyA(goalType, params, floorDiv(requester.X, coarseCell), floorDiv(requester.Z, coarseCell))
}

// KeyB computes the anchored Phase B key from the committed site anchor.
// templateDigest participates for template-following goal types and is
// empty for open-ended ones, so an open-ended goal's identity survives a
// template swap.
func KeyB(goalType string, anchor world.Pos, templateDigest string) (string, error) {
	return ir.GoalKeyB(goalType, anchor.IR(), templateDigest)
}

// floorDiv divides rounding toward negative infinity, so cells tile the
// negative quadrants the same way they tile the positive ones.
func floorDiv(v, cell int64) int64 {
	q := v / cell
	if v%cell != 0 && (v < 0) != (cell < 0) {
		q--
	}
	return q
}
