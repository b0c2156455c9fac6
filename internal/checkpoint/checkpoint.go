// Package checkpoint synthesizes and appends module-boundary checkpoints.
//
// A checkpoint is taken only at a verified module boundary. Its ID is
// content-addressed over the template digest and the progress it records,
// so replaying a boundary after a crash converges on the same record.
package checkpoint

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/mason/internal/invariant"
	"github.com/roach88/mason/internal/ir"
	"github.com/roach88/mason/internal/plan"
	"github.com/roach88/mason/internal/station"
	"github.com/roach88/mason/internal/store"
	"github.com/roach88/mason/internal/witness"
	"github.com/roach88/mason/internal/world"
)

// Manager takes checkpoints against one store and world oracle.
type Manager struct {
	store    *store.Store
	oracle   world.Oracle
	verifier *witness.Verifier
}

// NewManager creates a checkpoint manager.
func NewManager(s *store.Store, oracle world.Oracle) *Manager {
	return &Manager{store: s, oracle: oracle, verifier: witness.NewVerifier(oracle)}
}

// Take records the boundary after mod completed verification: cursor
// advances by one, the module joins the completed set, stations and a coarse
// inventory summary are snapshotted, the fixed invariant set runs against
// the boundary state, and the record is appended with the checkpoint-taken
// event in one transaction.
//
// deltas carries the witness diff observed at verification time (empty at a
// clean boundary, the residual diff when a repair was accepted with known
// open deltas).
func (m *Manager) Take(ctx context.Context, exec store.Execution, goalInstanceID string, mod plan.Module, w witness.Witness, deltas witness.Diff, seq int64) (store.Checkpoint, error) {
	cursor := exec.ModuleCursor + 1
	completed := appendOnce(exec.Completed, mod.ID)

	id, err := ir.CheckpointID(exec.TemplateDigest, cursor, completed)
	if err != nil {
		return store.Checkpoint{}, fmt.Errorf("checkpoint id: %w", err)
	}

	stations, err := m.store.ListStations(ctx, exec.ID)
	if err != nil {
		return store.Checkpoint{}, fmt.Errorf("snapshot stations: %w", err)
	}
	inventory, err := m.oracle.InventorySnapshot(ctx)
	if err != nil {
		return store.Checkpoint{}, fmt.Errorf("snapshot inventory: %w", err)
	}

	results, err := invariant.RunAll(ctx, m.oracle, m.checkers(exec, mod, w, stations))
	if err != nil {
		return store.Checkpoint{}, fmt.Errorf("boundary invariants: %w", err)
	}

	cp := store.Checkpoint{
		ID:               id,
		ExecutionID:      exec.ID,
		ModuleCursor:     cursor,
		Completed:        completed,
		StationSnapshot:  normalizeStations(stations),
		InvariantResults: results,
		OpenDeltas:       deltas,
		InventorySummary: inventory,
		SavedAtSeq:       seq,
	}
	if err := m.store.AppendCheckpoint(ctx, goalInstanceID, cp); err != nil {
		return store.Checkpoint{}, err
	}

	slog.Info("checkpoint taken",
		"execution_id", exec.ID,
		"checkpoint_id", id,
		"module_id", mod.ID,
		"module_cursor", cursor,
		"seq", seq)
	return cp, nil
}

// checkers builds the fixed invariant set for one boundary: declared
// openings clear, witness positions inside the footprint, every registered
// station kind still reachable, and the module witness satisfied.
func (m *Manager) checkers(exec store.Execution, mod plan.Module, w witness.Witness, stations []station.Entry) []invariant.Checker {
	openings := make([]world.Pos, len(mod.Openings))
	for i, offset := range mod.Openings {
		openings[i] = exec.Site.WorldPos(offset)
	}
	return []invariant.Checker{
		invariant.AccessClear{Openings: openings},
		invariant.FootprintRespected{Site: exec.Site, Positions: w.DeclaredPositions()},
		invariant.StationsReachable{Required: registeredKinds(stations), Entries: stations},
		invariant.WitnessSatisfied{Verifier: m.verifier, Witness: w},
	}
}

func registeredKinds(entries []station.Entry) []station.Kind {
	seen := make(map[station.Kind]bool, len(entries))
	var kinds []station.Kind
	for _, e := range entries {
		if !seen[e.Kind] {
			seen[e.Kind] = true
			kinds = append(kinds, e.Kind)
		}
	}
	return kinds
}

func appendOnce(completed []string, moduleID string) []string {
	for _, id := range completed {
		if id == moduleID {
			return completed
		}
	}
	out := make([]string, 0, len(completed)+1)
	out = append(out, completed...)
	return append(out, moduleID)
}

func normalizeStations(entries []station.Entry) []station.Entry {
	if entries == nil {
		return []station.Entry{}
	}
	return entries
}
