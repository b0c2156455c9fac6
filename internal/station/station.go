// Package station maintains the capability-station registry: placements
// like crafting or smelting stations that grant capabilities, tracked
// separately from structural placements of the same block type.
//
// Registry entries are scoped to one execution and reuse-preferred: an
// existing reachable station of the right kind always wins over placing a
// new one.
package station

import (
	"context"
	"fmt"

	"github.com/roach88/mason/internal/world"
)

// Kind is a capability-station kind.
type Kind string

const (
	KindCrafting Kind = "crafting"
	KindSmelting Kind = "smelting"
	KindStorage  Kind = "storage"
)

// Content returns the block content that realizes the station kind.
func (k Kind) Content() (world.ContentID, error) {
	switch k {
	case KindCrafting:
		return "crafting_table", nil
	case KindSmelting:
		return "furnace", nil
	case KindStorage:
		return "chest", nil
	default:
		return world.Empty, fmt.Errorf("unknown station kind %q", k)
	}
}

// Provenance records how a station entered the registry.
type Provenance string

const (
	// ProvenancePlaced means mason placed the station itself.
	ProvenancePlaced Provenance = "placed"
	// ProvenanceDiscovered means the station pre-existed and was adopted.
	ProvenanceDiscovered Provenance = "discovered"
)

// Entry is one registered capability station.
type Entry struct {
	Kind            Kind       `json:"kind"`
	Pos             world.Pos  `json:"pos"`
	Reachable       bool       `json:"reachable"`
	LastVerifiedSeq int64      `json:"last_verified_seq"`
	Provenance      Provenance `json:"provenance"`
}

// reachRadius bounds the distance check for "station is usable from the
// site". A Chebyshev probe, never pathfinding.
const reachRadius = 32

// Validate re-checks each entry's position and kind against the oracle and
// returns the updated entries plus the kinds needing re-establishment.
// An unreachable or missing station is never a module-level failure - the
// caller schedules capability re-establishment instead.
func Validate(ctx context.Context, oracle world.Oracle, site world.Site, entries []Entry, seq int64) ([]Entry, []Kind, error) {
	updated := make([]Entry, 0, len(entries))
	var missing []Kind

	for _, e := range entries {
		want, err := e.Kind.Content()
		if err != nil {
			return nil, nil, fmt.Errorf("validate stations: %w", err)
		}

		actual, err := oracle.BlockAt(ctx, e.Pos)
		if err != nil {
			return nil, nil, fmt.Errorf("validate station %s at %s: %w", e.Kind, e.Pos, err)
		}

		e.Reachable = actual == want && e.Pos.ChebyshevDistance(site.Position) <= reachRadius
		e.LastVerifiedSeq = seq
		if !e.Reachable {
			missing = append(missing, e.Kind)
		}
		updated = append(updated, e)
	}

	return updated, missing, nil
}

// Resolve returns a reachable entry of the given kind, preferring the most
// recently verified one. Returns nil when none is usable - only then should
// the caller consider placing a new station.
func Resolve(entries []Entry, kind Kind) *Entry {
	var best *Entry
	for i := range entries {
		e := &entries[i]
		if e.Kind != kind || !e.Reachable {
			continue
		}
		if best == nil || e.LastVerifiedSeq > best.LastVerifiedSeq {
			best = e
		}
	}
	return best
}
